package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	badger "github.com/dgraph-io/badger/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "moldova-direct:cart"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// flakyTier wraps another tier and can be switched into a failing
// state to exercise fallback behavior. It reports itself as the disk
// tier so adapter kind transitions are observable.
type flakyTier struct {
	Tier
	down bool
}

func (f *flakyTier) Kind() Kind {
	return KindDisk
}

func (f *flakyTier) Probe(ctx context.Context) error {
	if f.down {
		return errors.New("tier down")
	}
	return f.Tier.Probe(ctx)
}

func (f *flakyTier) Write(ctx context.Context, key string, data []byte) error {
	if f.down {
		return errors.New("tier down")
	}
	return f.Tier.Write(ctx, key, data)
}

func setupRedisTier(t *testing.T) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTier(client, 24*time.Hour), mr
}

func setupBadgerTier(t *testing.T) *BadgerTier {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerTier(db)
}

// ---------------------------------------------------------------------------
// Individual tiers
// ---------------------------------------------------------------------------

func TestRedisTier_ReadWriteRemove(t *testing.T) {
	tier, mr := setupRedisTier(t)
	ctx := context.Background()

	_, err := tier.Read(ctx, testKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, tier.Write(ctx, testKey, []byte(`{"items":[]}`)))
	assert.True(t, mr.Exists(testKey))

	data, err := tier.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(data))

	ttl := mr.TTL(testKey)
	assert.True(t, ttl > 23*time.Hour, "expected TTL > 23h, got %v", ttl)

	require.NoError(t, tier.Remove(ctx, testKey))
	assert.False(t, mr.Exists(testKey))
}

func TestRedisTier_ProbeDown(t *testing.T) {
	tier, mr := setupRedisTier(t)
	require.NoError(t, tier.Probe(context.Background()))

	mr.Close()
	assert.Error(t, tier.Probe(context.Background()))
}

func TestRedisTier_ProbeWritesAndCleansSentinel(t *testing.T) {
	tier, mr := setupRedisTier(t)

	require.NoError(t, tier.Probe(context.Background()))
	assert.False(t, mr.Exists(probeKey))
}

func TestBadgerTier_ProbeWritesAndCleansSentinel(t *testing.T) {
	tier := setupBadgerTier(t)

	require.NoError(t, tier.Probe(context.Background()))
	_, err := tier.Read(context.Background(), probeKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBadgerTier_ReadWriteRemove(t *testing.T) {
	tier := setupBadgerTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Probe(ctx))

	_, err := tier.Read(ctx, testKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, tier.Write(ctx, testKey, []byte("payload")))

	data, err := tier.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, tier.Remove(ctx, testKey))
	_, err = tier.Read(ctx, testKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryTier_IsolatesStoredBytes(t *testing.T) {
	tier := NewMemoryTier()
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, tier.Write(ctx, testKey, src))
	src[0] = 'X'

	data, err := tier.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// Mutating the returned slice must not affect the stored value.
	data[0] = 'Y'
	again, err := tier.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

func TestAdapter_DetectPrefersFirstHealthyTier(t *testing.T) {
	redisTier, _ := setupRedisTier(t)
	mem := NewMemoryTier()

	adapter, err := NewAdapter(testLogger(), []Tier{redisTier, mem})
	require.NoError(t, err)

	kind := adapter.Detect(context.Background())
	assert.Equal(t, KindRedis, kind)
	assert.Equal(t, KindRedis, adapter.Kind())
}

func TestAdapter_DetectSkipsUnavailableTier(t *testing.T) {
	redisTier, mr := setupRedisTier(t)
	mr.Close()
	mem := NewMemoryTier()

	adapter, err := NewAdapter(testLogger(), []Tier{redisTier, mem})
	require.NoError(t, err)

	kind := adapter.Detect(context.Background())
	assert.Equal(t, KindMemory, kind)
}

func TestAdapter_WriteFallsBackAndNotifies(t *testing.T) {
	flaky := &flakyTier{Tier: NewMemoryTier()}
	mem := NewMemoryTier()

	var from, to Kind
	adapter, err := NewAdapter(testLogger(), []Tier{flaky, mem},
		WithTierChangeFunc(func(f, t Kind) { from, to = f, t }))
	require.NoError(t, err)
	adapter.Detect(context.Background())

	ctx := context.Background()
	require.NoError(t, adapter.Write(ctx, testKey, []byte("v1")))

	flaky.down = true
	require.NoError(t, adapter.Write(ctx, testKey, []byte("v2")))

	// The write landed on the fallback tier and the callback fired.
	assert.Equal(t, KindMemory, adapter.Kind())
	assert.Equal(t, KindDisk, from)
	assert.Equal(t, KindMemory, to)

	data, err := mem.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestAdapter_WriteFallbackAcrossKinds(t *testing.T) {
	redisTier, mr := setupRedisTier(t)
	mem := NewMemoryTier()

	var changes []Kind
	adapter, err := NewAdapter(testLogger(), []Tier{redisTier, mem},
		WithTierChangeFunc(func(_, to Kind) { changes = append(changes, to) }))
	require.NoError(t, err)
	adapter.Detect(context.Background())
	require.Equal(t, KindRedis, adapter.Kind())

	mr.Close()
	require.NoError(t, adapter.Write(context.Background(), testKey, []byte("v")))
	assert.Equal(t, KindMemory, adapter.Kind())
	assert.Equal(t, []Kind{KindRedis, KindMemory}, changes)
}

func TestAdapter_ReadNotFound(t *testing.T) {
	adapter, err := NewAdapter(testLogger(), []Tier{NewMemoryTier()})
	require.NoError(t, err)
	adapter.Detect(context.Background())

	_, err = adapter.Read(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAdapter_TryPromoteMigratesValue(t *testing.T) {
	flaky := &flakyTier{Tier: NewMemoryTier(), down: true}
	mem := NewMemoryTier()

	adapter, err := NewAdapter(testLogger(), []Tier{flaky, mem})
	require.NoError(t, err)
	adapter.Detect(context.Background())
	require.Equal(t, KindMemory, adapter.Kind())

	ctx := context.Background()
	payload := []byte(`{"items":[],"sessionId":"cart_1_abc123","updatedAt":"2026-08-01T12:00:00Z","storageType":"memory","validationCache":{},"backgroundValidationEnabled":true,"savedForLater":[],"recommendations":[]}`)
	require.NoError(t, adapter.Write(ctx, testKey, payload))

	// Still down: no promotion.
	assert.False(t, adapter.TryPromote(ctx, testKey))

	flaky.down = false
	assert.True(t, adapter.TryPromote(ctx, testKey))
	assert.Equal(t, KindDisk, adapter.Kind())

	data, err := flaky.Read(ctx, testKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessionId":"cart_1_abc123"`)

	// Migration leaves no copy behind on the source tier.
	_, err = mem.Read(ctx, testKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAdapter_TryPromoteRepairsCorruptedValue(t *testing.T) {
	flaky := &flakyTier{Tier: NewMemoryTier(), down: true}
	mem := NewMemoryTier()

	adapter, err := NewAdapter(testLogger(), []Tier{flaky, mem})
	require.NoError(t, err)
	adapter.Detect(context.Background())

	ctx := context.Background()
	require.NoError(t, adapter.Write(ctx, testKey, []byte("not even json")))

	flaky.down = false
	require.True(t, adapter.TryPromote(ctx, testKey))

	data, err := flaky.Read(ctx, testKey)
	require.NoError(t, err)

	var doc struct {
		Items     []any  `json:"items"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Items)
	assert.NotEmpty(t, doc.SessionID)
}

func TestAdapter_RemoveMissingKeyIsNoError(t *testing.T) {
	adapter, err := NewAdapter(testLogger(), []Tier{NewMemoryTier()})
	require.NoError(t, err)
	adapter.Detect(context.Background())

	assert.NoError(t, adapter.Remove(context.Background(), "absent"))
}
