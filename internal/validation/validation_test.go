package validation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moldovadirect/cart-engine/internal/domain"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeClock drives the cache and queue clocks in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFetcher serves canned per-product responses.
type fakeFetcher struct {
	mu       sync.Mutex
	products map[string]domain.Product
	errs     map[string]error
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		products: make(map[string]domain.Product),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if p, ok := f.products[id]; ok {
		return &p, nil
	}
	return nil, apperrors.ProductUnavailable(id)
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCache_RoundTripAndLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache()
	cache.now = clock.Now

	p := domain.Product{ID: "p1", Name: "Wine", Price: 9.5, Stock: 4}
	cache.Set("p1", true, p, SuccessTTL)

	clock.Advance(4 * time.Minute)
	entry, ok := cache.Get("p1")
	require.True(t, ok)
	assert.True(t, entry.IsValid)
	assert.Equal(t, p, entry.Product)

	clock.Advance(2 * time.Minute)
	_, ok = cache.Get("p1")
	assert.False(t, ok)

	// The expired entry was evicted, so age lookups miss too.
	_, exists := cache.Age("p1")
	assert.False(t, exists)
}

func TestCache_DefaultTTLPerOutcome(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache()
	cache.now = clock.Now

	cache.Set("ok", true, domain.Product{ID: "ok"}, 0)
	cache.Set("bad", false, domain.Product{ID: "bad"}, 0)

	clock.Advance(90 * time.Second)

	_, ok := cache.Get("ok")
	assert.True(t, ok, "success entry should outlive 90s")
	_, ok = cache.Get("bad")
	assert.False(t, ok, "failure entry should expire after 1m")
}

func TestCache_GetValidIgnoresFailedEntries(t *testing.T) {
	cache := NewCache()
	cache.Set("p1", false, domain.Product{ID: "p1"}, FailureTTL)

	_, ok := cache.GetValid("p1")
	assert.False(t, ok)
}

func TestCache_SnapshotRestoreDropsExpired(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache()
	cache.now = clock.Now

	cache.Set("fresh", true, domain.Product{ID: "fresh"}, SuccessTTL)
	cache.Set("old", true, domain.Product{ID: "old"}, SuccessTTL)
	snap := cache.Snapshot()
	require.Len(t, snap, 2)

	// Make "old" expired in the snapshot before restoring.
	entry := snap["old"]
	entry.Timestamp = clock.Now().Add(-10 * time.Minute).UnixMilli()
	snap["old"] = entry

	restored := NewCache()
	restored.now = clock.Now
	restored.Restore(snap)

	_, ok := restored.Get("fresh")
	assert.True(t, ok)
	_, ok = restored.Get("old")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func TestQueue_DrainByPriorityOrdering(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue()
	q.now = clock.Now

	q.Enqueue("low-product", PriorityLow)
	clock.Advance(time.Second)
	q.Enqueue("high-product", PriorityHigh)
	clock.Advance(time.Second)
	q.Enqueue("medium-product", PriorityMedium)

	assert.Equal(t, []string{"high-product", "medium-product", "low-product"}, q.DrainByPriority())
}

func TestQueue_OldestFirstWithinPriority(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue()
	q.now = clock.Now

	q.Enqueue("first", PriorityMedium)
	clock.Advance(time.Second)
	q.Enqueue("second", PriorityMedium)
	clock.Advance(time.Second)
	q.Enqueue("third", PriorityMedium)

	assert.Equal(t, []string{"first", "second", "third"}, q.DrainByPriority())
}

func TestQueue_ReenqueueRaisesPriorityKeepsPosition(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue()
	q.now = clock.Now

	q.Enqueue("a", PriorityLow)
	clock.Advance(time.Second)
	q.Enqueue("b", PriorityHigh)
	clock.Advance(time.Second)
	q.Enqueue("a", PriorityHigh)

	// "a" gained priority but keeps its earlier enqueue time.
	assert.Equal(t, []string{"a", "b"}, q.DrainByPriority())

	// Downgrading is ignored.
	q.Enqueue("b", PriorityLow)
	assert.Equal(t, []string{"a", "b"}, q.DrainByPriority())
}

func TestQueue_RetryCeiling(t *testing.T) {
	q := NewQueue()
	q.Enqueue("p1", PriorityMedium)

	assert.False(t, q.IncrementRetry("p1"))
	assert.False(t, q.IncrementRetry("p1"))
	assert.True(t, q.IncrementRetry("p1"))
	assert.False(t, q.Contains("p1"))
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

func TestRunner_BatchValidate_AllSettled(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.products["good"] = domain.Product{ID: "good", Name: "Wine", Price: 5, Stock: 3}
	fetcher.errs["flaky"] = apperrors.Network(errors.New("connection reset"))

	cache := NewCache()
	queue := NewQueue()
	queue.Enqueue("good", PriorityHigh)
	queue.Enqueue("gone", PriorityHigh)
	queue.Enqueue("flaky", PriorityHigh)

	runner := NewRunner(fetcher, cache, queue, testLogger())
	outcomes := runner.BatchValidate(context.Background(), []string{"good", "gone", "flaky"})
	require.Len(t, outcomes, 3)

	byID := map[string]Outcome{}
	for _, o := range outcomes {
		byID[o.ProductID] = o
	}

	assert.Equal(t, StatusValid, byID["good"].Status)
	assert.Equal(t, 3, byID["good"].Product.Stock)
	assert.Equal(t, StatusGone, byID["gone"].Status)
	assert.Equal(t, StatusRetrying, byID["flaky"].Status)

	// Success and terminal outcomes dequeue; transient stays queued.
	assert.False(t, queue.Contains("good"))
	assert.False(t, queue.Contains("gone"))
	assert.True(t, queue.Contains("flaky"))

	// Success is cached as authoritative.
	p, ok := cache.GetValid("good")
	require.True(t, ok)
	assert.Equal(t, "Wine", p.Name)
}

func TestRunner_CacheHitSkipsNetwork(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache()
	queue := NewQueue()
	cache.Set("p1", true, domain.Product{ID: "p1", Name: "Wine", Price: 5, Stock: 3}, SuccessTTL)

	runner := NewRunner(fetcher, cache, queue, testLogger())
	outcomes := runner.BatchValidate(context.Background(), []string{"p1"})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusValid, outcomes[0].Status)
	assert.Zero(t, fetcher.callCount("p1"))
}

func TestRunner_FailureCachedBriefly(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["p1"] = apperrors.Network(errors.New("timeout"))

	cache := NewCache()
	queue := NewQueue()
	queue.Enqueue("p1", PriorityMedium)

	runner := NewRunner(fetcher, cache, queue, testLogger())
	runner.BatchValidate(context.Background(), []string{"p1"})

	entry, ok := cache.Get("p1")
	require.True(t, ok)
	assert.False(t, entry.IsValid)
	assert.Equal(t, FailureTTL.Milliseconds(), entry.TTL)

	// A second batch within the failure TTL does not hit the network.
	out := runner.BatchValidate(context.Background(), []string{"p1"})
	assert.Equal(t, StatusRetrying, out[0].Status)
	assert.Equal(t, 1, fetcher.callCount("p1"))
}

func TestRunner_RetriesExhaustedReportsFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["p1"] = apperrors.Network(errors.New("down"))

	cache := NewCache()
	queue := NewQueue()
	queue.Enqueue("p1", PriorityMedium)
	runner := NewRunner(fetcher, cache, queue, testLogger())

	statuses := []Status{}
	for i := 0; i < 3; i++ {
		cache.Evict("p1")
		out := runner.BatchValidate(context.Background(), []string{"p1"})
		statuses = append(statuses, out[0].Status)
	}

	assert.Equal(t, []Status{StatusRetrying, StatusRetrying, StatusFailed}, statuses)
	assert.False(t, queue.Contains("p1"))
}

// ---------------------------------------------------------------------------
// Debouncer
// ---------------------------------------------------------------------------

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	done := make(chan struct{})

	d := NewDebouncer(func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
		close(done)
	})

	d.Request("p1", 30*time.Millisecond)
	d.Request("p2", 30*time.Millisecond)
	d.Request("p1", 30*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced flush never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []string{"p1", "p2"}, batches[0])
}

func TestDebouncer_ZeroDelayFlushesSynchronously(t *testing.T) {
	var batches [][]string
	d := NewDebouncer(func(ids []string) { batches = append(batches, ids) })

	d.Request("p1", 0)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"p1"}, batches[0])
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := NewDebouncer(func(ids []string) { fired <- struct{}{} })

	d.Request("p1", 20*time.Millisecond)
	d.Stop()

	select {
	case <-fired:
		t.Fatal("flush fired after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

func TestSummary_TracksDiffs(t *testing.T) {
	s := NewSummary()
	assert.False(t, s.HasChanges())

	p := domain.Product{ID: "p1", Name: "Wine"}
	s.RecordRemoved(p)
	s.RecordAdjusted(p, 5, 3)
	s.RecordPriceChange(p, 9.5, 10.0)

	assert.True(t, s.HasChanges())
	require.Len(t, s.Removed(), 1)
	require.Len(t, s.Adjusted(), 1)
	assert.Equal(t, 3, s.Adjusted()[0].NewQuantity)
	require.Len(t, s.PriceChanged(), 1)
	assert.Equal(t, 10.0, s.PriceChanged()[0].NewPrice)

	s.Reset()
	assert.False(t, s.HasChanges())
}
