// Package storage provides the tiered persistence adapter for cart
// payloads. Tiers are probed in preference order (redis, local disk,
// in-process memory) and the adapter transparently falls back to the
// next tier when the active one stops accepting writes, migrating the
// current value so the cart survives the switch.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/moldovadirect/cart-engine/internal/cartdata"
)

// Kind identifies a storage tier.
type Kind string

const (
	KindRedis  Kind = "redis"
	KindDisk   Kind = "disk"
	KindMemory Kind = "memory"
	KindNone   Kind = "none"
)

// ErrKeyNotFound is returned by Tier.Read when the key has no value.
var ErrKeyNotFound = errors.New("storage: key not found")

// probeKey is the sentinel key tiers write and remove to prove they
// accept writes, not just connections.
const probeKey = "storage:probe"

// Tier is a single storage backend. Implementations must be safe for
// concurrent use.
type Tier interface {
	Kind() Kind
	// Probe reports whether the tier is currently usable. It must be
	// cheap enough to call on every fallback decision.
	Probe(ctx context.Context) error
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
}

// TierChangeFunc is invoked after the adapter switches active tiers.
type TierChangeFunc func(from, to Kind)

// Adapter selects the best available tier and keeps cart persistence
// working across tier failures.
type Adapter struct {
	mu     sync.Mutex
	tiers  []Tier
	active int
	log    *slog.Logger

	onTierChange TierChangeFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTierChangeFunc registers a callback fired on every tier switch,
// including the initial detection.
func WithTierChangeFunc(fn TierChangeFunc) Option {
	return func(a *Adapter) { a.onTierChange = fn }
}

// NewAdapter builds an adapter over tiers in preference order. The
// last tier should be the in-memory tier so writes never fail
// completely.
func NewAdapter(log *slog.Logger, tiers []Tier, opts ...Option) (*Adapter, error) {
	if len(tiers) == 0 {
		return nil, errors.New("storage: at least one tier required")
	}
	a := &Adapter{
		tiers:  tiers,
		active: -1,
		log:    log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Detect probes tiers in order and activates the first healthy one.
// It is called once at startup; later failures are handled by the
// write path.
func (a *Adapter) Detect(ctx context.Context) Kind {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, tier := range a.tiers {
		if err := tier.Probe(ctx); err != nil {
			a.log.Warn("storage tier unavailable",
				slog.String("tier", string(tier.Kind())),
				slog.String("error", err.Error()))
			continue
		}
		a.setActive(i)
		return tier.Kind()
	}

	// No tier probed healthy. Fall back to the last tier anyway so
	// the engine stays operational for the session.
	a.setActive(len(a.tiers) - 1)
	return a.tiers[a.active].Kind()
}

// Kind returns the currently active tier kind.
func (a *Adapter) Kind() Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active < 0 {
		return KindNone
	}
	return a.tiers[a.active].Kind()
}

// Read fetches the value for key from the active tier.
func (a *Adapter) Read(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	tier := a.current()
	a.mu.Unlock()

	data, err := tier.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s read %q: %w", tier.Kind(), key, err)
	}
	return data, nil
}

// Write stores data under key on the active tier. When the write
// fails the adapter demotes to the next healthy tier, carries the
// value over, and retries there.
func (a *Adapter) Write(ctx context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		tier := a.current()
		err := tier.Write(ctx, key, data)
		if err == nil {
			return nil
		}

		a.log.Warn("storage write failed, demoting tier",
			slog.String("tier", string(tier.Kind())),
			slog.String("error", err.Error()))

		if a.active >= len(a.tiers)-1 {
			return fmt.Errorf("%s write %q: %w", tier.Kind(), key, err)
		}
		a.setActive(a.active + 1)
	}
}

// Remove deletes key from the active tier. A missing key is not an
// error.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	tier := a.current()
	a.mu.Unlock()

	if err := tier.Remove(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("%s remove %q: %w", tier.Kind(), key, err)
	}
	return nil
}

// TryPromote re-probes tiers preferred over the active one and, when
// one has recovered, migrates the current value up and switches to
// it. The migrated payload goes through a repair pass first so a
// corrupted value on the lower tier never poisons the recovered one.
// Returns true on a promotion.
func (a *Adapter) TryPromote(ctx context.Context, key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active <= 0 {
		return false
	}

	for i := 0; i < a.active; i++ {
		if err := a.tiers[i].Probe(ctx); err != nil {
			continue
		}

		source := a.current()
		data, err := source.Read(ctx, key)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			a.log.Warn("tier promotion read failed",
				slog.String("tier", string(source.Kind())),
				slog.String("error", err.Error()))
			return false
		}
		if data != nil {
			migrated, err := repairPayload(data)
			if err != nil {
				a.log.Warn("tier promotion repair failed",
					slog.String("error", err.Error()))
				return false
			}
			if err := a.tiers[i].Write(ctx, key, migrated); err != nil {
				a.log.Warn("tier promotion write failed",
					slog.String("tier", string(a.tiers[i].Kind())),
					slog.String("error", err.Error()))
				return false
			}
			if err := source.Remove(ctx, key); err != nil {
				a.log.Warn("tier promotion source cleanup failed",
					slog.String("tier", string(source.Kind())),
					slog.String("error", err.Error()))
			}
		}
		a.setActive(i)
		return true
	}
	return false
}

// repairPayload runs migrating bytes through the cart data repair
// pass, so only a well-formed payload lands on the target tier.
func repairPayload(data []byte) ([]byte, error) {
	res := cartdata.Validate(data)
	return json.Marshal(res.Fixed)
}

func (a *Adapter) current() Tier {
	if a.active < 0 {
		a.active = len(a.tiers) - 1
	}
	return a.tiers[a.active]
}

// setActive switches the active tier index and fires the change
// callback. Callers hold a.mu.
func (a *Adapter) setActive(i int) {
	from := KindNone
	if a.active >= 0 {
		from = a.tiers[a.active].Kind()
	}
	a.active = i
	to := a.tiers[i].Kind()
	if from == to {
		return
	}

	a.log.Info("storage tier active",
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	if a.onTierChange != nil {
		a.onTierChange(from, to)
	}
}
