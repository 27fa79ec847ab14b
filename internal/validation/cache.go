// Package validation reconciles local product snapshots against the
// authoritative catalog. It provides a TTL cache of validation
// results, a priority queue of products awaiting a remote check, a
// batch runner, and debounced entry points that coalesce rapid
// repeated requests.
package validation

import (
	"sync"
	"time"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/metrics"
)

const (
	// SuccessTTL is how long a successful validation stays
	// authoritative.
	SuccessTTL = 5 * time.Minute
	// FailureTTL keeps a failed attempt cached briefly so repeated
	// calls do not hammer the network.
	FailureTTL = time.Minute
	// StalenessWindow is the age past which a cached product is worth
	// re-validating even without explicit queueing.
	StalenessWindow = 10 * time.Minute
)

// Cache holds per-product validation results with lazy expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]domain.CachedValidation
	now     func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]domain.CachedValidation),
		now:     time.Now,
	}
}

// Get returns the unexpired entry for productID, or ok=false. An
// expired entry is evicted on read.
func (c *Cache) Get(productID string) (domain.CachedValidation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[productID]
	if !ok {
		metrics.ValidationCacheHits.WithLabelValues("miss").Inc()
		return domain.CachedValidation{}, false
	}
	if entry.Expired(c.now()) {
		delete(c.entries, productID)
		metrics.ValidationCacheHits.WithLabelValues("expired").Inc()
		return domain.CachedValidation{}, false
	}
	metrics.ValidationCacheHits.WithLabelValues("hit").Inc()
	return entry, true
}

// GetValid returns the cached product only when it was validated
// successfully and the entry is unexpired. This is the fast path:
// such a product is authoritative without a network call.
func (c *Cache) GetValid(productID string) (domain.Product, bool) {
	entry, ok := c.Get(productID)
	if !ok || !entry.IsValid {
		return domain.Product{}, false
	}
	return entry.Product, true
}

// Set stores a validation result. TTL 0 selects the default for the
// outcome (5 minutes success, 1 minute failure).
func (c *Cache) Set(productID string, isValid bool, product domain.Product, ttl time.Duration) {
	if ttl <= 0 {
		if isValid {
			ttl = SuccessTTL
		} else {
			ttl = FailureTTL
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[productID] = domain.CachedValidation{
		IsValid:   isValid,
		Product:   product,
		Timestamp: c.now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
}

// Evict removes the entry for productID.
func (c *Cache) Evict(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
}

// Age returns how long ago productID was cached, and whether an
// entry exists at all. Used by the background worker's staleness
// sampling.
func (c *Cache) Age(productID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[productID]
	if !ok {
		return 0, false
	}
	return c.now().Sub(time.UnixMilli(entry.Timestamp)), true
}

// Snapshot copies the cache contents for persistence alongside the
// cart payload.
func (c *Cache) Snapshot() map[string]domain.CachedValidation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.CachedValidation, len(c.entries))
	for id, entry := range c.entries {
		out[id] = entry
	}
	return out
}

// Restore replaces the cache contents from a persisted payload.
// Already-expired entries are skipped.
func (c *Cache) Restore(entries map[string]domain.CachedValidation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries = make(map[string]domain.CachedValidation, len(entries))
	for id, entry := range entries {
		if entry.Expired(now) {
			continue
		}
		c.entries[id] = entry
	}
}
