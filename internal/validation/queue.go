package validation

import (
	"sort"
	"sync"
	"time"

	"github.com/moldovadirect/cart-engine/internal/metrics"
)

// Priority orders queued products. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// MaxRetries is the per-product retry ceiling before a queued entry
// is dropped as a hard failure.
const MaxRetries = 3

type queueEntry struct {
	priority   Priority
	enqueuedAt time.Time
	retryCount int
}

// Queue tracks products whose cached validation is stale or missing
// and a remote check is pending. One entry per product id.
type Queue struct {
	mu      sync.Mutex
	entries map[string]queueEntry
	now     func() time.Time
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make(map[string]queueEntry),
		now:     time.Now,
	}
}

// Enqueue adds productID at the given priority. Re-enqueueing an
// existing product raises its priority if the new one is higher but
// keeps the original enqueue time and retry count.
func (q *Queue) Enqueue(productID string, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.entries[productID]; ok {
		if priority > existing.priority {
			existing.priority = priority
			q.entries[productID] = existing
		}
		return
	}
	q.entries[productID] = queueEntry{
		priority:   priority,
		enqueuedAt: q.now(),
	}
	metrics.ValidationQueueDepth.Set(float64(len(q.entries)))
}

// Dequeue removes productID from the queue.
func (q *Queue) Dequeue(productID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, productID)
	metrics.ValidationQueueDepth.Set(float64(len(q.entries)))
}

// Contains reports whether productID is queued.
func (q *Queue) Contains(productID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[productID]
	return ok
}

// Len returns the number of queued products.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainByPriority returns all queued product ids ordered by priority
// descending, then enqueue time ascending (oldest first within a
// tier). Entries stay queued until explicitly dequeued by the
// validation outcome.
func (q *Queue) DrainByPriority() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	type pair struct {
		id    string
		entry queueEntry
	}
	pairs := make([]pair, 0, len(q.entries))
	for id, entry := range q.entries {
		pairs = append(pairs, pair{id, entry})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].entry.priority != pairs[j].entry.priority {
			return pairs[i].entry.priority > pairs[j].entry.priority
		}
		return pairs[i].entry.enqueuedAt.Before(pairs[j].entry.enqueuedAt)
	})

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// IncrementRetry bumps the retry count for productID and reports
// whether the retry ceiling has been hit. When it has, the entry is
// removed.
func (q *Queue) IncrementRetry(productID string) (exhausted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[productID]
	if !ok {
		return false
	}
	entry.retryCount++
	if entry.retryCount >= MaxRetries {
		delete(q.entries, productID)
		metrics.ValidationQueueDepth.Set(float64(len(q.entries)))
		return true
	}
	q.entries[productID] = entry
	return false
}
