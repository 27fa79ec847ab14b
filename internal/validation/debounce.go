package validation

import (
	"sync"
	"time"
)

const (
	// AddDebounce is the coalescing window for add-to-cart paths that
	// need validation promptly.
	AddDebounce = 100 * time.Millisecond
	// UpdateDebounce is the wider window for quantity-update paths.
	UpdateDebounce = 500 * time.Millisecond
)

// Debouncer coalesces rapid validation requests into one batch. A
// later request within the window supersedes the pending timer, so a
// burst of calls produces a single flush containing every requested
// product id.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	flush   func(productIDs []string)
}

// NewDebouncer builds a debouncer that delivers coalesced batches to
// flush.
func NewDebouncer(flush func(productIDs []string)) *Debouncer {
	return &Debouncer{
		pending: make(map[string]struct{}),
		flush:   flush,
	}
}

// Request schedules productID for validation after delay. A delay of
// zero flushes synchronously, which tests and the security gate's
// mirror path rely on.
func (d *Debouncer) Request(productID string, delay time.Duration) {
	if delay <= 0 {
		d.mu.Lock()
		d.pending[productID] = struct{}{}
		batch := d.takeLocked()
		d.mu.Unlock()
		d.flush(batch)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[productID] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	batch := d.takeLocked()
	d.mu.Unlock()

	if len(batch) > 0 {
		d.flush(batch)
	}
}

// takeLocked drains the pending set. Callers hold d.mu.
func (d *Debouncer) takeLocked() []string {
	batch := make([]string, 0, len(d.pending))
	for id := range d.pending {
		batch = append(batch, id)
	}
	d.pending = make(map[string]struct{})
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return batch
}

// Stop cancels any pending flush.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}
