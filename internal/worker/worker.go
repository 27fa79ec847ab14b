// Package worker runs the periodic background reconciliation that
// refreshes stale product validations without blocking user
// operations.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often a reconciliation pass is attempted.
const DefaultInterval = 30 * time.Second

// Reconciler is the single pass the worker drives, implemented by
// the cart ledger.
type Reconciler interface {
	BackgroundReconcile(ctx context.Context) int
}

// Worker ticks at a fixed interval and runs one reconciliation pass
// per tick. A single in-flight guard makes overlapping passes
// impossible: a tick that arrives while a pass is still running is
// dropped.
type Worker struct {
	reconciler Reconciler
	interval   time.Duration
	log        *slog.Logger

	inFlight atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
}

// New builds a worker over reconciler. A non-positive interval falls
// back to the default.
func New(reconciler Reconciler, interval time.Duration, log *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		reconciler: reconciler,
		interval:   interval,
		log:        log,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately; Stop shuts
// the loop down.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass unless another is already in flight. Failures
// are logged, never surfaced to the user.
func (w *Worker) Tick(ctx context.Context) {
	if !w.inFlight.CompareAndSwap(false, true) {
		w.log.Debug("reconciliation pass already in flight, skipping tick")
		return
	}
	defer w.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("background reconciliation panicked",
				slog.Any("panic", r))
		}
	}()

	validated := w.reconciler.BackgroundReconcile(ctx)
	if validated > 0 {
		w.log.Debug("background reconciliation pass complete",
			slog.Int("validated", validated))
	}
}

// Stop terminates the tick loop and waits for it to exit.
func (w *Worker) Stop() {
	close(w.done)
	<-w.stopped
}
