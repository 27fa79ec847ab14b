package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// blockingReconciler counts passes and can hold a pass open until
// released.
type blockingReconciler struct {
	mu      sync.Mutex
	passes  int
	release chan struct{}
}

func (r *blockingReconciler) BackgroundReconcile(ctx context.Context) int {
	r.mu.Lock()
	r.passes++
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	return 1
}

func (r *blockingReconciler) passCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

func TestWorker_TickRunsOnePass(t *testing.T) {
	rec := &blockingReconciler{}
	w := New(rec, time.Hour, testLogger())

	w.Tick(context.Background())
	assert.Equal(t, 1, rec.passCount())
}

func TestWorker_OverlappingTicksAreDropped(t *testing.T) {
	rec := &blockingReconciler{release: make(chan struct{})}
	w := New(rec, time.Hour, testLogger())

	started := make(chan struct{})
	go func() {
		close(started)
		w.Tick(context.Background())
	}()
	<-started

	// Give the first pass time to grab the in-flight guard.
	assert.Eventually(t, func() bool { return rec.passCount() == 1 }, time.Second, 5*time.Millisecond)

	// A second tick while the first is still running is a no-op.
	w.Tick(context.Background())
	assert.Equal(t, 1, rec.passCount())

	close(rec.release)

	// After the first pass finishes, ticks run again.
	assert.Eventually(t, func() bool {
		w.Tick(context.Background())
		return rec.passCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_StartStop(t *testing.T) {
	rec := &blockingReconciler{}
	w := New(rec, 10*time.Millisecond, testLogger())

	w.Start(context.Background())
	assert.Eventually(t, func() bool { return rec.passCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	after := rec.passCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, rec.passCount())
}

func TestWorker_RecoversFromPanic(t *testing.T) {
	w := New(panicReconciler{}, time.Hour, testLogger())

	assert.NotPanics(t, func() { w.Tick(context.Background()) })

	// The in-flight guard was released despite the panic.
	assert.False(t, w.inFlight.Load())
}

type panicReconciler struct{}

func (panicReconciler) BackgroundReconcile(ctx context.Context) int {
	panic("boom")
}
