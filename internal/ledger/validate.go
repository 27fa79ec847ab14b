package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/metrics"
	"github.com/moldovadirect/cart-engine/internal/notify"
	"github.com/moldovadirect/cart-engine/internal/validation"
)

// Worker sampling limits for one background reconciliation pass.
const (
	maxQueuedPerPass = 3
	maxStalePerPass  = 2
)

// resolveTruth returns the best currently known product state: a
// valid unexpired cache entry wins; otherwise the provided snapshot
// is used optimistically and a debounced remote re-check is
// scheduled. The configured delay overrides the fallback when set.
// Callers hold l.mu.
func (l *Ledger) resolveTruth(snapshot domain.Product, fallback, configured time.Duration) domain.Product {
	if cached, ok := l.cache.GetValid(snapshot.ID); ok {
		return cached
	}

	delay := fallback
	if configured > 0 {
		delay = configured
	}

	l.queue.Enqueue(snapshot.ID, validation.PriorityHigh)
	l.debouncer.Request(snapshot.ID, delay)
	return snapshot
}

// flushValidation is the debouncer sink: it validates the coalesced
// batch and applies the outcomes as user-initiated feedback.
func (l *Ledger) flushValidation(productIDs []string) {
	l.validating.Store(true)
	defer l.validating.Store(false)

	ctx := context.Background()
	outcomes := l.runner.BatchValidate(ctx, productIDs)
	l.applyOutcomes(ctx, outcomes, false, false)
}

// ValidateCart re-validates every product currently in the cart and
// applies the results. A batch where at least one product hit a hard
// failure raises one partial-failure notification with a retry
// action.
func (l *Ledger) ValidateCart(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]string, len(l.state.Items))
	for i, line := range l.state.Items {
		ids[i] = line.Product.ID
	}
	for _, id := range ids {
		l.queue.Enqueue(id, validation.PriorityHigh)
	}
	l.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	l.validating.Store(true)
	defer l.validating.Store(false)

	l.summary.Reset()
	outcomes := l.runner.BatchValidate(ctx, ids)
	// Per-product failure toasts are deferred here; the aggregate
	// below covers them with a single retryable notification.
	l.applyOutcomes(ctx, outcomes, false, true)

	failed := 0
	for _, o := range outcomes {
		if o.Status == validation.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		l.notify(notify.Notification{
			Kind:    notify.Error,
			Title:   "Some items could not be verified",
			Message: fmt.Sprintf("%d of %d products failed validation.", failed, len(ids)),
			Action: &notify.Action{
				Label:   "Retry",
				Handler: func() { _ = l.ValidateCart(context.Background()) },
			},
		})
		return fmt.Errorf("cart validation: %d of %d products failed", failed, len(ids))
	}
	return nil
}

// applyOutcomes folds validation results back into the cart lines.
// Background passes suppress failure notifications, and deferFailures
// skips the per-product failure toast when the caller raises its own
// aggregate one. Catalog-driven changes (price moves, stock clamps,
// removals) always notify.
func (l *Ledger) applyOutcomes(ctx context.Context, outcomes []validation.Outcome, background, deferFailures bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mutated := false
	for _, outcome := range outcomes {
		switch outcome.Status {
		case validation.StatusValid:
			if l.applyFreshProduct(outcome.Product) {
				mutated = true
			}

		case validation.StatusGone:
			i := l.state.FindLineByProduct(outcome.ProductID)
			if i < 0 {
				continue
			}
			removed := l.state.Items[i]
			l.state.Items = append(l.state.Items[:i], l.state.Items[i+1:]...)
			delete(l.selection, removed.ID)
			l.summary.RecordRemoved(removed.Product)
			mutated = true
			l.notify(notify.Notification{
				Kind:    notify.Warning,
				Title:   "Item no longer available",
				Message: fmt.Sprintf("%s was removed from your cart.", removed.Product.Name),
			})

		case validation.StatusFailed:
			if background {
				l.log.Warn("background validation hard failure",
					slog.String("product_id", outcome.ProductID),
					slog.String("error", outcome.Err.Error()))
				continue
			}
			if deferFailures {
				continue
			}
			l.notify(notify.Notification{
				Kind:    notify.Error,
				Title:   "Could not verify item",
				Message: fmt.Sprintf("Product %s could not be validated.", outcome.ProductID),
			})

		case validation.StatusRetrying:
			// Stays queued; nothing to fold in yet.
		}
	}

	if mutated {
		l.persist(ctx)
	}
}

// applyFreshProduct folds an authoritative catalog snapshot into the
// matching cart line. Callers hold l.mu.
func (l *Ledger) applyFreshProduct(fresh domain.Product) bool {
	i := l.state.FindLineByProduct(fresh.ID)
	if i < 0 {
		return false
	}
	line := &l.state.Items[i]
	mutated := false

	if line.Product.Price != fresh.Price {
		l.summary.RecordPriceChange(fresh, line.Product.Price, fresh.Price)
		l.notify(notify.Notification{
			Kind:    notify.Info,
			Title:   "Price changed",
			Message: fmt.Sprintf("%s is now %.2f (was %.2f).", fresh.Name, fresh.Price, line.Product.Price),
		})
		mutated = true
	}

	if fresh.Stock <= 0 {
		removed := *line
		l.state.Items = append(l.state.Items[:i], l.state.Items[i+1:]...)
		delete(l.selection, removed.ID)
		l.summary.RecordRemoved(fresh)
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "Out of stock",
			Message: fmt.Sprintf("%s was removed from your cart.", fresh.Name),
		})
		return true
	}

	if line.Quantity > fresh.Stock {
		l.summary.RecordAdjusted(fresh, line.Quantity, fresh.Stock)
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "Quantity adjusted",
			Message: fmt.Sprintf("%s reduced to %d (stock limit).", fresh.Name, fresh.Stock),
		})
		line.Quantity = fresh.Stock
		mutated = true
	}

	if line.Product.Stock != fresh.Stock {
		mutated = true
	}
	line.Product = fresh
	return mutated
}

// BackgroundReconcile runs one reconciliation pass: up to three
// highest-priority queued products plus up to two stale ones. It
// returns the number of products validated. The pass yields whenever
// a user-initiated validation is already in flight, and it also
// probes for a healed higher storage tier so the cart migrates back
// as soon as one recovers.
func (l *Ledger) BackgroundReconcile(ctx context.Context) int {
	if !l.validating.CompareAndSwap(false, true) {
		metrics.BackgroundRuns.WithLabelValues("skipped").Inc()
		return 0
	}
	defer l.validating.Store(false)

	if l.store.TryPromote(ctx, StorageKey) {
		l.mu.Lock()
		l.state.StorageType = string(l.store.Kind())
		l.mu.Unlock()
	}

	l.mu.Lock()
	if len(l.state.Items) == 0 {
		l.mu.Unlock()
		metrics.BackgroundRuns.WithLabelValues("skipped").Inc()
		return 0
	}

	picked := make([]string, 0, maxQueuedPerPass+maxStalePerPass)
	seen := make(map[string]struct{})

	for _, id := range l.queue.DrainByPriority() {
		if len(picked) >= maxQueuedPerPass {
			break
		}
		picked = append(picked, id)
		seen[id] = struct{}{}
	}

	stale := 0
	for _, line := range l.state.Items {
		if stale >= maxStalePerPass {
			break
		}
		id := line.Product.ID
		if _, ok := seen[id]; ok {
			continue
		}
		age, exists := l.cache.Age(id)
		if exists && age < validation.StalenessWindow {
			continue
		}
		picked = append(picked, id)
		seen[id] = struct{}{}
		stale++
	}
	l.mu.Unlock()

	if len(picked) == 0 {
		metrics.BackgroundRuns.WithLabelValues("skipped").Inc()
		return 0
	}

	outcomes := l.runner.BatchValidate(ctx, picked)
	l.applyOutcomes(ctx, outcomes, true, false)

	l.mu.Lock()
	now := l.now().UTC()
	l.state.LastBackgroundValidation = &now
	l.mu.Unlock()

	metrics.BackgroundRuns.WithLabelValues("completed").Inc()
	return len(picked)
}

// LoadRecommendations derives categories from the cart contents and
// fetches a small product batch, excluding anything already in the
// cart or saved for later. An empty cart yields empty
// recommendations without a network call.
func (l *Ledger) LoadRecommendations(ctx context.Context) error {
	l.mu.Lock()
	if len(l.state.Items) == 0 {
		l.state.Recommendations = []domain.Product{}
		l.mu.Unlock()
		return nil
	}

	categorySet := make(map[string]struct{})
	excludeSet := make(map[string]struct{})
	for _, line := range l.state.Items {
		if line.Product.Category != "" {
			categorySet[line.Product.Category] = struct{}{}
		}
		excludeSet[line.Product.ID] = struct{}{}
	}
	for _, saved := range l.state.SavedForLater {
		excludeSet[saved.Product.ID] = struct{}{}
	}

	categories := make([]string, 0, len(categorySet))
	for c := range categorySet {
		categories = append(categories, c)
	}
	exclude := make([]string, 0, len(excludeSet))
	for id := range excludeSet {
		exclude = append(exclude, id)
	}
	l.mu.Unlock()

	products, err := l.catalog.GetRecommendations(ctx, categories, exclude, recommendationLimit)
	if err != nil {
		l.log.Warn("load recommendations failed", slog.String("error", err.Error()))
		return fmt.Errorf("load recommendations: %w", err)
	}

	l.mu.Lock()
	l.state.Recommendations = products
	l.persist(ctx)
	l.mu.Unlock()
	return nil
}
