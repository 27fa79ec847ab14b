package validation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/metrics"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
)

// Status classifies the outcome of one product validation.
type Status string

const (
	// StatusValid means the catalog confirmed the product; Product
	// carries the fresh snapshot.
	StatusValid Status = "valid"
	// StatusGone means the catalog no longer has the product. This is
	// terminal and never retried.
	StatusGone Status = "gone"
	// StatusRetrying means a transient failure occurred and the
	// product stays queued for another attempt.
	StatusRetrying Status = "retrying"
	// StatusFailed means the retry ceiling was hit and the product
	// was dropped from the queue.
	StatusFailed Status = "failed"
)

// Outcome is the result of validating one product.
type Outcome struct {
	ProductID string
	Status    Status
	Product   domain.Product
	Err       error
}

// ProductFetcher is the remote catalog lookup the runner depends on.
type ProductFetcher interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// Runner executes batch validations against the catalog, keeping the
// cache and queue consistent with each outcome.
type Runner struct {
	fetcher ProductFetcher
	cache   *Cache
	queue   *Queue
	log     *slog.Logger
}

// NewRunner wires a runner over the shared cache and queue.
func NewRunner(fetcher ProductFetcher, cache *Cache, queue *Queue, log *slog.Logger) *Runner {
	return &Runner{
		fetcher: fetcher,
		cache:   cache,
		queue:   queue,
		log:     log,
	}
}

// BatchValidate validates each product id. Cache hits with a valid
// unexpired entry skip the network entirely; the rest are fetched
// concurrently. Individual failures never abort the batch; every id
// produces exactly one outcome.
func (r *Runner) BatchValidate(ctx context.Context, productIDs []string) []Outcome {
	outcomes := make([]Outcome, len(productIDs))

	var wg sync.WaitGroup
	for i, id := range productIDs {
		if entry, ok := r.cache.Get(id); ok {
			if entry.IsValid {
				r.queue.Dequeue(id)
				outcomes[i] = Outcome{ProductID: id, Status: StatusValid, Product: entry.Product}
			} else {
				// A recent failure is still within its short TTL;
				// skip the network instead of hammering it.
				outcomes[i] = Outcome{ProductID: id, Status: StatusRetrying}
			}
			metrics.ValidationOutcomes.WithLabelValues(string(outcomes[i].Status)).Inc()
			continue
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcomes[i] = r.validateOne(ctx, id)
			metrics.ValidationOutcomes.WithLabelValues(string(outcomes[i].Status)).Inc()
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

func (r *Runner) validateOne(ctx context.Context, productID string) Outcome {
	product, err := r.fetcher.GetProduct(ctx, productID)
	if err == nil {
		r.cache.Set(productID, true, *product, SuccessTTL)
		r.queue.Dequeue(productID)
		return Outcome{ProductID: productID, Status: StatusValid, Product: *product}
	}

	if errors.Is(err, apperrors.ErrGone) {
		// Terminal: the product no longer exists in the catalog.
		r.cache.Evict(productID)
		r.queue.Dequeue(productID)
		return Outcome{ProductID: productID, Status: StatusGone, Err: err}
	}

	// Transient failure. Cache it briefly so repeated requests within
	// the window do not hit the network again.
	r.cache.Set(productID, false, domain.Product{ID: productID}, FailureTTL)

	if exhausted := r.queue.IncrementRetry(productID); exhausted {
		r.log.Warn("product validation retries exhausted",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
		return Outcome{ProductID: productID, Status: StatusFailed, Err: err}
	}

	r.log.Debug("product validation failed, will retry",
		slog.String("product_id", productID),
		slog.String("error", err.Error()))
	return Outcome{ProductID: productID, Status: StatusRetrying, Err: err}
}
