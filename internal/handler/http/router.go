package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moldovadirect/cart-engine/internal/ledger"
	"github.com/moldovadirect/cart-engine/internal/security"
	"github.com/moldovadirect/cart-engine/pkg/health"
	"github.com/moldovadirect/cart-engine/pkg/middleware"
)

// RouterConfig carries the optional knobs for NewRouter.
type RouterConfig struct {
	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter creates a chi router with all cart engine routes registered.
func NewRouter(
	gate *security.Gate,
	l *ledger.Ledger,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart-engine"))
	r.Use(middleware.RequestLogger(logger))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
	}

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Cart API endpoints
	cartHandler := NewCartHandler(gate, l, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(CORS)
		r.Use(ContentTypeJSON)
		r.Use(SessionHeader(l.SessionID))

		r.Get("/", cartHandler.GetCart)
		r.Delete("/", cartHandler.ClearCart)

		r.Post("/items", cartHandler.AddItem)
		r.Put("/items/{lineId}", cartHandler.UpdateItemQuantity)
		r.Delete("/items/{lineId}", cartHandler.RemoveItem)
		r.Post("/items/{lineId}/select", cartHandler.ToggleSelection)
		r.Post("/items/{lineId}/save", cartHandler.SaveForLater)

		r.Get("/selection", cartHandler.GetSelection)
		r.Post("/selection/all", cartHandler.SelectAll)
		r.Delete("/selection", cartHandler.ClearSelection)

		r.Post("/bulk/remove", cartHandler.BulkRemove)
		r.Post("/bulk/quantity", cartHandler.BulkUpdateQuantity)
		r.Post("/bulk/save", cartHandler.BulkSaveForLater)

		r.Get("/saved", cartHandler.GetSavedForLater)
		r.Post("/saved/{savedId}/move", cartHandler.MoveSavedToCart)
		r.Delete("/saved/{savedId}", cartHandler.RemoveSaved)

		r.Post("/validate", cartHandler.ValidateCart)
		r.Get("/validation/summary", cartHandler.GetValidationSummary)
		r.Get("/recommendations", cartHandler.GetRecommendations)

		r.Post("/lock", cartHandler.LockCart)
		r.Delete("/lock", cartHandler.UnlockCart)
		r.Post("/session/regenerate", cartHandler.RegenerateSession)
	})

	return r
}
