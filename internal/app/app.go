package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moldovadirect/cart-engine/internal/catalog"
	"github.com/moldovadirect/cart-engine/internal/config"
	"github.com/moldovadirect/cart-engine/internal/event"
	handler "github.com/moldovadirect/cart-engine/internal/handler/http"
	"github.com/moldovadirect/cart-engine/internal/ledger"
	"github.com/moldovadirect/cart-engine/internal/metrics"
	"github.com/moldovadirect/cart-engine/internal/notify"
	"github.com/moldovadirect/cart-engine/internal/security"
	"github.com/moldovadirect/cart-engine/internal/storage"
	"github.com/moldovadirect/cart-engine/internal/worker"
	"github.com/moldovadirect/cart-engine/pkg/health"
	"github.com/moldovadirect/cart-engine/pkg/httpclient"
	pkgkafka "github.com/moldovadirect/cart-engine/pkg/kafka"
)

// App wires together all dependencies and runs the cart engine.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rdb        *redis.Client
	badger     *storage.BadgerTier
	producer   *pkgkafka.Producer
	cart       *ledger.Ledger
	reconciler *worker.Worker
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// Storage tiers that fail to come up are skipped; the engine always keeps
// at least the in-memory tier.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Storage tiers in preference order: Redis, Badger, memory.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, tier detection will fall back",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()))
	}

	tiers := []storage.Tier{storage.NewRedisTier(rdb, cfg.PayloadTTL)}

	var badgerTier *storage.BadgerTier
	if cfg.BadgerPath != "" {
		bt, err := storage.OpenBadgerTier(cfg.BadgerPath)
		if err != nil {
			logger.Warn("badger tier unavailable",
				slog.String("path", cfg.BadgerPath),
				slog.String("error", err.Error()))
		} else {
			badgerTier = bt
			tiers = append(tiers, bt)
		}
	}
	tiers = append(tiers, storage.NewMemoryTier())

	adapter, err := storage.NewAdapter(logger, tiers,
		storage.WithTierChangeFunc(func(from, to storage.Kind) {
			metrics.StorageTierChanges.WithLabelValues(string(from), string(to)).Inc()
			logger.Info("storage tier changed",
				slog.String("from", string(from)),
				slog.String("to", string(to)))
		}))
	if err != nil {
		return nil, fmt.Errorf("build storage adapter: %w", err)
	}

	// Catalog client.
	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, httpclient.DefaultConfig())

	// Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	eventProducer := event.NewProducer(producer, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Cart ledger.
	cart := ledger.New(logger, adapter, catalogClient, notify.NewLogNotifier(logger), eventProducer, ledger.Config{
		PersistDelay:         cfg.PersistDelay,
		AddDebounce:          cfg.AddDebounce,
		UpdateDebounce:       cfg.UpdateDebounce,
		BackgroundValidation: cfg.BackgroundValidation,
	})
	if err := cart.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize cart ledger: %w", err)
	}

	// Security gate.
	var secure security.Mutator
	if cfg.SecureEndpointURL != "" {
		secure = security.NewSecureClient(cfg.SecureEndpointURL, httpclient.DefaultConfig())
	}
	gate := security.NewGate(cart, secure, cfg.SecurityEnabled, logger)

	// Background reconciliation worker.
	var reconciler *worker.Worker
	if cfg.BackgroundValidation {
		reconciler = worker.New(cart, cfg.ReconcileInterval, logger)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	// HTTP router.
	router := handler.NewRouter(gate, cart, healthHandler, logger, handler.RouterConfig{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		rdb:        rdb,
		badger:     badgerTier,
		producer:   producer,
		cart:       cart,
		reconciler: reconciler,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.reconciler != nil {
		a.reconciler.Start(ctx)
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.reconciler != nil {
		a.reconciler.Stop()
	}

	// Flush pending cart state before closing storage.
	a.cart.Close()

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if a.badger != nil {
		if err := a.badger.Close(); err != nil {
			a.logger.Error("badger close error", slog.String("error", err.Error()))
		}
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
