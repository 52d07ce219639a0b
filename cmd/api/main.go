package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atelier_backend/internal/events"
	apphttp "atelier_backend/internal/http"
	"atelier_backend/internal/http/router"
	"atelier_backend/internal/notification/broker"
	"atelier_backend/internal/production"
	"atelier_backend/internal/production/cache"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/live"
	"atelier_backend/internal/production/repository"
	"atelier_backend/internal/scheduler"
	"atelier_backend/migrations"
	"atelier_backend/platform/config"
	"atelier_backend/platform/db"
	"atelier_backend/platform/logger"
	"atelier_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.GetStoreDriver())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	catalog, err := domain.DefaultCatalog()
	if err != nil {
		log.Error("failed to load stage catalog", "error", err)
		panic("failed to load stage catalog: " + err.Error())
	}

	var (
		pool   *pgxpool.Pool
		repo   repository.Repository
		health apphttp.HealthChecker
	)
	switch cfg.GetStoreDriver() {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; production data is lost on restart")
		repo = repository.NewMemory()
	default:
		pool = openDatabase(ctx, cfg, log)
		defer pool.Close()
		repo = repository.New(pool)
		health = db.NewPoolAdapter(pool)
	}

	if err := withRetry(ctx, log, "stage catalog sync", 5, 2*time.Second, func() error {
		return repo.UpsertStages(ctx, catalog.Stages())
	}); err != nil {
		log.Error("failed to sync stage catalog", "error", err)
		panic("failed to sync stage catalog: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	if closeBroker := initBroker(ctx, cfg, eventBus, log); closeBroker != nil {
		defer closeBroker()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	productionModule := production.NewModule(repo, catalog, eventBus, val, cfg, log)
	defer productionModule.Close()

	if cfg.IsCacheEnabled() {
		redisClient, err := cache.NewRedisClient(cfg)
		if err != nil {
			log.Error("failed to initialize timeline cache; continuing without it", "error", err)
		} else {
			defer func() { _ = redisClient.Close() }()
			productionModule.SetTimelineCache(cache.NewTimelineCache(redisClient, cfg.GetTimelineCacheTTL()))
			log.Info("timeline cache enabled", "ttl", cfg.GetTimelineCacheTTL())
		}
	}

	delayScheduler, closeScheduler := initDelayScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
		productionModule.SetDelayScheduler(delayScheduler)
	}

	if pool != nil {
		listener := live.NewListener(pool, productionModule.Debouncer(), log)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("change listener stopped", "error", err)
			}
		}()
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: health,
		Modules: []apphttp.Module{
			productionModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// stream viewers hold their connections open until the module closes
		productionModule.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) *pgxpool.Pool {
	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg, "atelier-api")
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	log.Info("database connection established")
	return pool
}

// initBroker forwards order events to AMQP when AMQP_URL is set.
func initBroker(ctx context.Context, cfg *config.Config, bus events.Bus, log *logger.Logger) func() {
	if cfg.GetAMQPURL() == "" {
		log.Info("AMQP_URL not configured; order events stay in process")
		return nil
	}

	var publisher *broker.Publisher
	if err := withRetry(ctx, log, "broker connection", 5, 2*time.Second, func() error {
		p, err := broker.Dial(cfg, log)
		if err != nil {
			return err
		}
		publisher = p
		return nil
	}); err != nil {
		log.Error("failed to connect to broker; order events stay in process", "error", err)
		return nil
	}
	publisher.RegisterHandlers(bus)
	log.Info("forwarding order events to broker", "exchange", cfg.GetAMQPExchange())

	return func() {
		_ = publisher.Close()
	}
}

func initDelayScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; stage delay checks disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize delay scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
