package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atelier_backend/internal/events"
	"atelier_backend/internal/notification/broker"
	"atelier_backend/internal/production/cache"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/repository"
	"atelier_backend/internal/production/service"
	"atelier_backend/internal/scheduler"
	"atelier_backend/platform/config"
	"atelier_backend/platform/db"
	"atelier_backend/platform/logger"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	if cfg.GetStoreDriver() != config.StoreDriverPostgres {
		panic("scheduler requires STORE_DRIVER=postgres: the in-memory store is not shared between processes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg, "atelier-scheduler")
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	catalog, err := domain.DefaultCatalog()
	if err != nil {
		log.Error("failed to load stage catalog", "error", err)
		panic("failed to load stage catalog: " + err.Error())
	}

	// API instances pick delay flags up through the database notification;
	// the bus only feeds the broker.
	eventBus := events.NewInMemoryBus(log)
	if cfg.GetAMQPURL() != "" {
		publisher, err := broker.Dial(cfg, log)
		if err != nil {
			log.Error("failed to connect to broker; delay events stay in process", "error", err)
		} else {
			defer func() { _ = publisher.Close() }()
			publisher.RegisterHandlers(eventBus)
		}
	}
	productionService := service.New(repository.New(pool), catalog, eventBus, log)

	sweep := scheduler.NewDelaySweep(productionService, log, getDurationEnv("DELAY_SWEEP_INTERVAL", 15*time.Minute))
	lockClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Warn("sweep lock disabled; every replica sweeps", "error", err)
	} else {
		defer func() { _ = lockClient.Close() }()
		sweep.SetLocker(redislock.New(lockClient))
	}
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, productionService, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
