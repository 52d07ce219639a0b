package scheduler

import (
	"context"
	"fmt"

	"atelier_backend/platform/config"
	"atelier_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// DelayMarker flags an order that is still in the stage it was scheduled
// for. It reports whether anything changed.
type DelayMarker interface {
	MarkDelayed(ctx context.Context, orderID, stageID uuid.UUID) (bool, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	marker DelayMarker
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, marker DelayMarker, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(marker, log)
	w.server = server
	return w, nil
}

func newWorker(marker DelayMarker, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{mux: mux, marker: marker, log: log}
	mux.HandleFunc(TaskOrderDelayCheck, w.handleOrderDelayCheck)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleOrderDelayCheck(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOrderDelayCheckPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	orderID, stageID, err := payload.ids()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	delayed, err := w.marker.MarkDelayed(ctx, orderID, stageID)
	if err != nil {
		return err
	}
	if delayed {
		w.log.Info("order flagged as delayed", "orderId", orderID, "stageId", stageID)
	}
	return nil
}
