package scheduler

import (
	"context"
	"errors"
	"testing"

	"atelier_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeMarker struct {
	calls   []OrderDelayCheckPayload
	delayed bool
	err     error
}

func (f *fakeMarker) MarkDelayed(_ context.Context, orderID, stageID uuid.UUID) (bool, error) {
	f.calls = append(f.calls, OrderDelayCheckPayload{OrderID: orderID.String(), StageID: stageID.String()})
	return f.delayed, f.err
}

func TestDelayCheckTaskMarksOrder(t *testing.T) {
	marker := &fakeMarker{delayed: true}
	w := newWorker(marker, logger.New("test"))
	orderID, stageID := uuid.New(), uuid.New()

	task, err := NewOrderDelayCheckTask(OrderDelayCheckPayload{OrderID: orderID.String(), StageID: stageID.String()})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := w.mux.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}
	if len(marker.calls) != 1 || marker.calls[0].OrderID != orderID.String() || marker.calls[0].StageID != stageID.String() {
		t.Fatalf("unexpected marker calls %+v", marker.calls)
	}
}

func TestDelayCheckRejectsMalformedPayloadWithoutRetry(t *testing.T) {
	w := newWorker(&fakeMarker{}, logger.New("test"))
	task, _ := NewOrderDelayCheckTask(OrderDelayCheckPayload{OrderID: "nope", StageID: uuid.NewString()})

	err := w.mux.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestDelayCheckPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	w := newWorker(&fakeMarker{err: boom}, logger.New("test"))
	task, _ := NewOrderDelayCheckTask(OrderDelayCheckPayload{OrderID: uuid.NewString(), StageID: uuid.NewString()})

	if err := w.mux.ProcessTask(context.Background(), task); !errors.Is(err, boom) {
		t.Fatalf("expected store error to be retried, got %v", err)
	}
}

func TestDelayTaskIDIsPerStageVisit(t *testing.T) {
	order, stageA, stageB := uuid.New(), uuid.New(), uuid.New()
	if delayTaskID(order, stageA) == delayTaskID(order, stageB) {
		t.Fatal("different stages must not share a task id")
	}
	if delayTaskID(order, stageA) != delayTaskID(order, stageA) {
		t.Fatal("task id must be stable")
	}
}

func TestRedisClientOptHonoursTLSInsecure(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", true)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.Password != "secret" || opt.DB != 2 {
		t.Fatalf("unexpected options %+v", opt)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatal("expected insecure TLS config")
	}

	plain, err := redisClientOpt("redis://localhost:6379/0", false)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if plain.TLSConfig != nil {
		t.Fatal("plain redis url must not enable TLS")
	}
}
