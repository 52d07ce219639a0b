// Package production provides the production order workflow module: stage
// sequencing, work unit splitting, reception, quality review, repairs and the
// order timeline.
package production

import (
	"context"

	"atelier_backend/internal/events"
	apphttp "atelier_backend/internal/http"
	"atelier_backend/internal/notification/sse"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/handler"
	"atelier_backend/internal/production/live"
	"atelier_backend/internal/production/repository"
	"atelier_backend/internal/production/service"
	"atelier_backend/platform/config"
	"atelier_backend/platform/logger"
	"atelier_backend/platform/validator"

	"github.com/google/uuid"
)

// Module is the production bounded context module implementing http.Module.
type Module struct {
	handler   *handler.Handler
	service   *service.Service
	stream    *sse.Service
	debouncer *live.Debouncer
	log       *logger.Logger
	warm      bool
}

// NewModule creates and initializes the production module with all its dependencies.
func NewModule(repo repository.Repository, catalog *domain.Catalog, bus events.Bus, val *validator.Validator, cfg config.WorkflowConfig, log *logger.Logger) *Module {
	svc := service.New(repo, catalog, bus, log)
	stream := sse.New(log)

	h := handler.New(svc, val)
	h.SetStream(stream)

	m := &Module{
		handler: h,
		service: svc,
		stream:  stream,
		log:     log,
	}
	m.debouncer = live.NewDebouncer(cfg.GetTimelineDebounce(), m.refresh)

	trigger := events.HandlerFunc(func(_ context.Context, event events.Event) error {
		if e, ok := event.(events.OrderEvent); ok {
			m.debouncer.Trigger(e.OrderRef())
		}
		return nil
	})
	for _, name := range events.OrderEventNames {
		bus.Subscribe(name, trigger)
	}

	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "production"
}

// Service returns the production service for use by the scheduler and the
// change listener.
func (m *Module) Service() *service.Service {
	return m.service
}

// Debouncer returns the timeline refresh debouncer so database change
// notifications can feed it.
func (m *Module) Debouncer() *live.Debouncer {
	return m.debouncer
}

// SetTimelineCache enables the shared timeline cache. Timelines are then
// rebuilt after every change even when nobody is watching.
func (m *Module) SetTimelineCache(cache service.TimelineCache) {
	m.service.SetTimelineCache(cache)
	m.warm = cache != nil
}

// SetDelayScheduler wires SLA checks for entered stages.
func (m *Module) SetDelayScheduler(delays service.DelayScheduler) {
	m.service.SetDelayScheduler(delays)
}

// RegisterRoutes mounts production routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

// Close stops pending refreshes and disconnects stream viewers.
func (m *Module) Close() {
	m.debouncer.Stop()
	m.stream.Close()
}

func (m *Module) refresh(ctx context.Context, orderID uuid.UUID) {
	if !m.warm && m.stream.Watchers(orderID) == 0 {
		return
	}
	timeline, err := m.service.RefreshTimeline(ctx, orderID)
	if err != nil {
		m.log.Warn("timeline refresh failed", "orderId", orderID, "error", err)
		return
	}
	m.stream.Publish(sse.Event{
		Type:    sse.EventTimelineUpdated,
		OrderID: orderID,
		Version: timeline.Version,
		Data:    timeline,
	})
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
