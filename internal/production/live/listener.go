package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier_backend/platform/db"
	"atelier_backend/platform/logger"
)

const listenRetryDelay = 2 * time.Second

// ChangeChannel is the NOTIFY channel the notify_production_change trigger
// publishes on.
const ChangeChannel = "production_changes"

// change is the payload the notify trigger sends for every row written to
// orders or work_units.
type change struct {
	Table   string    `json:"table"`
	OrderID uuid.UUID `json:"orderId"`
}

// Listener forwards database change notifications to a debouncer.
type Listener struct {
	pool      *pgxpool.Pool
	channel   string
	debouncer *Debouncer
	log       *logger.Logger
}

func NewListener(pool *pgxpool.Pool, debouncer *Debouncer, log *logger.Logger) *Listener {
	return &Listener{pool: pool, channel: ChangeChannel, debouncer: debouncer, log: log}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("listening for production changes", "channel", l.channel)
	return db.Listen(ctx, l.pool, l.channel, listenRetryDelay, l.handle)
}

func (l *Listener) handle(_ context.Context, payload string) {
	orderID, ok := parseChange(payload)
	if !ok {
		l.log.Warn("ignoring malformed change notification", "payload", payload)
		return
	}
	l.debouncer.Trigger(orderID)
}

func parseChange(payload string) (uuid.UUID, bool) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil || c.OrderID == uuid.Nil {
		return uuid.Nil, false
	}
	return c.OrderID, true
}
