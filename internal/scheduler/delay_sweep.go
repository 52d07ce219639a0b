package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"atelier_backend/platform/logger"
)

const (
	defaultDelaySweepInterval = 15 * time.Minute
	delaySweepLockKey         = "lock:production:delay_sweep"
)

// DelaySweeper flags every order that has outstayed its stage deadline and
// reports how many it flagged.
type DelaySweeper interface {
	SweepDelays(ctx context.Context) (int, error)
}

// DelaySweep periodically catches overdue orders whose scheduled check was
// lost, for instance after a Redis flush.
type DelaySweep struct {
	sweeper  DelaySweeper
	locker   *redislock.Client
	log      *logger.Logger
	interval time.Duration
}

func NewDelaySweep(sweeper DelaySweeper, log *logger.Logger, interval time.Duration) *DelaySweep {
	if interval <= 0 {
		interval = defaultDelaySweepInterval
	}
	return &DelaySweep{sweeper: sweeper, log: log, interval: interval}
}

// SetLocker makes replicas share one sweep per interval.
func (d *DelaySweep) SetLocker(locker *redislock.Client) {
	d.locker = locker
}

func (d *DelaySweep) Run(ctx context.Context) {
	if d == nil || d.sweeper == nil {
		return
	}

	d.sweep(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *DelaySweep) sweep(ctx context.Context) {
	if !d.claim(ctx) {
		return
	}

	flagged, err := d.sweeper.SweepDelays(ctx)
	if err != nil {
		d.log.Warn("delay sweep failed", "error", err)
		return
	}
	if flagged > 0 {
		d.log.Info("delay sweep flagged overdue orders", "flagged", flagged)
	}
}

// claim takes the sweep lock for most of one interval. The lock is never
// released so other replicas skip the rest of the interval.
func (d *DelaySweep) claim(ctx context.Context) bool {
	if d.locker == nil {
		return true
	}
	ttl := d.interval - d.interval/10
	_, err := d.locker.Obtain(ctx, delaySweepLockKey, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		d.log.Debug("delay sweep already claimed by another replica")
		return false
	}
	if err != nil {
		d.log.Warn("delay sweep lock unavailable; sweeping anyway", "error", err)
	}
	return true
}
