package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationHandler receives the payload of a Postgres NOTIFY.
type NotificationHandler func(ctx context.Context, payload string)

// Listen holds one pooled connection on LISTEN channel and forwards every
// notification to handle until ctx is cancelled. A lost connection is
// re-acquired after retryDelay.
func Listen(ctx context.Context, pool *pgxpool.Pool, channel string, retryDelay time.Duration, handle NotificationHandler) error {
	for {
		err := listenOnce(ctx, pool, channel, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func listenOnce(ctx context.Context, pool *pgxpool.Pool, channel string, handle NotificationHandler) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		handle(ctx, notification.Payload)
	}
}
