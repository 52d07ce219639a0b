// Package cache keeps the last built timeline of each order in Redis so
// repeated reads of an unchanged order skip the rebuild.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"atelier_backend/internal/production/domain"
	"atelier_backend/platform/config"
)

const keyPrefix = "production:timeline:"

// TimelineCache stores one timeline per order, tagged with the order
// version it was built from.
type TimelineCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisClient opens the client described by the cache config.
func NewRedisClient(cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func NewTimelineCache(client redis.UniversalClient, ttl time.Duration) *TimelineCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TimelineCache{client: client, ttl: ttl}
}

func key(orderID uuid.UUID) string { return keyPrefix + orderID.String() }

// Get returns the cached timeline only when it was built from version.
func (c *TimelineCache) Get(ctx context.Context, orderID uuid.UUID, version int64) (domain.Timeline, bool, error) {
	raw, err := c.client.Get(ctx, key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Timeline{}, false, nil
	}
	if err != nil {
		return domain.Timeline{}, false, fmt.Errorf("read cached timeline: %w", err)
	}
	var tl domain.Timeline
	if err := json.Unmarshal(raw, &tl); err != nil {
		return domain.Timeline{}, false, fmt.Errorf("decode cached timeline: %w", err)
	}
	if tl.Version != version {
		return domain.Timeline{}, false, nil
	}
	return tl, true, nil
}

// Set replaces the cached timeline unless a newer version is already
// stored.
func (c *TimelineCache) Set(ctx context.Context, tl domain.Timeline) error {
	raw, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	k := key(tl.OrderID)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached struct {
				Version int64 `json:"version"`
			}
			if json.Unmarshal(current, &cached) == nil && cached.Version > tl.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, c.ttl)
			return nil
		})
		return err
	}, k)
}
