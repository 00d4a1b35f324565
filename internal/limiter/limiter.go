// Package limiter bounds simultaneous media downloads per (host, task).
// It prefers a shared Redis counter and falls back to a durable task_locks
// row when Redis is unreachable.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

const (
	defaultLimit = 3
	defaultTTL   = 15 * time.Second
)

// Limiter implements collector.Limiter.
type Limiter struct {
	client *redis.Client
	locks  collector.LockStore
	logger *zap.Logger
}

// New creates a Limiter. A nil client forces the durable fallback.
func New(client *redis.Client, locks collector.LockStore, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, locks: locks, logger: logger}
}

// Acquire takes one in-flight slot for (host, task). A false return means
// the limit is reached: retry later, not an error.
func (l *Limiter) Acquire(ctx context.Context, params collector.Params, taskID string) (bool, error) {
	if l.redisReachable(ctx, params) {
		return l.acquireRedis(ctx, params, taskID)
	}
	return l.locks.AcquireSlot(ctx, hostOf(params), taskID, limitOf(params))
}

// Release returns a slot taken by a successful Acquire.
func (l *Limiter) Release(ctx context.Context, params collector.Params, taskID string) error {
	if l.redisReachable(ctx, params) {
		return l.releaseRedis(ctx, params, taskID)
	}
	return l.locks.ReleaseSlot(ctx, hostOf(params), taskID)
}

// WithLock runs fn under an acquired slot, always releasing regardless of
// fn's outcome. When acquisition is refused, fn is never invoked and
// WithLock returns (false, nil).
func WithLock(
	ctx context.Context,
	l collector.Limiter,
	params collector.Params,
	taskID string,
	fn func(ctx context.Context) error,
) (bool, error) {
	ok, err := l.Acquire(ctx, params, taskID)
	if err != nil {
		return false, fmt.Errorf("acquire slot: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if relErr := l.Release(ctx, params, taskID); relErr != nil {
			// Slot leaks expire via TTL (redis) or stay decrementable (db).
			_ = relErr
		}
	}()

	return true, fn(ctx)
}

func (l *Limiter) redisReachable(ctx context.Context, params collector.Params) bool {
	if l.client == nil || !params.Redis.Enabled {
		return false
	}
	if err := l.client.Ping(ctx).Err(); err != nil {
		l.logger.Warn("redis unavailable, falling back to db limiter", zap.Error(err))
		return false
	}
	return true
}

func (l *Limiter) acquireRedis(ctx context.Context, params collector.Params, taskID string) (bool, error) {
	key := l.slotKey(params, taskID)
	limit := limitOf(params)

	count, err := l.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read slot count: %w", err)
	}
	if count >= limit {
		return false, nil
	}

	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttlOf(params))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment slot count: %w", err)
	}
	return true, nil
}

func (l *Limiter) releaseRedis(ctx context.Context, params collector.Params, taskID string) error {
	if err := l.client.Decr(ctx, l.slotKey(params, taskID)).Err(); err != nil {
		return fmt.Errorf("decrement slot count: %w", err)
	}
	return nil
}

func (l *Limiter) slotKey(params collector.Params, taskID string) string {
	return params.Redis.HostKeyPrefix + hostOf(params) + ":" + taskID
}

func hostOf(params collector.Params) string {
	host, err := collector.HostOf(params.Site.Entry)
	if err != nil {
		return params.Site.Entry
	}
	return host
}

func limitOf(params collector.Params) int {
	if params.Redis.MaxConcurrentPerHost > 0 {
		return params.Redis.MaxConcurrentPerHost
	}
	return defaultLimit
}

func ttlOf(params collector.Params) time.Duration {
	if params.Redis.SlotTTLSeconds > 0 {
		return time.Duration(params.Redis.SlotTTLSeconds) * time.Second
	}
	return defaultTTL
}
