// Package counter implements the per-(host, task) URL counter backing the
// task-wide URL budget.
package counter

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

// Provider builds counters scoped to a (host, task) key. All counters
// from one Provider share the local fallback map and the demotion flag,
// so a process that loses Redis keeps consistent local counts for the
// rest of its lifetime even though schedulers request a fresh counter
// per job.
type Provider struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	local   map[string]int
	demoted bool
}

// NewProvider creates a Provider. A nil client disables the fast path
// entirely and counters run local-only.
func NewProvider(client *redis.Client, prefix string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		client: client,
		prefix: prefix,
		logger: logger,
		local:  make(map[string]int),
	}
}

// For returns the counter for one (host, task) key.
func (p *Provider) For(host, taskID string) collector.Counter {
	return &taskCounter{
		provider: p,
		key:      fmt.Sprintf("%s%s:%s", p.prefix, host, taskID),
	}
}

func (p *Provider) usingRedis() bool {
	if p.client == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.demoted
}

// demote turns off the Redis path for every counter this Provider ever
// hands out. Counts accumulated locally after an outage would be lost
// by re-promotion, so the flag is never cleared.
func (p *Provider) demote(key string, err error) {
	p.mu.Lock()
	already := p.demoted
	p.demoted = true
	p.mu.Unlock()
	if !already {
		p.logger.Warn("redis unavailable, falling back to local task counters",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// taskCounter prefers the shared Redis counter; on the first failure the
// whole provider falls back to its in-process map. The two backends are
// never cross-consistent.
type taskCounter struct {
	provider *Provider
	key      string
}

func (c *taskCounter) Current(ctx context.Context) (int, error) {
	if c.provider.usingRedis() {
		val, err := c.provider.client.Get(ctx, c.key).Int()
		if err == nil {
			return val, nil
		}
		if err == redis.Nil {
			return 0, nil
		}
		c.provider.demote(c.key, err)
	}

	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	return c.provider.local[c.key], nil
}

func (c *taskCounter) Increment(ctx context.Context) (int, error) {
	if c.provider.usingRedis() {
		val, err := c.provider.client.Incr(ctx, c.key).Result()
		if err == nil {
			return int(val), nil
		}
		c.provider.demote(c.key, err)
	}

	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.provider.local[c.key]++
	return c.provider.local[c.key], nil
}
