// Package cache keeps audit reports in Redis so repeated audits of the same
// snapshot under the same request return the same report.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kanon/internal/compliance/models"
	"kanon/pkg/platform/sentinel"
)

const keyPrefix = "kanon:audit:"

// DefaultTTL bounds how long a certification is served from cache.
const DefaultTTL = 24 * time.Hour

// RedisCache stores reports as JSON under the audit cache key.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

type Option func(*RedisCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...Option) *RedisCache {
	c := &RedisCache{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns sentinel.ErrCacheMiss when no report is cached under key.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.AuditReport, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached report: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	var rep models.AuditReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &rep, nil
}

// Set caches the report. An existing entry is kept, so concurrent audits of
// one snapshot converge on the first report stored.
func (c *RedisCache) Set(ctx context.Context, key string, report *models.AuditReport) error {
	if report == nil {
		return sentinel.ErrInvalidInput
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.client.SetNX(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache report: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// Invalidate drops the entry for key.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}
