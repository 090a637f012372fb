package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kanon/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the request when there is
// room, and returns {allowed, count, oldest score}. Scores are
// milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
  first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// RedisBucketStore shares sliding windows across replicas through sorted
// sets, one per key.
type RedisBucketStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisBucketStore(client redis.Scripter) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	vals, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("sliding window for %s: %w", key, err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("sliding window for %s: unexpected reply %v", key, vals)
	}

	resetAt := time.UnixMilli(vals[2]).Add(window)
	if vals[0] == 1 {
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(vals[1]),
			ResetAt:   resetAt,
		}, nil
	}
	return &models.Result{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(now, resetAt),
	}, nil
}
