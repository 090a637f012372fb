package bucket

import (
	"context"
	"sync"
	"time"

	"kanon/internal/ratelimit/models"
)

// InMemoryBucketStore is a per-process sliding window limiter. It is the
// default store and the fallback while Redis is unavailable.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

type MemoryOption func(*InMemoryBucketStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		s.now = now
	}
}

func NewInMemoryBucketStore(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records one request under key if the window has room for it.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.getOrCreate(key, window)
	sw.cleanup(now)

	if len(sw.timestamps) < limit {
		sw.timestamps = append(sw.timestamps, now)
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(sw.timestamps),
			ResetAt:   sw.timestamps[0].Add(window),
		}, nil
	}

	resetAt := sw.timestamps[0].Add(window)
	return &models.Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(now, resetAt),
	}, nil
}

// Reset clears the counter for key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// getOrCreate must be called with s.mu held.
func (s *InMemoryBucketStore) getOrCreate(key string, window time.Duration) *slidingWindow {
	if sw := s.buckets[key]; sw != nil {
		return sw
	}
	sw := &slidingWindow{window: window}
	s.buckets[key] = sw
	return sw
}
