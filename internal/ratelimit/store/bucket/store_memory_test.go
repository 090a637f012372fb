package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) fill(key string, n int) {
	for range n {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "allow:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("request over limit denied with retry hint", func() {
		s.fill("allow:over", testLimit)
		s.now = s.now.Add(15 * time.Second)

		result, err := s.store.Allow(s.ctx, "allow:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(45, result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		s.fill("allow:a", testLimit)
		result, err := s.store.Allow(s.ctx, "allow:b", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestSlidingWindow() {
	s.fill("window", testLimit)

	s.now = s.now.Add(testWindow - time.Second)
	result, err := s.store.Allow(s.ctx, "window", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed, "window has not slid yet")

	s.now = s.now.Add(time.Second)
	result, err = s.store.Allow(s.ctx, "window", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed, "requests at the window edge expire")
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	s.fill("reset", testLimit)
	s.Require().NoError(s.store.Reset(s.ctx, "reset"))

	result, err := s.store.Allow(s.ctx, "reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentRequestsNeverExceedLimit() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "concurrent", testLimit, testWindow)
			s.NoError(err)
			if result != nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}
