//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kanon/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisBucketStore
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.store = NewRedisBucketStore(s.redis.Client)
}

func (s *RedisBucketStoreSuite) TestAllow() {
	s.Run("admits up to the limit", func() {
		for i := range 3 {
			result, err := s.store.Allow(s.ctx, "redis:limit", 3, time.Minute)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(2-i, result.Remaining)
		}
		result, err := s.store.Allow(s.ctx, "redis:limit", 3, time.Minute)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Positive(result.RetryAfter)
	})

	s.Run("window expires", func() {
		result, err := s.store.Allow(s.ctx, "redis:expiry", 1, 200*time.Millisecond)
		s.Require().NoError(err)
		s.True(result.Allowed)

		s.Eventually(func() bool {
			result, err := s.store.Allow(s.ctx, "redis:expiry", 1, 200*time.Millisecond)
			return err == nil && result.Allowed
		}, 2*time.Second, 50*time.Millisecond)
	})

	s.Run("key carries a ttl", func() {
		_, err := s.store.Allow(s.ctx, "redis:ttl", 5, time.Minute)
		s.Require().NoError(err)
		ttl, err := s.redis.Client.PTTL(s.ctx, "redis:ttl").Result()
		s.Require().NoError(err)
		s.Positive(ttl)
		s.LessOrEqual(ttl, time.Minute)
	})
}
