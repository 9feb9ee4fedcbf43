/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/complianceguardian/guardian/log/logtest"
	"github.com/complianceguardian/guardian/ratelimit"
)

type StoreTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	store  *Store
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.server = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.server.Addr()})
	s.store = New(s.client, Opts{})
}

func (s *StoreTestSuite) TearDownTest() {
	s.Require().NoError(s.client.Close())
}

func (s *StoreTestSuite) TestIncrement() {
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		entry, err := s.store.Increment(ctx, "k", time.Minute, 0)
		s.Require().NoError(err)
		s.Require().Equal(i, entry.Count)
		s.Require().WithinDuration(time.Now().Add(time.Minute), entry.ResetAt, time.Second)
	}
	s.Require().True(s.server.Exists(DefaultKeyPrefix + "k"))
	s.Require().Equal(time.Minute, s.server.TTL(DefaultKeyPrefix+"k"))

	s.server.FastForward(time.Minute)
	entry, err := s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), entry.Count)
}

func (s *StoreTestSuite) TestIncrement_WindowDoesNotSlide() {
	ctx := context.Background()
	_, err := s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.server.FastForward(40 * time.Second)
	_, err = s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(20*time.Second, s.server.TTL(DefaultKeyPrefix+"k"))
}

func (s *StoreTestSuite) TestIncrement_MaxCount() {
	ctx := context.Background()
	var entry ratelimit.Entry
	for i := 0; i < 10; i++ {
		var err error
		entry, err = s.store.Increment(ctx, "k", time.Minute, 4)
		s.Require().NoError(err)
	}
	s.Require().Equal(int64(4), entry.Count)
	val, err := s.server.Get(DefaultKeyPrefix + "k")
	s.Require().NoError(err)
	s.Require().Equal("4", val)
}

func (s *StoreTestSuite) TestIncrement_KeyWithoutTTL() {
	s.Require().NoError(s.server.Set(DefaultKeyPrefix+"k", "2"))
	entry, err := s.store.Increment(context.Background(), "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(3), entry.Count)
	s.Require().Equal(time.Minute, s.server.TTL(DefaultKeyPrefix+"k"))
}

func (s *StoreTestSuite) TestGetAndReset() {
	ctx := context.Background()
	_, found, err := s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().False(found)

	for i := 0; i < 2; i++ {
		_, err = s.store.Increment(ctx, "k", time.Minute, 0)
		s.Require().NoError(err)
	}
	entry, found, err := s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(ratelimit.Entry{Key: "k", Count: 2, ResetAt: entry.ResetAt}, entry)
	s.Require().WithinDuration(time.Now().Add(time.Minute), entry.ResetAt, time.Second)

	s.Require().NoError(s.store.Reset(ctx, "k"))
	s.Require().False(s.server.Exists(DefaultKeyPrefix + "k"))
	entry, err = s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), entry.Count)
}

func (s *StoreTestSuite) TestKeyPrefix() {
	store := New(s.client, Opts{KeyPrefix: "custom:"})
	_, err := store.Increment(context.Background(), "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().True(s.server.Exists("custom:k"))
}

func (s *StoreTestSuite) TestErrors() {
	s.server.SetError("LOADING Redis is loading the dataset in memory")
	ctx := context.Background()
	_, err := s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().Error(err)
	_, _, err = s.store.Get(ctx, "k")
	s.Require().Error(err)
	s.Require().Error(s.store.Reset(ctx, "k"))
	s.Require().Error(s.store.Ping(ctx))

	s.server.SetError("")
	s.Require().NoError(s.store.Ping(ctx))
}

func (s *StoreTestSuite) TestConcurrentIncrement() {
	const maxRequests = 20
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := s.store.Increment(context.Background(), "k", time.Minute, maxRequests+1)
			if err == nil && entry.Count <= maxRequests {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(int64(maxRequests), admitted.Load())
}

func (s *StoreTestSuite) TestLimiterFailsOpenWhenRedisIsDown() {
	logger := logtest.NewRecorder()
	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Policy{MaxRequests: 1, Window: time.Minute}, s.store,
		ratelimit.FixedWindowLimiterOpts{Logger: logger})
	s.Require().NoError(err)

	ctx := context.Background()
	s.Require().False(limiter.IsRateLimited(ctx, "k"))
	s.Require().True(limiter.IsRateLimited(ctx, "k"))

	s.server.Close()
	s.Require().False(limiter.IsRateLimited(ctx, "k"))
	_, found := logger.FindEntry("rate limit store is unavailable, request is admitted")
	s.Require().True(found)
	s.Require().True(errors.Is(limiter.Reset(ctx, "k"), ratelimit.ErrStorageUnavailable))
}
