/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore provides a fixed window counter store shared between instances through Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complianceguardian/guardian/ratelimit"
)

// DefaultKeyPrefix is prepended to all keys unless Opts.KeyPrefix is set.
const DefaultKeyPrefix = ratelimit.DefaultRedisKeyPrefix

// incrementScript increments the counter and starts a new window when the key is absent.
// Rollover relies on the key TTL. KEYS[1] is the key, ARGV[1] is the window in milliseconds,
// ARGV[2] is the maximal count (0 means no cap). Returns {count, ttl_ms}.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local window = tonumber(ARGV[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], window)
end
local maxCount = tonumber(ARGV[2])
if maxCount > 0 and count > maxCount then
	redis.call('DECRBY', KEYS[1], count - maxCount)
	count = maxCount
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {count, ttl}
`)

// Opts represents options for Store.
type Opts struct {
	KeyPrefix string
}

// Store keeps counters in Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var (
	_ ratelimit.Store  = (*Store)(nil)
	_ ratelimit.Pinger = (*Store)(nil)
)

// New creates a new Store. The client is owned by the caller.
func New(client redis.UniversalClient, opts Opts) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: opts.KeyPrefix}
}

// NewUniversalClient creates a Redis client from the configuration.
// A single address gives a plain client, several addresses give a cluster client.
func NewUniversalClient(cfg ratelimit.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Increment implements ratelimit.Store.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, maxCount int64) (ratelimit.Entry, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.keyPrefix + key}, window.Milliseconds(), maxCount).Int64Slice()
	if err != nil {
		return ratelimit.Entry{}, fmt.Errorf("run increment script: %w", err)
	}
	if len(res) != 2 {
		return ratelimit.Entry{}, fmt.Errorf("unexpected increment script result %v", res)
	}
	return ratelimit.Entry{
		Key:     key,
		Count:   res[0],
		ResetAt: time.Now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Get implements ratelimit.Store.
func (s *Store) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, s.keyPrefix+key)
		ttlCmd = pipe.PTTL(ctx, s.keyPrefix+key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return ratelimit.Entry{}, false, fmt.Errorf("get counter: %w", err)
	}
	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ratelimit.Entry{}, false, nil
		}
		return ratelimit.Entry{}, false, fmt.Errorf("parse counter: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return ratelimit.Entry{Key: key, Count: count, ResetAt: time.Now().Add(ttl)}, true, nil
}

// Reset implements ratelimit.Store.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

// Ping implements ratelimit.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
