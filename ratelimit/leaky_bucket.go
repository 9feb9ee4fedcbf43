/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/throttled/throttled/v2"

	"github.com/complianceguardian/guardian/internal/keytable"
)

// LeakyBucketLimiter implements GCRA (Generic Cell Rate Algorithm), a leaky bucket variant.
// Policy.MaxRequests requests may be sent at once; after that they are admitted evenly,
// one per Window/MaxRequests. See https://brandur.org/rate-limiting#gcra.
type LeakyBucketLimiter struct {
	name    string
	policy  Policy
	store   *gcraStore
	limiter *throttled.GCRARateLimiterCtx
	metrics MetricsCollector
}

var _ Limiter = (*LeakyBucketLimiter)(nil)

// NewLeakyBucketLimiter creates a new LeakyBucketLimiter.
func NewLeakyBucketLimiter(policy Policy, opts InProcessLimiterOpts) (*LeakyBucketLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()
	keys, err := keytable.New[*gcraCell](opts.MaxKeys, opts.KeysMetrics)
	if err != nil {
		return nil, fmt.Errorf("new key table: %w", err)
	}
	store := &gcraStore{keys: keys}
	limiter, err := throttled.NewGCRARateLimiterCtx(store, throttled.RateQuota{
		MaxRate:  throttled.PerDuration(policy.MaxRequests, policy.Window),
		MaxBurst: policy.MaxRequests - 1,
	})
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return &LeakyBucketLimiter{name: opts.Name, policy: policy, store: store, limiter: limiter, metrics: opts.Metrics}, nil
}

// Policy implements Limiter.
func (l *LeakyBucketLimiter) Policy() Policy {
	return l.policy
}

// IsRateLimited implements Limiter.
func (l *LeakyBucketLimiter) IsRateLimited(ctx context.Context, key string) bool {
	limited, _, err := l.limiter.RateLimitCtx(ctx, key, 1)
	switch {
	case err != nil:
		l.metrics.IncDecisions(l.name, DecisionFailOpen)
		return false
	case limited:
		l.metrics.IncDecisions(l.name, DecisionLimited)
		return true
	}
	l.metrics.IncDecisions(l.name, DecisionAllowed)
	return false
}

// Reset implements Limiter.
func (l *LeakyBucketLimiter) Reset(_ context.Context, key string) error {
	l.store.keys.Delete(key)
	return nil
}

type gcraCell struct {
	value     int64
	expiresAt time.Time
}

// gcraStore is throttled.GCRAStoreCtx over a bounded key table.
type gcraStore struct {
	mu   sync.Mutex
	keys *keytable.Table[*gcraCell]
}

func (s *gcraStore) live(key string, now time.Time) (*gcraCell, bool) {
	cell, ok := s.keys.Get(key)
	if !ok || (!cell.expiresAt.IsZero() && !now.Before(cell.expiresAt)) {
		return nil, false
	}
	return cell, true
}

func (s *gcraStore) GetWithTime(_ context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cell, ok := s.live(key, now); ok {
		return cell.value, now, nil
	}
	return -1, now, nil
}

func (s *gcraStore) SetIfNotExistsWithTTL(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	cell, _ := s.keys.GetOrCreate(key, func() *gcraCell { return &gcraCell{} })
	cell.set(value, now, ttl)
	return true, nil
}

func (s *gcraStore) CompareAndSwapWithTTL(_ context.Context, key string, old, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cell, ok := s.live(key, now)
	if !ok || cell.value != old {
		return false, nil
	}
	cell.set(value, now, ttl)
	return true, nil
}

func (c *gcraCell) set(value int64, now time.Time, ttl time.Duration) {
	c.value = value
	c.expiresAt = time.Time{}
	if ttl > 0 {
		c.expiresAt = now.Add(ttl)
	}
}
