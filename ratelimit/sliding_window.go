/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"

	"github.com/RussellLuo/slidingwindow"

	"github.com/complianceguardian/guardian/internal/keytable"
)

// SlidingWindowLimiter approximates a sliding window by weighting the previous fixed window.
// State is kept in process.
type SlidingWindowLimiter struct {
	name    string
	policy  Policy
	keys    *keytable.Table[*slidingwindow.Limiter]
	metrics MetricsCollector
}

var _ Limiter = (*SlidingWindowLimiter)(nil)

// InProcessLimiterOpts represents options for in-process limiters.
type InProcessLimiterOpts struct {
	Name        string
	MaxKeys     int
	Metrics     MetricsCollector
	KeysMetrics keytable.MetricsCollector
}

func (o *InProcessLimiterOpts) setDefaults() {
	if o.Name == "" {
		o.Name = DefaultRuleName
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = DefaultMaxKeys
	}
	if o.Metrics == nil {
		o.Metrics = disabledMetrics{}
	}
}

// DefaultMaxKeys is the default capacity of in-process key tables.
const DefaultMaxKeys = 10000

// NewSlidingWindowLimiter creates a new SlidingWindowLimiter.
func NewSlidingWindowLimiter(policy Policy, opts InProcessLimiterOpts) (*SlidingWindowLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()
	keys, err := keytable.New[*slidingwindow.Limiter](opts.MaxKeys, opts.KeysMetrics)
	if err != nil {
		return nil, fmt.Errorf("new key table: %w", err)
	}
	return &SlidingWindowLimiter{name: opts.Name, policy: policy, keys: keys, metrics: opts.Metrics}, nil
}

// Policy implements Limiter.
func (l *SlidingWindowLimiter) Policy() Policy {
	return l.policy
}

// IsRateLimited implements Limiter.
func (l *SlidingWindowLimiter) IsRateLimited(_ context.Context, key string) bool {
	lim, _ := l.keys.GetOrCreate(key, func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(l.policy.Window, int64(l.policy.MaxRequests),
			func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return lim
	})
	if lim.Allow() {
		l.metrics.IncDecisions(l.name, DecisionAllowed)
		return false
	}
	l.metrics.IncDecisions(l.name, DecisionLimited)
	return true
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(_ context.Context, key string) error {
	l.keys.Delete(key)
	return nil
}
