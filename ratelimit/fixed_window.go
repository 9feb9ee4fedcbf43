/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/complianceguardian/guardian/log"
)

// Defaults for FixedWindowLimiterOpts.
const (
	DefaultStoreTimeout        = 100 * time.Millisecond
	DefaultFailOpenLogInterval = 10 * time.Second
	DefaultRuleName            = "default"
)

// FixedWindowLimiterOpts represents options for FixedWindowLimiter.
type FixedWindowLimiterOpts struct {
	// Name identifies the limiter in logs and metrics and namespaces its keys in the store
	// (the stored key is "<name>:<key>"). Defaults to "default".
	Name string

	// StoreTimeout bounds every store call. Defaults to DefaultStoreTimeout.
	StoreTimeout time.Duration

	// FailOpenLogInterval is the minimal interval between "fail open" warnings.
	// Suppressed warnings are counted and reported with the next one. Defaults to DefaultFailOpenLogInterval.
	FailOpenLogInterval time.Duration

	Logger  log.FieldLogger
	Metrics MetricsCollector
}

// FixedWindowLimiter counts requests per key in fixed windows.
// A key is limited once the count in its window exceeds Policy.MaxRequests.
type FixedWindowLimiter struct {
	name         string
	store        Store
	policy       atomic.Pointer[Policy]
	storeTimeout time.Duration
	logger       log.FieldLogger
	metrics      MetricsCollector

	failOpenLogLimiter *rate.Limiter
	suppressedWarnings atomic.Int64
}

var (
	_ Limiter   = (*FixedWindowLimiter)(nil)
	_ Inspector = (*FixedWindowLimiter)(nil)
)

// NewFixedWindowLimiter creates a new FixedWindowLimiter.
func NewFixedWindowLimiter(policy Policy, store Store, opts FixedWindowLimiterOpts) (*FixedWindowLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if opts.Name == "" {
		opts.Name = DefaultRuleName
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.FailOpenLogInterval <= 0 {
		opts.FailOpenLogInterval = DefaultFailOpenLogInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	l := &FixedWindowLimiter{
		name:               opts.Name,
		store:              store,
		storeTimeout:       opts.StoreTimeout,
		logger:             opts.Logger.With(log.String("rate_limit_rule", opts.Name)),
		metrics:            opts.Metrics,
		failOpenLogLimiter: rate.NewLimiter(rate.Every(opts.FailOpenLogInterval), 1),
	}
	l.policy.Store(&policy)
	return l, nil
}

// Name returns the limiter name.
func (l *FixedWindowLimiter) Name() string {
	return l.name
}

// Policy implements Limiter.
func (l *FixedWindowLimiter) Policy() Policy {
	return *l.policy.Load()
}

// Configure replaces the policy. On invalid values it returns *ConfigurationError and keeps the current policy.
// Windows already started keep their reset time.
func (l *FixedWindowLimiter) Configure(maxRequests int, windowMillis int64) error {
	policy, err := NewPolicy(maxRequests, windowMillis)
	if err != nil {
		return err
	}
	l.policy.Store(&policy)
	l.logger.Info("rate limit policy configured",
		log.Int("max_requests", maxRequests), log.Int64("window_ms", windowMillis))
	return nil
}

// IsRateLimited implements Limiter.
// The stored count is capped at MaxRequests+1, so sustained traffic over the limit does not grow it further.
func (l *FixedWindowLimiter) IsRateLimited(ctx context.Context, key string) bool {
	policy := l.Policy()
	var entry Entry
	err := l.callStore(ctx, OpIncrement, func(ctx context.Context) (err error) {
		entry, err = l.store.Increment(ctx, l.storeKey(key), policy.Window, int64(policy.MaxRequests)+1)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone (e.g. the client disconnected), the store is not to blame.
			l.logger.Debug("rate limit check is canceled", log.String("rate_limit_key", key), log.Error(ctx.Err()))
			return false
		}
		l.metrics.IncDecisions(l.name, DecisionFailOpen)
		l.warnFailOpen(key, err)
		return false
	}
	if entry.Count > int64(policy.MaxRequests) {
		l.metrics.IncDecisions(l.name, DecisionLimited)
		return true
	}
	l.metrics.IncDecisions(l.name, DecisionAllowed)
	return false
}

// Reset implements Limiter. A store failure is returned as *StorageError.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	err := l.callStore(ctx, OpReset, func(ctx context.Context) error {
		return l.store.Reset(ctx, l.storeKey(key))
	})
	if err != nil {
		return newStorageError(OpReset, key, err)
	}
	l.logger.Info("rate limit key reset", log.String("rate_limit_key", key))
	return nil
}

// Entry implements Inspector. The returned entry carries the key without the limiter prefix.
func (l *FixedWindowLimiter) Entry(ctx context.Context, key string) (entry Entry, found bool, err error) {
	err = l.callStore(ctx, OpGet, func(ctx context.Context) (err error) {
		entry, found, err = l.store.Get(ctx, l.storeKey(key))
		return err
	})
	if err != nil {
		return Entry{}, false, newStorageError(OpGet, key, err)
	}
	entry.Key = key
	return entry, found, nil
}

func (l *FixedWindowLimiter) storeKey(key string) string {
	return l.name + ":" + key
}

// callStore bounds fn by the store timeout. Errors caused by cancellation of the caller's context
// are not counted as storage errors.
func (l *FixedWindowLimiter) callStore(parent context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, l.storeTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	l.metrics.ObserveStorageDuration(op, time.Since(start))
	if err != nil && parent.Err() == nil {
		l.metrics.IncStorageErrors(l.name, op)
	}
	return err
}

func (l *FixedWindowLimiter) warnFailOpen(key string, err error) {
	if !l.failOpenLogLimiter.Allow() {
		l.suppressedWarnings.Add(1)
		return
	}
	l.logger.Warn("rate limit store is unavailable, request is admitted",
		log.String("rate_limit_key", key),
		log.Error(newStorageError(OpIncrement, key, err)),
		log.Int64("suppressed_warnings", l.suppressedWarnings.Swap(0)),
	)
}
