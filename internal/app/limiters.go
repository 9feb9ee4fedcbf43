/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/complianceguardian/guardian/httpserver"
	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/internal/adminapi"
	"github.com/complianceguardian/guardian/internal/keytable"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
)

// LimiterMetrics groups collectors shared by all limiters. Nil fields disable the metrics.
type LimiterMetrics struct {
	Decisions ratelimit.MetricsCollector
	Keys      *keytable.PrometheusMetrics
}

// keysFor returns the key table collector of an in-process limiter. Each limiter has its own table.
func (m LimiterMetrics) keysFor(name string) keytable.MetricsCollector {
	if m.Keys == nil {
		return nil
	}
	return m.Keys.ForTable(name)
}

// NewLimiters creates the "default" limiter and one limiter per rule.
// Fixed window limiters share the store. Their keys do not collide since the store key starts with the rule name.
func NewLimiters(
	cfg *ratelimit.Config, store ratelimit.Store, logger log.FieldLogger, metrics LimiterMetrics,
) (map[string]ratelimit.Limiter, error) {
	limiters := make(map[string]ratelimit.Limiter, len(cfg.Rules)+1)

	newLimiter := func(name string, policy ratelimit.Policy) (ratelimit.Limiter, error) {
		switch cfg.Algorithm {
		case ratelimit.AlgorithmSlidingWindow:
			return ratelimit.NewSlidingWindowLimiter(policy, ratelimit.InProcessLimiterOpts{
				Name: name, MaxKeys: cfg.MaxKeys, Metrics: metrics.Decisions, KeysMetrics: metrics.keysFor(name)})
		case ratelimit.AlgorithmLeakyBucket:
			return ratelimit.NewLeakyBucketLimiter(policy, ratelimit.InProcessLimiterOpts{
				Name: name, MaxKeys: cfg.MaxKeys, Metrics: metrics.Decisions, KeysMetrics: metrics.keysFor(name)})
		}
		return ratelimit.NewFixedWindowLimiter(policy, store, ratelimit.FixedWindowLimiterOpts{
			Name:                name,
			StoreTimeout:        cfg.StoreTimeout,
			FailOpenLogInterval: cfg.FailOpenLogInterval,
			Logger:              logger,
			Metrics:             metrics.Decisions,
		})
	}

	var err error
	if limiters[ratelimit.DefaultRuleName], err = newLimiter(ratelimit.DefaultRuleName, cfg.Policy); err != nil {
		return nil, fmt.Errorf("create default rate limiter: %w", err)
	}
	for _, rule := range cfg.Rules {
		policy, policyErr := rule.Policy()
		if policyErr != nil {
			return nil, fmt.Errorf("rate limit rule %q: %w", rule.Name, policyErr)
		}
		if limiters[rule.Name], err = newLimiter(rule.Name, policy); err != nil {
			return nil, fmt.Errorf("create rate limiter for rule %q: %w", rule.Name, err)
		}
	}
	return limiters, nil
}

// NewRateLimitMiddlewares returns middlewares for the rules followed by the default one.
// A request is counted by every rule whose paths match it and by the default limiter.
// System endpoints, the admin API and the excluded paths are never limited by the default limiter.
func NewRateLimitMiddlewares(
	cfg *ratelimit.Config, limiters map[string]ratelimit.Limiter,
) ([]func(http.Handler) http.Handler, error) {
	mws := make([]func(http.Handler) http.Handler, 0, len(cfg.Rules)+1)
	for _, rule := range cfg.Rules {
		mw, err := middleware.RateLimit(limiters[rule.Name], middleware.RateLimitOpts{
			GetKey:        makeGetKey(rule.KeyBy, cfg.TrustForwardedFor),
			IncludedPaths: rule.Paths,
			DryRun:        cfg.DryRun,
		})
		if err != nil {
			return nil, fmt.Errorf("create rate limiting middleware for rule %q: %w", rule.Name, err)
		}
		mws = append(mws, mw)
	}

	excludedPaths := append(httpserver.SystemEndpoints(), adminapi.PathPrefix+"/*")
	excludedPaths = append(excludedPaths, cfg.ExcludedPaths...)
	mw, err := middleware.RateLimit(limiters[ratelimit.DefaultRuleName], middleware.RateLimitOpts{
		GetKey:        makeGetKey(cfg.KeyBy, cfg.TrustForwardedFor),
		ExcludedPaths: excludedPaths,
		DryRun:        cfg.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("create default rate limiting middleware: %w", err)
	}
	return append(mws, mw), nil
}

func makeGetKey(keyBy ratelimit.KeyBy, trustForwardedFor bool) middleware.RateLimitGetKeyFunc {
	if keyBy == ratelimit.KeyByIPRoute {
		return middleware.RateLimitKeyByIPAndRoute(trustForwardedFor, routePattern)
	}
	return middleware.RateLimitKeyByIP(trustForwardedFor)
}

// routePattern returns the chi route pattern unless it is a catch-all (e.g. the proxy route),
// in which case the URL path is used by the key function.
func routePattern(r *http.Request) string {
	pattern := httpserver.GetChiRoutePattern(r)
	if strings.HasSuffix(pattern, "*") {
		return ""
	}
	return pattern
}
