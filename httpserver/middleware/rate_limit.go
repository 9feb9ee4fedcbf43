/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/restapi"
)

// RateLimitLogFieldKey is the name of the logged field that contains the rate limiting key.
const RateLimitLogFieldKey = "rate_limit_key"

// rateLimitTimeSlot is the "time_slots" entry with the time spent in the limiter.
const rateLimitTimeSlot = "rate_limit_ms"

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	Key    string
	Policy ratelimit.Policy
}

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
// If bypass is true, the request is not counted.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called when the key cannot be extracted from the request.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetKey defaults to RateLimitKeyByIP(false).
	GetKey RateLimitGetKeyFunc

	// KeyPrefix is prepended to every key.
	KeyPrefix string

	// IncludedPaths and ExcludedPaths are glob patterns (e.g. "/api/v1/*") matched against the URL path.
	// Only one of them may be set.
	IncludedPaths []string
	ExcludedPaths []string

	// DryRun makes the middleware only log rejections.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc
}

type rateLimitHandler struct {
	next      http.Handler
	limiter   ratelimit.Limiter
	getKey    RateLimitGetKeyFunc
	keyPrefix string
	skipPath  func(path string) bool
	onReject  RateLimitOnRejectFunc
	onError   RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests.
// A rejected request gets 429 with Retry-After equal to the window length in whole seconds.
func RateLimit(limiter ratelimit.Limiter, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	skipPath, err := makeRateLimitPathFilter(opts.IncludedPaths, opts.ExcludedPaths)
	if err != nil {
		return nil, err
	}
	getKey := opts.GetKey
	if getKey == nil {
		getKey = RateLimitKeyByIP(false)
	}
	onReject, onError := makeRateLimitOnRejectFunc(opts), makeRateLimitOnErrorFunc(opts)
	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:      next,
			limiter:   limiter,
			getKey:    getKey,
			keyPrefix: opts.KeyPrefix,
			skipPath:  skipPath,
			onReject:  onReject,
			onError:   onError,
		}
	}, nil
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(limiter ratelimit.Limiter, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimit(limiter, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if h.skipPath(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	ctx := r.Context()
	logger := GetLoggerFromContext(ctx)
	params := RateLimitParams{Policy: h.limiter.Policy()}

	key, bypass, err := h.getKey(r)
	if err != nil {
		h.onError(rw, r, params, err, h.next, logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}
	params.Key = h.keyPrefix + key

	startTime := time.Now()
	limited := h.limiter.IsRateLimited(ctx, params.Key)
	if lp := GetLoggingParamsFromContext(ctx); lp != nil {
		lp.AddTimeSlotDurationInMs(rateLimitTimeSlot, time.Since(startTime))
	}
	if !limited {
		h.next.ServeHTTP(rw, r)
		return
	}
	h.onReject(rw, r, params, h.next, logger)
}

// RateLimitKeyByIP returns a key function that uses the client IP address.
func RateLimitKeyByIP(trustForwardedFor bool) RateLimitGetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		ip := GetClientIP(r, trustForwardedFor)
		if ip == "" {
			return "", false, fmt.Errorf("cannot determine client IP from remote address %q", r.RemoteAddr)
		}
		return ip, false, nil
	}
}

// RateLimitKeyByIPAndRoute returns a key function that combines the client IP address with the route pattern,
// so every route has its own budget. The URL path is used when the route pattern is unknown.
func RateLimitKeyByIPAndRoute(trustForwardedFor bool, getRoutePattern RoutePatternGetterFunc) RateLimitGetKeyFunc {
	byIP := RateLimitKeyByIP(trustForwardedFor)
	if getRoutePattern == nil {
		getRoutePattern = GetChiRoutePattern
	}
	return func(r *http.Request) (string, bool, error) {
		ip, bypass, err := byIP(r)
		if err != nil || bypass {
			return ip, bypass, err
		}
		route := getRoutePattern(r)
		if route == "" {
			route = r.URL.Path
		}
		return ip + "|" + r.Method + " " + route, false, nil
	}
}

// DefaultRateLimitOnReject responds with 429, Retry-After and the JSON error body.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, _ http.Handler, logger log.FieldLogger,
) {
	logger = logger.With(
		log.String(RateLimitLogFieldKey, params.Key),
		log.String(userAgentLogFieldKey, r.UserAgent()),
	)
	rw.Header().Set("Retry-After", strconv.Itoa(params.Policy.RetryAfterSeconds()))
	restapi.RespondError(rw, http.StatusTooManyRequests, restapi.NewTooManyRequestsError(), logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and serves the request.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	logger.Warn("too many requests, serving will be continued because of dry run mode",
		log.String(RateLimitLogFieldKey, params.Key),
		log.String(userAgentLogFieldKey, r.UserAgent()),
	)
	next.ServeHTTP(rw, r)
}

// DefaultRateLimitOnError serves the request when the key cannot be determined.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, _ RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	logger.Warn("cannot get rate limiting key, request is admitted", log.Error(err))
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}

func makeRateLimitPathFilter(includedPaths, excludedPaths []string) (func(path string) bool, error) {
	if len(includedPaths) != 0 && len(excludedPaths) != 0 {
		return nil, fmt.Errorf("included and excluded paths cannot be used together")
	}
	compile := func(patterns []string) []func(string) bool {
		matchers := make([]func(string) bool, 0, len(patterns))
		for _, p := range patterns {
			matchers = append(matchers, glob.Compile(p))
		}
		return matchers
	}
	matchAny := func(matchers []func(string) bool, path string) bool {
		for i := range matchers {
			if matchers[i](path) {
				return true
			}
		}
		return false
	}
	switch {
	case len(includedPaths) != 0:
		included := compile(includedPaths)
		return func(path string) bool { return !matchAny(included, path) }, nil
	case len(excludedPaths) != 0:
		excluded := compile(excludedPaths)
		return func(path string) bool { return matchAny(excluded, path) }, nil
	}
	return func(string) bool { return false }, nil
}
