/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/complianceguardian/guardian/log/logtest"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/ratelimit/memstore"
)

type countingHandler struct {
	served atomic.Int32
}

func (h *countingHandler) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	h.served.Inc()
	rw.WriteHeader(http.StatusOK)
}

// stubLimiter limits every request after the first `allowed`.
type stubLimiter struct {
	allowed int32
	calls   atomic.Int32
	keys    []string
	policy  ratelimit.Policy
}

func (l *stubLimiter) IsRateLimited(_ context.Context, key string) bool {
	l.keys = append(l.keys, key)
	return l.calls.Inc() > l.allowed
}

func (l *stubLimiter) Reset(context.Context, string) error { return nil }

func (l *stubLimiter) Policy() ratelimit.Policy { return l.policy }

type RateLimitTestSuite struct {
	suite.Suite
	next    *countingHandler
	logger  *logtest.Recorder
	limiter *ratelimit.FixedWindowLimiter
}

func TestRateLimit(t *testing.T) {
	suite.Run(t, new(RateLimitTestSuite))
}

func (s *RateLimitTestSuite) SetupTest() {
	s.next = &countingHandler{}
	s.logger = logtest.NewRecorder()
	store, err := memstore.New(100, nil)
	s.Require().NoError(err)
	s.limiter, err = ratelimit.NewFixedWindowLimiter(ratelimit.Policy{MaxRequests: 3, Window: time.Minute}, store,
		ratelimit.FixedWindowLimiterOpts{})
	s.Require().NoError(err)
}

func (s *RateLimitTestSuite) serve(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	req = req.WithContext(NewContextWithLogger(req.Context(), s.logger))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func (s *RateLimitTestSuite) TestRejectsOverLimit() {
	h := MustRateLimit(s.limiter, RateLimitOpts{})(s.next)

	for i := 0; i < 3; i++ {
		resp := s.serve(h, "/api/items", "10.0.0.1:1234")
		s.Require().Equal(http.StatusOK, resp.Code)
	}
	resp := s.serve(h, "/api/items", "10.0.0.1:1234")
	s.Require().Equal(http.StatusTooManyRequests, resp.Code)
	s.Require().Equal("60", resp.Header().Get("Retry-After"))
	s.Require().Equal("application/json", resp.Header().Get("Content-Type"))
	s.Require().Equal(`{"error":"Too many requests","message":"Please try again later"}`, resp.Body.String())
	s.Require().Equal(int32(3), s.next.served.Load())

	entry, found := s.logger.FindEntry("error in response")
	s.Require().True(found)
	keyField, found := entry.FindField(RateLimitLogFieldKey)
	s.Require().True(found)
	s.Require().Equal("10.0.0.1", string(keyField.Bytes))

	resp = s.serve(h, "/api/items", "10.0.0.2:1234")
	s.Require().Equal(http.StatusOK, resp.Code, "other clients must not be affected")
}

func (s *RateLimitTestSuite) TestRetryAfterIsRoundedUp() {
	s.Require().NoError(s.limiter.Configure(1, 100))
	h := MustRateLimit(s.limiter, RateLimitOpts{})(s.next)

	s.Require().Equal(http.StatusOK, s.serve(h, "/", "10.0.0.1:1").Code)
	resp := s.serve(h, "/", "10.0.0.1:1")
	s.Require().Equal(http.StatusTooManyRequests, resp.Code)
	s.Require().Equal("1", resp.Header().Get("Retry-After"))

	time.Sleep(150 * time.Millisecond)
	s.Require().Equal(http.StatusOK, s.serve(h, "/", "10.0.0.1:1").Code)
}

func (s *RateLimitTestSuite) TestResetUnblocksClient() {
	h := MustRateLimit(s.limiter, RateLimitOpts{})(s.next)
	for i := 0; i < 4; i++ {
		s.serve(h, "/", "10.0.0.1:1")
	}
	s.Require().Equal(http.StatusTooManyRequests, s.serve(h, "/", "10.0.0.1:1").Code)
	s.Require().NoError(s.limiter.Reset(context.Background(), "10.0.0.1"))
	s.Require().Equal(http.StatusOK, s.serve(h, "/", "10.0.0.1:1").Code)
}

func (s *RateLimitTestSuite) TestDryRun() {
	h := MustRateLimit(s.limiter, RateLimitOpts{DryRun: true})(s.next)
	for i := 0; i < 5; i++ {
		s.Require().Equal(http.StatusOK, s.serve(h, "/", "10.0.0.1:1").Code)
	}
	s.Require().Equal(int32(5), s.next.served.Load())
	warnings := s.logger.FindAllEntriesByFilter(func(e logtest.RecordedEntry) bool {
		return e.Text == "too many requests, serving will be continued because of dry run mode"
	})
	s.Require().Len(warnings, 2)
}

func (s *RateLimitTestSuite) TestPathFilters() {
	excluded := MustRateLimit(&stubLimiter{}, RateLimitOpts{ExcludedPaths: []string{"/healthz", "/admin/*"}})(s.next)
	s.Require().Equal(http.StatusOK, s.serve(excluded, "/healthz", "10.0.0.1:1").Code)
	s.Require().Equal(http.StatusOK, s.serve(excluded, "/admin/v1/rate-limits/x", "10.0.0.1:1").Code)
	s.Require().Equal(http.StatusTooManyRequests, s.serve(excluded, "/api", "10.0.0.1:1").Code)

	included := MustRateLimit(&stubLimiter{}, RateLimitOpts{IncludedPaths: []string{"/api/*"}})(s.next)
	s.Require().Equal(http.StatusOK, s.serve(included, "/other", "10.0.0.1:1").Code)
	s.Require().Equal(http.StatusTooManyRequests, s.serve(included, "/api/v1/login", "10.0.0.1:1").Code)

	_, err := RateLimit(&stubLimiter{}, RateLimitOpts{IncludedPaths: []string{"/a"}, ExcludedPaths: []string{"/b"}})
	s.Require().EqualError(err, "included and excluded paths cannot be used together")
}

func (s *RateLimitTestSuite) TestKeyPrefixAndBypass() {
	limiter := &stubLimiter{allowed: 10}
	h := MustRateLimit(limiter, RateLimitOpts{
		KeyPrefix: "login:",
		GetKey: func(r *http.Request) (string, bool, error) {
			return r.Header.Get("X-Client"), r.Header.Get("X-Client") == "", nil
		},
	})(s.next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client", "c1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	s.Require().Equal([]string{"login:c1"}, limiter.keys)
	s.Require().Equal(int32(2), s.next.served.Load())
}

func (s *RateLimitTestSuite) TestKeyErrorFailsOpen() {
	h := MustRateLimit(&stubLimiter{}, RateLimitOpts{})(s.next)
	resp := s.serve(h, "/", "")
	s.Require().Equal(http.StatusOK, resp.Code)
	_, found := s.logger.FindEntry("cannot get rate limiting key, request is admitted")
	s.Require().True(found)
}

func (s *RateLimitTestSuite) TestStoreFailureFailsOpen() {
	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Policy{MaxRequests: 1, Window: time.Minute},
		unavailableStore{}, ratelimit.FixedWindowLimiterOpts{Logger: s.logger})
	s.Require().NoError(err)
	h := MustRateLimit(limiter, RateLimitOpts{})(s.next)
	for i := 0; i < 3; i++ {
		s.Require().Equal(http.StatusOK, s.serve(h, "/", "10.0.0.1:1").Code)
	}
	_, found := s.logger.FindEntry("rate limit store is unavailable, request is admitted")
	s.Require().True(found)
}

func (s *RateLimitTestSuite) TestTimeSlotIsRecorded() {
	h := MustRateLimit(s.limiter, RateLimitOpts{})(s.next)
	lp := &LoggingParams{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(NewContextWithLoggingParams(req.Context(), lp))
	h.ServeHTTP(httptest.NewRecorder(), req)
	_, ok := lp.timeSlots[rateLimitTimeSlot]
	s.Require().True(ok)
}

type unavailableStore struct{}

func (unavailableStore) Increment(context.Context, string, time.Duration, int64) (ratelimit.Entry, error) {
	return ratelimit.Entry{}, context.DeadlineExceeded
}

func (unavailableStore) Get(context.Context, string) (ratelimit.Entry, bool, error) {
	return ratelimit.Entry{}, false, context.DeadlineExceeded
}

func (unavailableStore) Reset(context.Context, string) error { return context.DeadlineExceeded }

func TestRateLimitKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/items/42", nil)
	req.RemoteAddr = "192.168.1.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	key, bypass, err := RateLimitKeyByIP(false)(req)
	require.NoError(t, err)
	require.False(t, bypass)
	require.Equal(t, "192.168.1.10", key)

	key, _, err = RateLimitKeyByIP(true)(req)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", key)

	key, _, err = RateLimitKeyByIPAndRoute(false, nil)(req)
	require.NoError(t, err)
	require.Equal(t, "192.168.1.10|GET /api/items/42", key)

	var routedKey string
	router := chi.NewRouter()
	router.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			routedKey, _, _ = RateLimitKeyByIPAndRoute(false, nil)(r)
			next.ServeHTTP(rw, r)
		})
	}).Get("/api/items/{id}", func(rw http.ResponseWriter, r *http.Request) {})
	router.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "192.168.1.10|GET /api/items/{id}", routedKey)
}

func TestRateLimit_NilLimiter(t *testing.T) {
	_, err := RateLimit(nil, RateLimitOpts{})
	require.EqualError(t, err, "rate limiter is required")
}
