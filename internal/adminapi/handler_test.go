/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/ratelimit/memstore"
	"github.com/complianceguardian/guardian/restapi"
	"github.com/complianceguardian/guardian/testutil"
)

type unavailableStore struct{}

func (unavailableStore) Increment(context.Context, string, time.Duration, int64) (ratelimit.Entry, error) {
	return ratelimit.Entry{}, errors.New("connection refused")
}

func (unavailableStore) Get(context.Context, string) (ratelimit.Entry, bool, error) {
	return ratelimit.Entry{}, false, errors.New("connection refused")
}

func (unavailableStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

type HandlerTestSuite struct {
	suite.Suite
	defaultLimiter *ratelimit.FixedWindowLimiter
	router         chi.Router
}

func TestHandler(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	store, err := memstore.New(100, nil)
	s.Require().NoError(err)

	newLimiter := func(name string, maxRequests int, store ratelimit.Store) ratelimit.Limiter {
		policy, err := ratelimit.NewPolicy(maxRequests, 60000)
		s.Require().NoError(err)
		l, err := ratelimit.NewFixedWindowLimiter(policy, store, ratelimit.FixedWindowLimiterOpts{Name: name})
		s.Require().NoError(err)
		return l
	}
	s.defaultLimiter = newLimiter(ratelimit.DefaultRuleName, 2, store).(*ratelimit.FixedWindowLimiter)

	slidingLimiter, err := ratelimit.NewSlidingWindowLimiter(ratelimit.Policy{MaxRequests: 5, Window: time.Second},
		ratelimit.InProcessLimiterOpts{Name: "burst"})
	s.Require().NoError(err)

	auth, err := NewStaticTokenAuthenticator(testSecret)
	s.Require().NoError(err)
	h, err := NewHandler(map[string]ratelimit.Limiter{
		ratelimit.DefaultRuleName: s.defaultLimiter,
		"login":                   newLimiter("login", 1, store),
		"broken":                  newLimiter("broken", 1, unavailableStore{}),
		"burst":                   slidingLimiter,
	}, auth)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	h.Route(s.router)
}

func (s *HandlerTestSuite) do(method, target string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func (s *HandlerTestSuite) TestUnauthorized() {
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		resp := s.do(method, PathPrefix+"/rate-limits/203.0.113.7", false)
		testutil.RequireErrorInRecorder(s.T(), resp, http.StatusUnauthorized,
			restapi.ErrTitleUnauthorized, "Valid bearer token is required")
		s.Require().Equal(`Bearer realm="guardian"`, resp.Header().Get("WWW-Authenticate"))
	}
}

func (s *HandlerTestSuite) TestResetKey() {
	ctx := context.Background()
	s.Require().False(s.defaultLimiter.IsRateLimited(ctx, "203.0.113.7"))
	s.Require().False(s.defaultLimiter.IsRateLimited(ctx, "203.0.113.7"))
	s.Require().True(s.defaultLimiter.IsRateLimited(ctx, "203.0.113.7"))

	resp := s.do(http.MethodDelete, PathPrefix+"/rate-limits/203.0.113.7", true)
	s.Require().Equal(http.StatusNoContent, resp.Code)
	s.Require().Empty(resp.Body.String())

	s.Require().False(s.defaultLimiter.IsRateLimited(ctx, "203.0.113.7"))
}

func (s *HandlerTestSuite) TestResetKeyWithSlashes() {
	ctx := context.Background()
	key := "203.0.113.7|GET /api/v1/items/{id}"
	s.Require().False(s.defaultLimiter.IsRateLimited(ctx, key))

	resp := s.do(http.MethodGet, PathPrefix+"/rate-limits/"+url.PathEscape(key), true)
	s.Require().Equal(http.StatusOK, resp.Code)
	var entry ratelimit.Entry
	s.Require().NoError(json.Unmarshal(resp.Body.Bytes(), &entry))
	s.Require().Equal(key, entry.Key)
	s.Require().Equal(int64(1), entry.Count)

	resp = s.do(http.MethodDelete, PathPrefix+"/rate-limits/"+url.PathEscape(key), true)
	s.Require().Equal(http.StatusNoContent, resp.Code)

	resp = s.do(http.MethodGet, PathPrefix+"/rate-limits/"+url.PathEscape(key), true)
	testutil.RequireErrorInRecorder(s.T(), resp, http.StatusNotFound, restapi.ErrTitleNotFound, ErrMessageEntryNotFound)
}

func (s *HandlerTestSuite) TestGetEntry() {
	ctx := context.Background()
	s.Require().False(s.defaultLimiter.IsRateLimited(ctx, "k"))

	resp := s.do(http.MethodGet, PathPrefix+"/rate-limits/k", true)
	s.Require().Equal(http.StatusOK, resp.Code)
	var entry ratelimit.Entry
	s.Require().NoError(json.Unmarshal(resp.Body.Bytes(), &entry))
	s.Require().Equal("k", entry.Key)
	s.Require().Equal(int64(1), entry.Count)
	s.Require().WithinDuration(time.Now().Add(time.Minute), entry.ResetAt, 5*time.Second)

	// Rules do not share keys.
	resp = s.do(http.MethodGet, PathPrefix+"/rate-limits/k?rule=login", true)
	testutil.RequireErrorInRecorder(s.T(), resp, http.StatusNotFound, restapi.ErrTitleNotFound, ErrMessageEntryNotFound)
}

func (s *HandlerTestSuite) TestUnknownRule() {
	resp := s.do(http.MethodDelete, PathPrefix+"/rate-limits/k?rule=missing", true)
	testutil.RequireErrorInRecorder(s.T(), resp, http.StatusNotFound, restapi.ErrTitleNotFound, ErrMessageUnknownRule)
}

func (s *HandlerTestSuite) TestStorageUnavailable() {
	resp := s.do(http.MethodDelete, PathPrefix+"/rate-limits/k?rule=broken", true)
	testutil.RequireErrorInRecorder(s.T(), resp, http.StatusServiceUnavailable,
		restapi.ErrTitleServiceUnavailable, ErrMessageStorageUnavailable)

	resp = s.do(http.MethodGet, PathPrefix+"/rate-limits/k?rule=broken", true)
	testutil.RequireErrorInRecorder(s.T(), resp, http.StatusServiceUnavailable,
		restapi.ErrTitleServiceUnavailable, ErrMessageStorageUnavailable)
}

func (s *HandlerTestSuite) TestInProcessAlgorithm() {
	resp := s.do(http.MethodGet, PathPrefix+"/rate-limits/k?rule=burst", true)
	s.Require().Equal(http.StatusNotImplemented, resp.Code)

	resp = s.do(http.MethodDelete, PathPrefix+"/rate-limits/k?rule=burst", true)
	s.Require().Equal(http.StatusNoContent, resp.Code)
}

func (s *HandlerTestSuite) TestListRules() {
	resp := s.do(http.MethodGet, PathPrefix+"/rules", true)
	s.Require().Equal(http.StatusOK, resp.Code)
	var rules []RuleInfo
	s.Require().NoError(json.Unmarshal(resp.Body.Bytes(), &rules))
	s.Require().Equal([]RuleInfo{
		{Name: "broken", MaxRequests: 1, WindowMillis: 60000},
		{Name: "burst", MaxRequests: 5, WindowMillis: 1000},
		{Name: ratelimit.DefaultRuleName, MaxRequests: 2, WindowMillis: 60000},
		{Name: "login", MaxRequests: 1, WindowMillis: 60000},
	}, rules)
}

func (s *HandlerTestSuite) TestNewHandler_Validation() {
	_, err := NewHandler(map[string]ratelimit.Limiter{"default": s.defaultLimiter}, nil)
	s.Require().Error(err)
	auth, _ := NewStaticTokenAuthenticator(testSecret)
	_, err = NewHandler(nil, auth)
	s.Require().Error(err)
}
