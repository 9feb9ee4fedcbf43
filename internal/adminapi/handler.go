/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package adminapi provides authenticated HTTP endpoints for inspecting and resetting rate limit keys.
package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/restapi"
)

// PathPrefix is the prefix of all admin API routes.
const PathPrefix = "/admin/v1"

// Error messages of the admin API.
var (
	ErrMessageUnknownRule        = "Unknown rate limit rule"
	ErrMessageEntryNotFound      = "No rate limit entry for the key"
	ErrMessageNoInspection       = "The rule algorithm does not support inspection"
	ErrMessageStorageUnavailable = "Rate limit storage is unavailable"
	ErrMessageEmptyKey           = "Rate limit key is required"
)

// RuleInfo describes a configured rate limit rule.
type RuleInfo struct {
	Name         string `json:"name"`
	MaxRequests  int    `json:"maxRequests"`
	WindowMillis int64  `json:"windowMillis"`
}

// Handler serves the admin API over a set of named limiters.
type Handler struct {
	limiters map[string]ratelimit.Limiter
	auth     Authenticator
}

// NewHandler creates a new Handler. Limiters are keyed by rule name.
// The "default" rule is used when a request does not specify one.
func NewHandler(limiters map[string]ratelimit.Limiter, auth Authenticator) (*Handler, error) {
	if auth == nil {
		return nil, errors.New("admin API authenticator is required")
	}
	if len(limiters) == 0 {
		return nil, errors.New("at least one rate limiter is required")
	}
	return &Handler{limiters: limiters, auth: auth}, nil
}

// Route mounts the admin API at PathPrefix.
func (h *Handler) Route(router chi.Router) {
	router.Route(PathPrefix, func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/rules", h.listRules)
		r.Get("/rate-limits/*", h.getEntry)
		r.Delete("/rate-limits/*", h.resetKey)
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := h.auth.Authenticate(r); err != nil {
			logger := middleware.GetLoggerFromContext(r.Context())
			logger.Warn("admin API request is not authenticated", log.Error(err))
			rw.Header().Set("WWW-Authenticate", `Bearer realm="guardian"`)
			restapi.RespondError(rw, http.StatusUnauthorized,
				restapi.NewErrorForStatus(http.StatusUnauthorized, "Valid bearer token is required"), logger)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (h *Handler) listRules(rw http.ResponseWriter, r *http.Request) {
	rules := make([]RuleInfo, 0, len(h.limiters))
	for name, limiter := range h.limiters {
		policy := limiter.Policy()
		rules = append(rules, RuleInfo{Name: name, MaxRequests: policy.MaxRequests, WindowMillis: policy.WindowMillis()})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	restapi.RespondJSON(rw, rules, middleware.GetLoggerFromContext(r.Context()))
}

func (h *Handler) getEntry(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	limiter, key, ok := h.resolve(rw, r)
	if !ok {
		return
	}
	inspector, ok := limiter.(ratelimit.Inspector)
	if !ok {
		restapi.RespondError(rw, http.StatusNotImplemented,
			restapi.NewErrorForStatus(http.StatusNotImplemented, ErrMessageNoInspection), logger)
		return
	}
	entry, found, err := inspector.Entry(r.Context(), key)
	if err != nil {
		respondStorageError(rw, err, logger)
		return
	}
	if !found {
		restapi.RespondError(rw, http.StatusNotFound,
			restapi.NewErrorForStatus(http.StatusNotFound, ErrMessageEntryNotFound), logger)
		return
	}
	restapi.RespondJSON(rw, entry, logger)
}

func (h *Handler) resetKey(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	limiter, key, ok := h.resolve(rw, r)
	if !ok {
		return
	}
	if err := limiter.Reset(r.Context(), key); err != nil {
		respondStorageError(rw, err, logger)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// resolve finds the limiter of the "rule" query parameter and the key from the path.
// The key is path-escaped by clients, since it may contain slashes.
func (h *Handler) resolve(rw http.ResponseWriter, r *http.Request) (ratelimit.Limiter, string, bool) {
	logger := middleware.GetLoggerFromContext(r.Context())

	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		restapi.RespondError(rw, http.StatusBadRequest,
			restapi.NewErrorForStatus(http.StatusBadRequest, ErrMessageEmptyKey), logger)
		return nil, "", false
	}

	rule := r.URL.Query().Get("rule")
	if rule == "" {
		rule = ratelimit.DefaultRuleName
	}
	limiter, ok := h.limiters[rule]
	if !ok {
		restapi.RespondError(rw, http.StatusNotFound,
			restapi.NewErrorForStatus(http.StatusNotFound, ErrMessageUnknownRule), logger)
		return nil, "", false
	}
	return limiter, key, true
}

func respondStorageError(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	if errors.Is(err, ratelimit.ErrStorageUnavailable) {
		logger.Error("rate limit storage request failed", log.Error(err))
		restapi.RespondError(rw, http.StatusServiceUnavailable,
			restapi.NewErrorForStatus(http.StatusServiceUnavailable, ErrMessageStorageUnavailable), logger)
		return
	}
	logger.Error(fmt.Sprintf("admin API request failed: %v", err))
	restapi.RespondInternalError(rw, logger)
}
