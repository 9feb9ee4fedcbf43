/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/restapi"
)

func configureRouter(router chi.Router, logger log.FieldLogger, opts Opts) { //nolint:gocritic // hugeParam
	router.Use(opts.RootMiddlewares...)

	router.Method(http.MethodGet, "/metrics", metricsHandler(opts.MetricsGatherer))
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck))

	for _, route := range opts.Routes {
		route(router)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondError(rw, http.StatusNotFound,
			restapi.NewError(restapi.ErrTitleNotFound, restapi.ErrMessageNotFound), middleware.GetLoggerFromContext(r.Context()))
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondError(rw, http.StatusMethodNotAllowed,
			restapi.NewError(restapi.ErrTitleMethodNotAllowed, restapi.ErrMessageMethodNotAllowed),
			middleware.GetLoggerFromContext(r.Context()))
	})
}

func applyDefaultMiddlewaresToRouter(
	router chi.Router, cfg *Config, logger log.FieldLogger, reqMetrics *middleware.HTTPRequestMetricsCollector,
) {
	router.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(rw, r.WithContext(middleware.NewContextWithRequestStartTime(r.Context(), time.Now())))
		})
	})

	router.Use(middleware.RequestID())

	loggingOpts := middleware.LoggingOpts{
		RequestStart:         cfg.Log.RequestStart,
		RequestHeaders:       make(map[string]string, len(cfg.Log.RequestHeaders)),
		ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
		SecretQueryParams:    cfg.Log.SecretQueryParams,
		SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
	}
	for _, headerName := range cfg.Log.RequestHeaders {
		loggingOpts.RequestHeaders[headerName] = "req_header_" + strings.ToLower(strings.ReplaceAll(headerName, "-", "_"))
	}
	router.Use(middleware.LoggingWithOpts(logger, loggingOpts))

	router.Use(middleware.Recovery())

	router.Use(middleware.HTTPRequestMetricsWithOpts(reqMetrics, middleware.GetChiRoutePattern,
		middleware.HTTPRequestMetricsOpts{ExcludedEndpoints: systemEndpoints}))
}

// GetChiRoutePattern extracts chi route pattern from request.
// Unlike middleware.GetChiRoutePattern, it also works in root middlewares that run before routing
// by matching the request against the router in advance.
func GetChiRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	if rctx.Routes == nil {
		return ""
	}

	routePath := r.URL.RawPath
	if routePath == "" {
		routePath = r.URL.Path
	}

	tctx := chi.NewRouteContext()
	if !rctx.Routes.Match(tctx, r.Method, routePath) {
		return ""
	}
	return tctx.RoutePattern()
}
