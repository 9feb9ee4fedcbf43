/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/complianceguardian/guardian/httpserver"
	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/internal/adminapi"
	"github.com/complianceguardian/guardian/internal/buildinfo"
	"github.com/complianceguardian/guardian/internal/keytable"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/profserver"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/restapi"
	"github.com/complianceguardian/guardian/service"
)

// MemoryStoreKeysTable labels the key table metrics of the in-memory counter store.
// Limiter tables are labelled with the rule name.
const MemoryStoreKeysTable = "memstore"

// StoreHealthComponent is the name of the health-check component reporting the counter store state.
const StoreHealthComponent = "ratelimit_store"

const (
	healthCheckTimeout     = 2 * time.Second
	minMemoryPurgeInterval = time.Minute
)

// Opts represents options for creating App.
type Opts struct {
	// Routes are the routes of the protected application. They are served behind the rate limiting middlewares.
	Routes []httpserver.Route

	// Registry defaults to a new prometheus.Registry with Go and process collectors.
	Registry *prometheus.Registry
}

// App wires configuration, counter storage, limiters, the HTTP server and background workers together.
type App struct {
	Config   *Config
	Logger   log.FieldLogger
	Registry *prometheus.Registry
	Storage  *Storage
	Limiters map[string]ratelimit.Limiter
	Server   *httpserver.HTTPServer

	unit    service.Unit
	metrics []service.MetricsRegisterer
}

// New creates App. The storage is opened (with retries) and must be released by Close.
func New(ctx context.Context, cfg *Config, logger log.FieldLogger, opts Opts) (*App, error) {
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if err := registry.Register(buildinfo.NewInfoGauge()); err != nil {
		return nil, fmt.Errorf("register build info metric: %w", err)
	}

	decisionMetrics := ratelimit.NewPrometheusMetrics(ratelimit.PrometheusMetricsOpts{Registerer: registry})
	keysMetrics := keytable.NewPrometheusMetrics(keytable.PrometheusMetricsOpts{Registerer: registry})

	storage, err := OpenStorage(ctx, cfg.RateLimit, logger, keysMetrics.ForTable(MemoryStoreKeysTable))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Registry: registry, Storage: storage}
	if err = a.init(opts, LimiterMetrics{Decisions: decisionMetrics, Keys: keysMetrics}); err != nil {
		_ = storage.Close()
		return nil, err
	}

	// Limiters count decisions as soon as the router is used, so their metrics do not wait for Run.
	a.metrics = []service.MetricsRegisterer{decisionMetrics, keysMetrics}
	for _, m := range a.metrics {
		m.MustRegisterMetrics()
	}
	return a, nil
}

func (a *App) init(opts Opts, limiterMetrics LimiterMetrics) error {
	var err error
	if a.Limiters, err = NewLimiters(a.Config.RateLimit, a.Storage.Store, a.Logger, limiterMetrics); err != nil {
		return err
	}
	rateLimitMWs, err := NewRateLimitMiddlewares(a.Config.RateLimit, a.Limiters)
	if err != nil {
		return err
	}

	routes := append([]httpserver.Route(nil), opts.Routes...)
	if a.Config.Admin.Enabled {
		auth, authErr := adminapi.NewAuthenticator(a.Config.Admin.Auth)
		if authErr != nil {
			return fmt.Errorf("create admin API authenticator: %w", authErr)
		}
		adminHandler, handlerErr := adminapi.NewHandler(a.Limiters, auth)
		if handlerErr != nil {
			return fmt.Errorf("create admin API handler: %w", handlerErr)
		}
		routes = append(routes, adminHandler.Route)
	}
	if a.Config.Proxy.Upstream != nil {
		routes = append(routes, a.proxyRoute())
	}

	a.Server = httpserver.New(a.Config.Server, a.Logger, httpserver.Opts{
		Routes:            routes,
		RootMiddlewares:   rateLimitMWs,
		HealthCheck:       a.healthCheck,
		MetricsGatherer:   a.Registry,
		MetricsRegisterer: a.Registry,
	})

	units := []service.Unit{a.Server}
	if a.Config.Profiler.Enabled {
		units = append(units, profserver.New(a.Config.Profiler, a.Logger))
	}
	if purgeUnit := a.newPurgeUnit(); purgeUnit != nil {
		units = append(units, purgeUnit)
	}
	a.unit = service.NewCompositeUnit(units...)
	return nil
}

func (a *App) healthCheck(ctx context.Context) (httpserver.HealthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	err := a.Storage.Ping(ctx)
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return httpserver.HealthReport{StoreHealthComponent: err}, nil
}

func (a *App) proxyRoute() httpserver.Route {
	proxy := httputil.NewSingleHostReverseProxy(a.Config.Proxy.Upstream)
	proxy.FlushInterval = a.Config.Proxy.FlushInterval
	proxy.ErrorHandler = func(rw http.ResponseWriter, r *http.Request, err error) {
		logger := middleware.GetLoggerFromContext(r.Context())
		logger.Error("proxying request to upstream failed", log.Error(err))
		restapi.RespondError(rw, http.StatusBadGateway,
			restapi.NewErrorForStatus(http.StatusBadGateway, "Upstream is not available"), logger)
	}
	return func(router chi.Router) {
		router.Handle("/*", proxy)
	}
}

func (a *App) newPurgeUnit() *service.WorkerUnit {
	if a.Storage.Purger == nil {
		return nil
	}
	interval := a.Config.RateLimit.Storage.SQL.PurgeInterval
	if a.Storage.Type == ratelimit.StorageMemory {
		interval = max(a.Config.RateLimit.Policy.Window, minMemoryPurgeInterval)
	}
	if interval <= 0 {
		return nil
	}
	purger := a.Storage.Purger
	logger := a.Logger.With(log.String("worker", "ratelimit_purge"))
	worker := service.NewPeriodicWorker(service.WorkerFunc(func(ctx context.Context) error {
		purged, err := purger.PurgeExpired(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("purge expired rate limit counters: %w", err)
		}
		if purged > 0 {
			logger.Info("expired rate limit counters are purged", log.Int64("purged", purged))
		}
		return nil
	}), interval, logger, service.PeriodicWorkerOpts{Name: "ratelimit_purge", InitialDelay: interval})
	return service.NewWorkerUnit(worker, service.WorkerUnitOpts{})
}

// Run serves until ctx is done or a shutdown signal is received.
func (a *App) Run(ctx context.Context) error {
	return service.New(a.Logger, a.unit).StartContext(ctx)
}

// Close unregisters limiter metrics and releases the storage.
func (a *App) Close() error {
	for _, m := range a.metrics {
		m.UnregisterMetrics()
	}
	return a.Storage.Close()
}
