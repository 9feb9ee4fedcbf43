/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an optional pprof HTTP server that runs next to the rate limiting server.
package profserver

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/service"
)

const readHeaderTimeout = 5 * time.Second

// ProfServer serves pprof endpoints under /debug/pprof/.
// It implements service.Unit interface.
type ProfServer struct {
	HTTPServer *http.Server
	Logger     log.FieldLogger

	listening chan struct{}
	done      chan struct{}
	addr      net.Addr
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new ProfServer.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	logger = logger.With(log.String("server", "profiler"))
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{}),
	)
	router.Mount("/debug", chimiddleware.Profiler())

	return &ProfServer{
		HTTPServer: &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: readHeaderTimeout},
		Logger:     logger,
		listening:  make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start serves requests in a blocking way. A listen or serve error is sent to fatalError.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.done)

	ln, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		close(s.listening)
		s.Logger.Error("profiling server cannot listen", log.Error(err))
		fatalError <- err
		return
	}
	s.addr = ln.Addr()
	close(s.listening)

	s.Logger.Info("profiling server is listening", log.String("address", s.addr.String()))
	if err = s.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Logger.Error("profiling server error", log.Error(err))
		fatalError <- err
	}
}

// URL returns the base URL once the server is listening, or an empty string if it failed to listen.
func (s *ProfServer) URL() string {
	<-s.listening
	if s.addr == nil {
		return ""
	}
	return "http://" + s.addr.String()
}

// Stop closes the server. Profiling requests are not waited for.
func (s *ProfServer) Stop(bool) error {
	if err := s.HTTPServer.Close(); err != nil {
		return err
	}
	select {
	case <-s.listening:
		<-s.done
	default:
	}
	return nil
}
