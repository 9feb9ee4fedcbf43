/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/complianceguardian/guardian/httpserver/middleware"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/restapi"
)

// StatusClientClosedRequest is the Nginx status for requests the client abandoned before the response was sent.
const StatusClientClosedRequest = 499

// HealthReport maps a component name to the error of its check. A nil error means the component is healthy.
type HealthReport map[string]error

// HealthCheck checks the components guardian depends on (e.g. the rate limit store).
// A non-nil error means the check itself could not be done.
type HealthCheck func(ctx context.Context) (HealthReport, error)

type healthResponse struct {
	Components map[string]bool `json:"components"`
}

// NewHealthCheckHandler returns the /healthz handler. It responds with 503 if any component is unhealthy.
func NewHealthCheckHandler(check HealthCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := middleware.GetLoggerFromContext(ctx)

		var report HealthReport
		var err error
		if check != nil {
			report, err = check(ctx)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				rw.WriteHeader(StatusClientClosedRequest)
				return
			}
			logger.Error("health-check failed", log.Error(err))
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		resp := healthResponse{Components: make(map[string]bool, len(report))}
		for name, componentErr := range report {
			resp.Components[name] = componentErr == nil
			if componentErr != nil {
				logger.Warn("component is unhealthy", log.String("component", name), log.Error(componentErr))
				status = http.StatusServiceUnavailable
			}
		}
		restapi.RespondCodeAndJSON(rw, status, resp, logger)
	})
}
