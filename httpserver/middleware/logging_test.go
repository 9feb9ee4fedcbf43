/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/log/logtest"
)

func TestLogging(t *testing.T) {
	t.Run("log completed request", func(t *testing.T) {
		logger := logtest.NewRecorder()
		next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			GetLoggerFromContext(r.Context()).Info("inside handler")
			GetLoggingParamsFromContext(r.Context()).ExtendFields(log.String("rule", "login"))
			rw.WriteHeader(http.StatusCreated)
			_, _ = rw.Write([]byte("ok"))
		})
		req := httptest.NewRequest(http.MethodPost, "/items?token=secret&page=2", nil)
		req = req.WithContext(NewContextWithRequestID(req.Context(), "req-1"))
		h := LoggingWithOpts(logger, LoggingOpts{SecretQueryParams: []string{"token"}})(next)
		h.ServeHTTP(httptest.NewRecorder(), req)

		inside, found := logger.FindEntry("inside handler")
		require.True(t, found)
		field, found := inside.FindField("request_id")
		require.True(t, found)
		require.Equal(t, "req-1", string(field.Bytes))

		completed, found := logger.FindEntryByFilter(func(e logtest.RecordedEntry) bool {
			return len(e.Text) > len("response completed") && e.Text[:len("response completed")] == "response completed"
		})
		require.True(t, found)
		status, found := completed.FindField("status")
		require.True(t, found)
		require.Equal(t, int64(http.StatusCreated), status.Int)
		bytesSent, found := completed.FindField("bytes_sent")
		require.True(t, found)
		require.Equal(t, int64(2), bytesSent.Int)
		uri, found := completed.FindField("uri")
		require.True(t, found)
		require.Equal(t, "/items?page=2&token="+LoggingSecretQueryPlaceholder, string(uri.Bytes))
		_, found = completed.FindField("rule")
		require.True(t, found)
	})

	t.Run("excluded endpoint is logged only on error", func(t *testing.T) {
		logger := logtest.NewRecorder()
		status := http.StatusOK
		next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(status) })
		h := LoggingWithOpts(logger, LoggingOpts{ExcludedEndpoints: []string{"/healthz"}})(next)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Empty(t, logger.Entries())

		status = http.StatusServiceUnavailable
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Len(t, logger.Entries(), 1)
	})

	t.Run("time slots for slow requests", func(t *testing.T) {
		logger := logtest.NewRecorder()
		next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			GetLoggingParamsFromContext(r.Context()).AddTimeSlotDurationInMs("store_ms", 5*time.Millisecond)
			time.Sleep(20 * time.Millisecond)
		})
		h := LoggingWithOpts(logger, LoggingOpts{SlowRequestThreshold: 10 * time.Millisecond})(next)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		entries := logger.Entries()
		require.Len(t, entries, 1)
		_, found := entries[0].FindField("time_slots")
		require.True(t, found)
	})
}
