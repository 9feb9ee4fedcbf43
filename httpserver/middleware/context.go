/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/complianceguardian/guardian/log"
)

type (
	requestIDKey         struct{}
	internalRequestIDKey struct{}
	loggerKey            struct{}
	loggingParamsKey     struct{}
	requestStartTimeKey  struct{}
)

// valueFromContext returns the zero T if ctx holds no value of type T under key.
func valueFromContext[T any](ctx context.Context, key any) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// NewContextWithRequestID stores the X-Request-ID value.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestIDFromContext returns the X-Request-ID value or an empty string.
func GetRequestIDFromContext(ctx context.Context) string {
	return valueFromContext[string](ctx, requestIDKey{})
}

func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, internalRequestIDKey{}, internalRequestID)
}

func GetInternalRequestIDFromContext(ctx context.Context) string {
	return valueFromContext[string](ctx, internalRequestIDKey{})
}

// NewContextWithLogger stores the request-scoped logger (with request ids as fields).
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLoggerFromContext returns the request-scoped logger, or a disabled one outside the Logging middleware.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	if logger := valueFromContext[log.FieldLogger](ctx, loggerKey{}); logger != nil {
		return logger
	}
	return log.NewDisabledLogger()
}

// NewContextWithLoggingParams stores params that handlers may enrich for the final request log entry.
func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return context.WithValue(ctx, loggingParamsKey{}, loggingParams)
}

func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	return valueFromContext[*LoggingParams](ctx, loggingParamsKey{})
}

func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, requestStartTimeKey{}, startTime)
}

// GetRequestStartTimeFromContext returns the zero time if the request start time was not recorded.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	return valueFromContext[time.Time](ctx, requestStartTimeKey{})
}
