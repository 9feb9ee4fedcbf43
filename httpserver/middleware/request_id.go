/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/rs/xid"
)

const (
	headerRequestID         = "X-Request-ID"
	headerInternalRequestID = "X-Int-Request-ID"
)

// RequestID propagates the caller's X-Request-ID (or generates one) and assigns every request
// its own internal id. Both ids are stored in the request context and echoed in the response headers,
// so a rejected request can be matched with guardian's log entry.
func RequestID() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = xid.New().String()
			}
			internalRequestID := xid.New().String()
			rw.Header().Set(headerRequestID, requestID)
			rw.Header().Set(headerInternalRequestID, internalRequestID)

			ctx := NewContextWithRequestID(r.Context(), requestID)
			ctx = NewContextWithInternalRequestID(ctx, internalRequestID)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}
