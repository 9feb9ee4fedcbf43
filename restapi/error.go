/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import "net/http"

// Error is the body of every error response: {"error": "...", "message": "..."}.
type Error struct {
	Err     string `json:"error"`
	Message string `json:"message"`
}

// Error titles. They are variables so a deployment may localize them.
var (
	ErrTitleTooManyRequests    = "Too many requests"
	ErrTitleUnauthorized       = "Unauthorized"
	ErrTitleNotFound           = "Not found"
	ErrTitleMethodNotAllowed   = "Method not allowed"
	ErrTitleInternal           = "Internal error"
	ErrTitleServiceUnavailable = "Service unavailable"
	ErrTitleBadRequest         = "Bad request"
)

// Error messages.
var (
	ErrMessageTooManyRequests  = "Please try again later"
	ErrMessageInternal         = "Something went wrong on our side"
	ErrMessageNotFound         = "The requested resource does not exist"
	ErrMessageMethodNotAllowed = "The method is not supported for the requested resource"
)

// NewError creates a new Error.
func NewError(title, message string) *Error {
	return &Error{Err: title, Message: message}
}

// NewTooManyRequestsError returns the error sent when a client exceeds the rate limit.
func NewTooManyRequestsError() *Error {
	return NewError(ErrTitleTooManyRequests, ErrMessageTooManyRequests)
}

// NewInternalError returns the generic 500 error.
func NewInternalError() *Error {
	return NewError(ErrTitleInternal, ErrMessageInternal)
}

// NewErrorForStatus returns an error with a title derived from the HTTP status text.
func NewErrorForStatus(statusCode int, message string) *Error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return NewError(ErrTitleTooManyRequests, message)
	case http.StatusUnauthorized:
		return NewError(ErrTitleUnauthorized, message)
	case http.StatusNotFound:
		return NewError(ErrTitleNotFound, message)
	case http.StatusServiceUnavailable:
		return NewError(ErrTitleServiceUnavailable, message)
	case http.StatusBadRequest:
		return NewError(ErrTitleBadRequest, message)
	}
	return NewError(http.StatusText(statusCode), message)
}
