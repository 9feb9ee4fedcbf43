/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"math"
	"time"
)

// Policy is the maximum number of requests allowed per window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// NewPolicy creates a policy from the number of requests and the window length in milliseconds.
// Non-positive values produce *ConfigurationError.
func NewPolicy(maxRequests int, windowMillis int64) (Policy, error) {
	if maxRequests <= 0 {
		return Policy{}, &ConfigurationError{Field: "maxRequests", Value: int64(maxRequests)}
	}
	if windowMillis <= 0 {
		return Policy{}, &ConfigurationError{Field: "windowMillis", Value: windowMillis}
	}
	return Policy{MaxRequests: maxRequests, Window: time.Duration(windowMillis) * time.Millisecond}, nil
}

// Validate returns *ConfigurationError if the policy cannot be enforced.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return &ConfigurationError{Field: "maxRequests", Value: int64(p.MaxRequests)}
	}
	if p.Window < time.Millisecond {
		return &ConfigurationError{Field: "windowMillis", Value: p.Window.Milliseconds()}
	}
	return nil
}

// WindowMillis returns the window length in milliseconds.
func (p Policy) WindowMillis() int64 {
	return p.Window.Milliseconds()
}

// RetryAfterSeconds is the value for the Retry-After header: the window length rounded up to whole seconds.
func (p Policy) RetryAfterSeconds() int {
	return int(math.Ceil(p.Window.Seconds()))
}
