/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "context"

// Limiter decides whether a request identified by a key exceeds the rate limit.
type Limiter interface {
	// IsRateLimited counts the request and reports whether it must be rejected.
	// It never fails: when the state cannot be read or updated, the request is admitted.
	IsRateLimited(ctx context.Context, key string) bool

	// Reset clears the state of the key, so the next request starts a new window.
	Reset(ctx context.Context, key string) error

	// Policy returns the policy currently enforced.
	Policy() Policy
}

// Inspector is implemented by limiters that can report the stored state of a key.
type Inspector interface {
	Entry(ctx context.Context, key string) (entry Entry, found bool, err error)
}
