/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"time"
)

// Entry is the state of one key in the current window.
type Entry struct {
	Key     string    `json:"key"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Expired reports whether the window of the entry is over at the moment.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Store keeps fixed window counters.
//
// Increment must be atomic for a key: if the stored window is absent or over,
// it starts a new one with Count = 1 and ResetAt = now + window,
// otherwise it increments Count. When maxCount > 0, Count never exceeds maxCount.
// The returned entry is the state after the update.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, maxCount int64) (Entry, error)
	Get(ctx context.Context, key string) (entry Entry, found bool, err error)
	Reset(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
