/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit bounds the number of requests a key (a client address, optionally
// combined with a route) may perform within a time window.
//
// FixedWindowLimiter is the main implementation. It counts requests per key in fixed windows
// and delegates the atomic increment-or-reset step to a pluggable Store:
// in-process (memstore), Redis (redisstore) or SQL (sqlstore).
// Storage failures never reject requests: the request is admitted and the failure
// is reported through logs and metrics.
//
// SlidingWindowLimiter and LeakyBucketLimiter are in-process alternatives
// for single-instance deployments.
package ratelimit
