/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs guardian components (HTTP server, background workers) as units
// with a common start/stop lifecycle and graceful shutdown on OS signals.
package service

// Unit is a component with its own lifecycle.
type Unit interface {
	// Start either initializes the unit and returns, or blocks for the unit's lifetime.
	// A failure is reported by writing to fatalErr. The channel must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus collectors.
// The registry is chosen when the unit is constructed.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
