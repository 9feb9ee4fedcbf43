/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads guardian configuration from files and environment variables
// and distributes the values between section objects (log, server, rate limiting, admin).
package config

// Config is a common interface for configuration sections that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is implemented by sections that live under a key prefix (e.g. "ratelimit").
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// ProviderFor returns the data provider a section should read from.
// If the section has a non-empty key prefix, the provider is wrapped into KeyPrefixedDataProvider.
func ProviderFor(dp DataProvider, cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}
