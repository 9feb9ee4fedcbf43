/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complianceguardian/guardian/config"
)

func loadConfig(t *testing.T, yamlData string) (*Config, error) {
	t.Helper()
	cfg := NewConfig()
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(yamlData), config.DataTypeYAML, cfg)
	return cfg, err
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig(t, "")
		require.NoError(t, err)
		require.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("full", func(t *testing.T) {
		cfg, err := loadConfig(t, `
server:
  address: "127.0.0.1:8080"
  timeouts:
    write: 1h
    read: 7m
    readHeader: 1m
    idle: 20m
    shutdown: 30s
  limits:
    maxHeaderBytes: 512K
  log:
    requestStart: true
    requestHeaders: ["X-Client-Id"]
    excludedEndpoints: ["/healthz"]
    secretQueryParams: ["token"]
    slowRequestThreshold: 2s
  tls:
    enabled: true
    cert: "/test/cert"
    key: "/test/key"
`)
		require.NoError(t, err)

		expected := NewDefaultConfig()
		expected.Address = "127.0.0.1:8080"
		expected.Timeouts = TimeoutsConfig{
			Write:      config.TimeDuration(time.Hour),
			Read:       config.TimeDuration(7 * time.Minute),
			ReadHeader: config.TimeDuration(time.Minute),
			Idle:       config.TimeDuration(20 * time.Minute),
			Shutdown:   config.TimeDuration(30 * time.Second),
		}
		expected.Limits.MaxHeaderBytes = 512 * 1024
		expected.Log = LogConfig{
			RequestStart:         true,
			RequestHeaders:       []string{"X-Client-Id"},
			ExcludedEndpoints:    []string{"/healthz"},
			SecretQueryParams:    []string{"token"},
			SlowRequestThreshold: config.TimeDuration(2 * time.Second),
		}
		expected.TLS = TLSConfig{Enabled: true, Certificate: "/test/cert", Key: "/test/key"}
		require.Equal(t, expected, cfg)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			data   string
			errMsg string
		}{
			{
				name:   "no address",
				data:   "server:\n  address: \"\"",
				errMsg: "server.address: either address or unixSocketPath should be set",
			},
			{
				name:   "negative timeout",
				data:   "server:\n  timeouts:\n    read: -1s",
				errMsg: "server.timeouts.read: cannot be negative",
			},
			{
				name:   "header limit too big",
				data:   "server:\n  limits:\n    maxHeaderBytes: 1G",
				errMsg: "server.limits.maxHeaderBytes: should be <= 64M",
			},
			{
				name:   "tls without key",
				data:   "server:\n  tls:\n    enabled: true\n    cert: /cert",
				errMsg: "server.tls.key: both cert and key should be set",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := loadConfig(t, tt.data)
				require.EqualError(t, err, tt.errMsg)
			})
		}
	})
}
