/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

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

func TestConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(t, "")
	require.NoError(t, err)
	require.Equal(t, Policy{MaxRequests: 100, Window: time.Minute}, cfg.Policy)
	require.Equal(t, AlgorithmFixedWindow, cfg.Algorithm)
	require.Equal(t, KeyByIP, cfg.KeyBy)
	require.Equal(t, DefaultStoreTimeout, cfg.StoreTimeout)
	require.Equal(t, DefaultMaxKeys, cfg.MaxKeys)
	require.Equal(t, DefaultFailOpenLogInterval, cfg.FailOpenLogInterval)
	require.Equal(t, StorageMemory, cfg.Storage.Type)
	require.Empty(t, cfg.Rules)
}

func TestConfig_Full(t *testing.T) {
	cfg, err := loadConfig(t, `
ratelimit:
  maxRequests: 50
  windowMillis: 1500
  keyBy: IP_ROUTE
  trustForwardedFor: true
  dryRun: true
  storeTimeout: 250ms
  excludedPaths: "/healthz, /metrics"
  rules:
    - name: login
      paths: ["/api/v1/login"]
      maxRequests: 5
      windowMillis: 60000
    - name: hourly
      paths: "/api/*"
      maxRequests: 1000
      windowMillis: 3600000
      keyBy: ip
  storage:
    type: redis
    redis:
      addrs: ["redis-1:6379", "redis-2:6379"]
      db: 2
`)
	require.NoError(t, err)
	require.Equal(t, Policy{MaxRequests: 50, Window: 1500 * time.Millisecond}, cfg.Policy)
	require.Equal(t, KeyByIPRoute, cfg.KeyBy)
	require.True(t, cfg.TrustForwardedFor)
	require.True(t, cfg.DryRun)
	require.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	require.Equal(t, []string{"/healthz", "/metrics"}, cfg.ExcludedPaths)

	require.Len(t, cfg.Rules, 2)
	require.Equal(t, RuleConfig{
		Name: "login", Paths: []string{"/api/v1/login"}, MaxRequests: 5, WindowMillis: 60000, KeyBy: KeyByIPRoute,
	}, cfg.Rules[0])
	require.Equal(t, []string{"/api/*"}, cfg.Rules[1].Paths)
	require.Equal(t, KeyByIP, cfg.Rules[1].KeyBy)
	hourly, err := cfg.Rules[1].Policy()
	require.NoError(t, err)
	require.Equal(t, time.Hour, hourly.Window)

	require.Equal(t, StorageRedis, cfg.Storage.Type)
	require.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.Storage.Redis.Addrs)
	require.Equal(t, 2, cfg.Storage.Redis.DB)
	require.Equal(t, DefaultRedisKeyPrefix, cfg.Storage.Redis.KeyPrefix)
}

func TestConfig_SQLStorage(t *testing.T) {
	cfg, err := loadConfig(t, `
ratelimit:
  storage:
    type: sqlite
    sql:
      dsn: "file:limits.db"
      purgeInterval: 1m
`)
	require.NoError(t, err)
	require.True(t, cfg.Storage.Type.IsSQL())
	require.Equal(t, "file:limits.db", cfg.Storage.SQL.DSN)
	require.Equal(t, DefaultSQLTable, cfg.Storage.SQL.Table)
	require.Equal(t, time.Minute, cfg.Storage.SQL.PurgeInterval)
}

func TestConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "zero max requests",
			yaml:    "ratelimit:\n  maxRequests: 0",
			wantErr: "maxRequests must be positive",
		},
		{
			name:    "negative window",
			yaml:    "ratelimit:\n  windowMillis: -1",
			wantErr: "windowMillis must be positive",
		},
		{
			name:    "unknown algorithm",
			yaml:    "ratelimit:\n  algorithm: token_bucket",
			wantErr: `ratelimit.algorithm: unknown value "token_bucket"`,
		},
		{
			name:    "unknown storage",
			yaml:    "ratelimit:\n  storage:\n    type: etcd",
			wantErr: `ratelimit.storage.type: unknown value "etcd"`,
		},
		{
			name:    "redis without addrs",
			yaml:    "ratelimit:\n  storage:\n    type: redis",
			wantErr: "ratelimit.storage.redis.addrs: cannot be empty",
		},
		{
			name:    "sql without dsn",
			yaml:    "ratelimit:\n  storage:\n    type: postgres",
			wantErr: "ratelimit.storage.sql.dsn: cannot be empty",
		},
		{
			name:    "sliding window on shared storage",
			yaml:    "ratelimit:\n  algorithm: sliding_window\n  storage:\n    type: redis\n    redis:\n      addrs: [localhost:6379]",
			wantErr: `"sliding_window" is supported only with "memory" storage`,
		},
		{
			name:    "rule without name",
			yaml:    "ratelimit:\n  rules:\n    - paths: [/a]\n      maxRequests: 1\n      windowMillis: 1",
			wantErr: "ratelimit.rules[0].name: cannot be empty",
		},
		{
			name:    "rule with invalid policy",
			yaml:    "ratelimit:\n  rules:\n    - name: a\n      paths: [/a]\n      maxRequests: 1",
			wantErr: "ratelimit.rules[0]: invalid rate limit configuration: windowMillis must be positive",
		},
		{
			name:    "duplicate rules",
			yaml:    "ratelimit:\n  rules:\n    - {name: a, paths: [/a], maxRequests: 1, windowMillis: 1}\n    - {name: a, paths: [/b], maxRequests: 1, windowMillis: 1}",
			wantErr: `ratelimit.rules[1].name: duplicate rule "a"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(t, tt.yaml)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
