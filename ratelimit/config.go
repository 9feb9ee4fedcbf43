/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/complianceguardian/guardian/config"
)

const (
	cfgKeyMaxRequests         = "maxRequests"
	cfgKeyWindowMillis        = "windowMillis"
	cfgKeyAlgorithm           = "algorithm"
	cfgKeyKeyBy               = "keyBy"
	cfgKeyTrustForwardedFor   = "trustForwardedFor"
	cfgKeyDryRun              = "dryRun"
	cfgKeyStoreTimeout        = "storeTimeout"
	cfgKeyMaxKeys             = "maxKeys"
	cfgKeyFailOpenLogInterval = "failOpenLogInterval"
	cfgKeyExcludedPaths       = "excludedPaths"
	cfgKeyRules               = "rules"

	cfgKeyStorageType               = "storage.type"
	cfgKeyStorageRedisAddrs         = "storage.redis.addrs"
	cfgKeyStorageRedisPassword      = "storage.redis.password"
	cfgKeyStorageRedisDB            = "storage.redis.db"
	cfgKeyStorageRedisKeyPrefix     = "storage.redis.keyPrefix"
	cfgKeyStorageRedisPoolSize      = "storage.redis.poolSize"
	cfgKeyStorageSQLDSN             = "storage.sql.dsn"
	cfgKeyStorageSQLTable           = "storage.sql.table"
	cfgKeyStorageSQLPurgeInterval   = "storage.sql.purgeInterval"
	cfgKeyStorageSQLMaxOpenConns    = "storage.sql.maxOpenConns"
	cfgKeyStorageConnectMaxAttempts = "storage.connectMaxAttempts"
)

// Default configuration values.
const (
	DefaultMaxRequests        = 100
	DefaultWindowMillis       = 60000
	DefaultRedisKeyPrefix     = "guardian:ratelimit:"
	DefaultSQLTable           = "guardian_rate_limits"
	DefaultConnectMaxAttempts = 5
)

// Algorithm is a rate limiting algorithm.
type Algorithm string

// Rate limiting algorithms.
const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
)

// KeyBy defines how the rate limiting key is built from a request.
type KeyBy string

// Key kinds.
const (
	KeyByIP      KeyBy = "ip"
	KeyByIPRoute KeyBy = "ip_route"
)

// StorageType is a kind of the rate limit store.
type StorageType string

// Storage types.
const (
	StorageMemory   StorageType = "memory"
	StorageRedis    StorageType = "redis"
	StoragePostgres StorageType = "postgres"
	StorageMySQL    StorageType = "mysql"
	StorageSQLite   StorageType = "sqlite"
)

// IsSQL reports whether the storage is backed by a SQL database.
func (st StorageType) IsSQL() bool {
	return st == StoragePostgres || st == StorageMySQL || st == StorageSQLite
}

var (
	availableAlgorithms = []string{
		string(AlgorithmFixedWindow), string(AlgorithmSlidingWindow), string(AlgorithmLeakyBucket)}
	availableKeyBy        = []string{string(KeyByIP), string(KeyByIPRoute)}
	availableStorageTypes = []string{
		string(StorageMemory), string(StorageRedis), string(StoragePostgres), string(StorageMySQL), string(StorageSQLite)}
)

// Config represents the "ratelimit" configuration section.
type Config struct {
	Policy              Policy
	Algorithm           Algorithm
	KeyBy               KeyBy
	TrustForwardedFor   bool
	DryRun              bool
	StoreTimeout        time.Duration
	MaxKeys             int
	FailOpenLogInterval time.Duration
	ExcludedPaths       []string
	Rules               []RuleConfig
	Storage             StorageConfig
}

// RuleConfig is an additional limit applied to requests whose path matches one of Paths.
type RuleConfig struct {
	Name         string   `mapstructure:"name"`
	Paths        []string `mapstructure:"paths"`
	MaxRequests  int      `mapstructure:"maxRequests"`
	WindowMillis int64    `mapstructure:"windowMillis"`
	KeyBy        KeyBy    `mapstructure:"keyBy"`
}

// Policy returns the policy of the rule.
func (r RuleConfig) Policy() (Policy, error) {
	return NewPolicy(r.MaxRequests, r.WindowMillis)
}

// StorageConfig configures the store used by the fixed window limiter.
type StorageConfig struct {
	Type               StorageType
	ConnectMaxAttempts int
	Redis              RedisConfig
	SQL                SQLConfig
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addrs     []string
	Password  string
	DB        int
	KeyPrefix string
	PoolSize  int
}

// SQLConfig configures the SQL store.
type SQLConfig struct {
	DSN           string
	Table         string
	PurgeInterval time.Duration
	MaxOpenConns  int
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new rate limiting configuration that is filled by config.Loader.
func NewConfig() *Config {
	return &Config{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *Config) KeyPrefix() string {
	return "ratelimit"
}

// SetProviderDefaults implements config.Config.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxRequests, DefaultMaxRequests)
	dp.SetDefault(cfgKeyWindowMillis, DefaultWindowMillis)
	dp.SetDefault(cfgKeyAlgorithm, string(AlgorithmFixedWindow))
	dp.SetDefault(cfgKeyKeyBy, string(KeyByIP))
	dp.SetDefault(cfgKeyStoreTimeout, DefaultStoreTimeout.String())
	dp.SetDefault(cfgKeyMaxKeys, DefaultMaxKeys)
	dp.SetDefault(cfgKeyFailOpenLogInterval, DefaultFailOpenLogInterval.String())
	dp.SetDefault(cfgKeyStorageType, string(StorageMemory))
	dp.SetDefault(cfgKeyStorageConnectMaxAttempts, DefaultConnectMaxAttempts)
	dp.SetDefault(cfgKeyStorageRedisKeyPrefix, DefaultRedisKeyPrefix)
	dp.SetDefault(cfgKeyStorageSQLTable, DefaultSQLTable)
}

// Set implements config.Config.
func (c *Config) Set(dp config.DataProvider) error {
	maxRequests, err := dp.GetInt(cfgKeyMaxRequests)
	if err != nil {
		return err
	}
	windowMillis, err := dp.GetInt64(cfgKeyWindowMillis)
	if err != nil {
		return err
	}
	if c.Policy, err = NewPolicy(maxRequests, windowMillis); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return dp.WrapKeyErr(cfgErr.Field, err)
		}
		return err
	}

	algorithm, err := dp.GetStringFromSet(cfgKeyAlgorithm, availableAlgorithms, true)
	if err != nil {
		return err
	}
	c.Algorithm = Algorithm(algorithm)

	keyBy, err := dp.GetStringFromSet(cfgKeyKeyBy, availableKeyBy, true)
	if err != nil {
		return err
	}
	c.KeyBy = KeyBy(keyBy)

	if c.TrustForwardedFor, err = dp.GetBool(cfgKeyTrustForwardedFor); err != nil {
		return err
	}
	if c.DryRun, err = dp.GetBool(cfgKeyDryRun); err != nil {
		return err
	}
	if c.StoreTimeout, err = dp.GetDuration(cfgKeyStoreTimeout); err != nil {
		return err
	}
	if c.StoreTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyStoreTimeout, fmt.Errorf("must be positive"))
	}
	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("must be positive"))
	}
	if c.FailOpenLogInterval, err = dp.GetDuration(cfgKeyFailOpenLogInterval); err != nil {
		return err
	}
	if c.ExcludedPaths, err = dp.GetStringSlice(cfgKeyExcludedPaths); err != nil {
		return err
	}
	if err = c.setRules(dp); err != nil {
		return err
	}
	if err = c.setStorage(dp); err != nil {
		return err
	}
	if c.Algorithm != AlgorithmFixedWindow && c.Storage.Type != StorageMemory {
		return dp.WrapKeyErr(cfgKeyAlgorithm,
			fmt.Errorf("%q is supported only with %q storage", c.Algorithm, StorageMemory))
	}
	return nil
}

func (c *Config) setRules(dp config.DataProvider) error {
	c.Rules = nil
	if !dp.IsSet(cfgKeyRules) {
		return nil
	}
	if err := dp.UnmarshalKey(cfgKeyRules, &c.Rules, config.WithTextUnmarshalHook()); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(c.Rules))
	for i := range c.Rules {
		rule := &c.Rules[i]
		key := fmt.Sprintf("%s[%d]", cfgKeyRules, i)
		if rule.Name == "" {
			return dp.WrapKeyErr(key+".name", fmt.Errorf("cannot be empty"))
		}
		if rule.Name == DefaultRuleName {
			return dp.WrapKeyErr(key+".name", fmt.Errorf("%q is reserved", DefaultRuleName))
		}
		if _, dup := names[rule.Name]; dup {
			return dp.WrapKeyErr(key+".name", fmt.Errorf("duplicate rule %q", rule.Name))
		}
		names[rule.Name] = struct{}{}
		if len(rule.Paths) == 0 {
			return dp.WrapKeyErr(key+".paths", fmt.Errorf("cannot be empty"))
		}
		if _, err := rule.Policy(); err != nil {
			return dp.WrapKeyErr(key, err)
		}
		switch KeyBy(strings.ToLower(string(rule.KeyBy))) {
		case "":
			rule.KeyBy = c.KeyBy
		case KeyByIP, KeyByIPRoute:
			rule.KeyBy = KeyBy(strings.ToLower(string(rule.KeyBy)))
		default:
			return dp.WrapKeyErr(key+".keyBy", fmt.Errorf("unknown value %q, should be one of %v", rule.KeyBy, availableKeyBy))
		}
	}
	return nil
}

func (c *Config) setStorage(dp config.DataProvider) error {
	storageType, err := dp.GetStringFromSet(cfgKeyStorageType, availableStorageTypes, true)
	if err != nil {
		return err
	}
	c.Storage.Type = StorageType(storageType)
	if c.Storage.ConnectMaxAttempts, err = dp.GetInt(cfgKeyStorageConnectMaxAttempts); err != nil {
		return err
	}
	if c.Storage.ConnectMaxAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyStorageConnectMaxAttempts, fmt.Errorf("should be >= 1"))
	}

	switch {
	case c.Storage.Type == StorageRedis:
		return c.setRedisStorage(dp)
	case c.Storage.Type.IsSQL():
		return c.setSQLStorage(dp)
	}
	return nil
}

func (c *Config) setRedisStorage(dp config.DataProvider) error {
	var err error
	redisCfg := &c.Storage.Redis
	if redisCfg.Addrs, err = dp.GetStringSlice(cfgKeyStorageRedisAddrs); err != nil {
		return err
	}
	if len(redisCfg.Addrs) == 0 {
		return dp.WrapKeyErr(cfgKeyStorageRedisAddrs, fmt.Errorf("cannot be empty when %q storage is used", StorageRedis))
	}
	if redisCfg.Password, err = dp.GetString(cfgKeyStorageRedisPassword); err != nil {
		return err
	}
	if redisCfg.DB, err = dp.GetInt(cfgKeyStorageRedisDB); err != nil {
		return err
	}
	if redisCfg.KeyPrefix, err = dp.GetString(cfgKeyStorageRedisKeyPrefix); err != nil {
		return err
	}
	if redisCfg.PoolSize, err = dp.GetInt(cfgKeyStorageRedisPoolSize); err != nil {
		return err
	}
	if redisCfg.PoolSize < 0 {
		return dp.WrapKeyErr(cfgKeyStorageRedisPoolSize, fmt.Errorf("should be >= 0"))
	}
	return nil
}

func (c *Config) setSQLStorage(dp config.DataProvider) error {
	var err error
	sqlCfg := &c.Storage.SQL
	if sqlCfg.DSN, err = dp.GetString(cfgKeyStorageSQLDSN); err != nil {
		return err
	}
	if sqlCfg.DSN == "" {
		return dp.WrapKeyErr(cfgKeyStorageSQLDSN, fmt.Errorf("cannot be empty when %q storage is used", c.Storage.Type))
	}
	if sqlCfg.Table, err = dp.GetString(cfgKeyStorageSQLTable); err != nil {
		return err
	}
	if sqlCfg.PurgeInterval, err = dp.GetDuration(cfgKeyStorageSQLPurgeInterval); err != nil {
		return err
	}
	if sqlCfg.PurgeInterval < 0 {
		return dp.WrapKeyErr(cfgKeyStorageSQLPurgeInterval, fmt.Errorf("should be >= 0"))
	}
	if sqlCfg.MaxOpenConns, err = dp.GetInt(cfgKeyStorageSQLMaxOpenConns); err != nil {
		return err
	}
	return nil
}
