/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/complianceguardian/guardian/config"
	"github.com/complianceguardian/guardian/httpserver"
	"github.com/complianceguardian/guardian/internal/adminapi"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/profserver"
	"github.com/complianceguardian/guardian/ratelimit"
)

// EnvVarsPrefix is the prefix of environment variables that override configuration (e.g. GUARDIAN_RATELIMIT_MAXREQUESTS).
const EnvVarsPrefix = "GUARDIAN"

const (
	cfgKeyProxyUpstream      = "upstream"
	cfgKeyProxyFlushInterval = "flushInterval"
)

// Config aggregates all configuration sections of guardian.
type Config struct {
	Log       *log.Config
	Server    *httpserver.Config
	RateLimit *ratelimit.Config
	Admin     *adminapi.Config
	Proxy     *ProxyConfig
	Profiler  *profserver.Config
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{
		Log:       log.NewConfig(),
		Server:    httpserver.NewConfig(),
		RateLimit: ratelimit.NewConfig(),
		Admin:     adminapi.NewConfig(),
		Proxy:     &ProxyConfig{},
		Profiler:  profserver.NewConfig(),
	}
}

func (c *Config) sections() []config.Config {
	return []config.Config{c.Log, c.Server, c.RateLimit, c.Admin, c.Proxy, c.Profiler}
}

// LoadConfig loads configuration from the file (if path is not empty) and GUARDIAN_* environment variables.
// Values missing in both come from defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	loader := config.NewDefaultLoader(EnvVarsPrefix)
	var err error
	if path == "" {
		err = loader.LoadDefaults(cfg.sections()...)
	} else {
		err = loader.LoadFromFile(path, config.DataTypeYAML, cfg.sections()...)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromReader is LoadConfig for YAML data from the reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := NewConfig()
	if err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(r, config.DataTypeYAML, cfg.sections()...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProxyConfig represents the "proxy" configuration section.
// When Upstream is set, guardian forwards every admitted request there.
type ProxyConfig struct {
	Upstream      *url.URL
	FlushInterval time.Duration
}

var _ config.KeyPrefixProvider = (*ProxyConfig)(nil)

// KeyPrefix implements config.KeyPrefixProvider.
func (c *ProxyConfig) KeyPrefix() string {
	return "proxy"
}

// SetProviderDefaults implements config.Config.
func (c *ProxyConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyProxyFlushInterval, 0)
}

// Set implements config.Config.
func (c *ProxyConfig) Set(dp config.DataProvider) error {
	upstream, err := dp.GetString(cfgKeyProxyUpstream)
	if err != nil {
		return err
	}
	c.Upstream = nil
	if upstream != "" {
		if c.Upstream, err = url.Parse(upstream); err != nil {
			return dp.WrapKeyErr(cfgKeyProxyUpstream, err)
		}
		if c.Upstream.Scheme != "http" && c.Upstream.Scheme != "https" || c.Upstream.Host == "" {
			return dp.WrapKeyErr(cfgKeyProxyUpstream, fmt.Errorf("must be an absolute http(s) URL"))
		}
	}
	c.FlushInterval, err = dp.GetDuration(cfgKeyProxyFlushInterval)
	return err
}
