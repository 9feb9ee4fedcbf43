/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/complianceguardian/guardian/config"
)

const (
	cfgKeyEnabled         = "enabled"
	cfgKeyAuthType        = "auth.type"
	cfgKeyAuthJWTSecret   = "auth.jwt.secret" // nolint:gosec // false positive
	cfgKeyAuthJWTIssuer   = "auth.jwt.issuer"
	cfgKeyAuthJWTAudience = "auth.jwt.audience"
	cfgKeyAuthJWTLeeway   = "auth.jwt.leeway"
	cfgKeyAuthStaticToken = "auth.static.token" // nolint:gosec // false positive
)

// AuthType is a type of the admin API authentication.
type AuthType string

// Supported authentication types.
const (
	AuthTypeJWT    AuthType = "jwt"
	AuthTypeStatic AuthType = "static"
)

// Minimal length of HS256 secrets and static tokens.
const minSecretLen = 16

// Config represents the "admin" configuration section.
type Config struct {
	Enabled bool
	Auth    AuthConfig
}

// AuthConfig represents authentication parameters of the admin API.
type AuthConfig struct {
	Type   AuthType
	JWT    JWTConfig
	Static StaticConfig
}

// JWTConfig represents parameters for validating HS256 bearer tokens.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// StaticConfig represents a pre-shared bearer token.
type StaticConfig struct {
	Token string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *Config) KeyPrefix() string {
	return "admin"
}

// SetProviderDefaults implements config.Config.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, false)
	dp.SetDefault(cfgKeyAuthType, string(AuthTypeJWT))
	dp.SetDefault(cfgKeyAuthJWTLeeway, "30s")
}

// Set implements config.Config.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}

	var authType string
	if authType, err = dp.GetStringFromSet(cfgKeyAuthType,
		[]string{string(AuthTypeJWT), string(AuthTypeStatic)}, true); err != nil {
		return err
	}
	c.Auth.Type = AuthType(strings.ToLower(authType))

	if c.Auth.JWT.Secret, err = dp.GetString(cfgKeyAuthJWTSecret); err != nil {
		return err
	}
	if c.Auth.JWT.Issuer, err = dp.GetString(cfgKeyAuthJWTIssuer); err != nil {
		return err
	}
	if c.Auth.JWT.Audience, err = dp.GetString(cfgKeyAuthJWTAudience); err != nil {
		return err
	}
	if c.Auth.JWT.Leeway, err = dp.GetDuration(cfgKeyAuthJWTLeeway); err != nil {
		return err
	}
	if c.Auth.Static.Token, err = dp.GetString(cfgKeyAuthStaticToken); err != nil {
		return err
	}

	if !c.Enabled {
		return nil
	}
	switch c.Auth.Type {
	case AuthTypeJWT:
		if len(c.Auth.JWT.Secret) < minSecretLen {
			return dp.WrapKeyErr(cfgKeyAuthJWTSecret, fmt.Errorf("must be at least %d characters long", minSecretLen))
		}
	case AuthTypeStatic:
		if len(c.Auth.Static.Token) < minSecretLen {
			return dp.WrapKeyErr(cfgKeyAuthStaticToken, fmt.Errorf("must be at least %d characters long", minSecretLen))
		}
	}
	return nil
}
