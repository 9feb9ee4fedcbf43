/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeRateLimitAdmin is the scope a JWT must carry to manage rate limits.
const ScopeRateLimitAdmin = "ratelimit:admin"

// ErrUnauthorized is matched by every authentication failure.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks credentials of an admin API request.
// A failed check returns an error that matches ErrUnauthorized.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// NewAuthenticator creates an Authenticator of the configured type.
func NewAuthenticator(cfg AuthConfig) (Authenticator, error) {
	switch cfg.Type {
	case AuthTypeJWT:
		return NewJWTAuthenticator(cfg.JWT)
	case AuthTypeStatic:
		return NewStaticTokenAuthenticator(cfg.Static.Token)
	}
	return nil, fmt.Errorf("unknown admin auth type %q", cfg.Type)
}

func unauthorized(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", unauthorized("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", unauthorized("invalid Authorization format, expected: Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

// Claims are JWT claims accepted by JWTAuthenticator.
// Scope is a space-separated list as in OAuth 2.0.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant the scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a new JWTAuthenticator.
// Issuer and audience are verified only when configured. Expiration is always required.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuthenticator{secret: []byte(cfg.Secret), parser: jwt.NewParser(parserOpts...)}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) error {
	tokenString, err := bearerToken(r)
	if err != nil {
		return err
	}
	claims := &Claims{}
	if _, err = a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return unauthorized("invalid token: %v", err)
	}
	if !claims.HasScope(ScopeRateLimitAdmin) {
		return unauthorized("token has no %q scope", ScopeRateLimitAdmin)
	}
	return nil
}

// StaticTokenAuthenticator compares bearer tokens with a pre-shared one.
type StaticTokenAuthenticator struct {
	token []byte
}

// NewStaticTokenAuthenticator creates a new StaticTokenAuthenticator.
func NewStaticTokenAuthenticator(token string) (*StaticTokenAuthenticator, error) {
	if token == "" {
		return nil, errors.New("static token is required")
	}
	return &StaticTokenAuthenticator{token: []byte(token)}, nil
}

// Authenticate implements Authenticator.
func (a *StaticTokenAuthenticator) Authenticate(r *http.Request) error {
	token, err := bearerToken(r)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return unauthorized("invalid token")
	}
	return nil
}
