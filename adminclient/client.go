/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package adminclient is a client of the guardian admin API.
package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/complianceguardian/guardian/internal/buildinfo"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/restapi"
)

// Default parameter values for Config.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 20
)

const adminPathPrefix = "/admin/v1"

// Client errors.
var (
	ErrUnauthorized = errors.New("admin API: unauthorized")
	ErrNotFound     = errors.New("admin API: not found")
)

// APIError is returned for unexpected admin API responses.
type APIError struct {
	StatusCode int
	Body       restapi.Error
}

func (e *APIError) Error() string {
	if e.Body.Err == "" {
		return fmt.Sprintf("admin API: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("admin API: status %d: %s: %s", e.StatusCode, e.Body.Err, e.Body.Message)
}

// Is makes errors.Is(err, ErrUnauthorized) and errors.Is(err, ErrNotFound) work for the matching statuses.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Config represents options for the admin API client.
type Config struct {
	// BaseURL is the guardian server URL, e.g. "https://guardian.internal:8443".
	BaseURL string

	Token string

	// Timeout bounds a whole call including retries. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximal number of requests per second. Defaults to DefaultRateLimit.
	RateLimit int

	// MaxRetryAttempts defaults to DefaultMaxRetryAttempts.
	MaxRetryAttempts int

	Logger log.FieldLogger

	// Transport is the base transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client calls the guardian admin API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New creates a new Client. The transport chain is: rate limiting, retries, User-Agent, bearer token.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("token is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewDisabledLogger()
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	var tr http.RoundTripper = NewAuthBearerRoundTripper(cfg.Transport, StaticToken(cfg.Token))
	tr = NewUserAgentRoundTripper(tr, buildinfo.UserAgent())
	if tr, err = NewRetryableRoundTripperWithOpts(tr, RetryableRoundTripperOpts{
		Logger:           cfg.Logger,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	}); err != nil {
		return nil, err
	}
	if tr, err = NewRateLimitingRoundTripper(tr, cfg.RateLimit); err != nil {
		return nil, err
	}

	return &Client{baseURL: baseURL, httpClient: &http.Client{Transport: tr, Timeout: cfg.Timeout}}, nil
}

// ResetKey resets the key of the rule. An empty rule means the default one.
func (c *Client) ResetKey(ctx context.Context, rule, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.keyURL(rule, key))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		return newAPIError(resp)
	}
	return nil
}

// GetEntry returns the current window state of the key. It returns an error matching ErrNotFound
// when the key has no entry or the rule does not exist.
func (c *Client) GetEntry(ctx context.Context, rule, key string) (ratelimit.Entry, error) {
	var entry ratelimit.Entry
	if err := c.getJSON(ctx, c.keyURL(rule, key), &entry); err != nil {
		return ratelimit.Entry{}, err
	}
	return entry, nil
}

// Rule describes a rate limit rule configured on the server.
type Rule struct {
	Name         string `json:"name"`
	MaxRequests  int    `json:"maxRequests"`
	WindowMillis int64  `json:"windowMillis"`
}

// ListRules returns rules configured on the server.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := c.getJSON(ctx, c.baseURL.String()+adminPathPrefix+"/rules", &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) getJSON(ctx context.Context, target string, dest interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, target)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}
	if err = json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode admin API response: %w", err)
	}
	return nil
}

func (c *Client) keyURL(rule, key string) string {
	u := c.baseURL.String() + adminPathPrefix + "/rate-limits/" + url.PathEscape(key)
	if rule != "" {
		u += "?" + url.Values{"rule": []string{rule}}.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create admin API request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do admin API request: %w", err)
	}
	return resp, nil
}

func newAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(body, &apiErr.Body)
	return apiErr
}
