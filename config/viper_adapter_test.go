/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestViperAdapter_Getters(t *testing.T) {
	va := NewViperAdapter()
	err := va.SetFromReader(bytes.NewBufferString(`
limits:
  maxHeaderBytes: 1Mi
  window: 90000
  paths: "/api/*, /login"
  list: ["/a", "/b"]
  timeout: 250ms
`), DataTypeYAML)
	require.NoError(t, err)

	size, err := va.GetSizeInBytes("limits.maxHeaderBytes")
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), size)

	window, err := va.GetInt64("limits.window")
	require.NoError(t, err)
	require.Equal(t, int64(90000), window)

	paths, err := va.GetStringSlice("limits.paths")
	require.NoError(t, err)
	require.Equal(t, []string{"/api/*", "/login"}, paths)

	list, err := va.GetStringSlice("limits.list")
	require.NoError(t, err)
	require.Equal(t, []string{"/a", "/b"}, list)

	timeout, err := va.GetDuration("limits.timeout")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, timeout)

	missing, err := va.GetStringSlice("limits.missing")
	require.NoError(t, err)
	require.Empty(t, missing)

	_, err = va.GetInt("limits.paths")
	require.ErrorContains(t, err, "limits.paths")
}

func TestViperAdapter_UnmarshalKey(t *testing.T) {
	type rule struct {
		Name    string       `mapstructure:"name"`
		Paths   []string     `mapstructure:"paths"`
		Timeout TimeDuration `mapstructure:"timeout"`
	}

	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(`
rules:
  - name: login
    paths: ["/login"]
    timeout: 2s
  - name: api
    paths: "/api/*"
    timeout: 1000
`), DataTypeYAML))

	var rules []rule
	require.NoError(t, va.UnmarshalKey("rules", &rules, WithTextUnmarshalHook()))
	require.Len(t, rules, 2)
	require.Equal(t, "login", rules[0].Name)
	require.Equal(t, 2*time.Second, rules[0].Timeout.Duration())
	require.Equal(t, []string{"/api/*"}, rules[1].Paths)
	require.Equal(t, time.Microsecond, rules[1].Timeout.Duration())

	kp := NewKeyPrefixedDataProvider(va, "rules")
	require.True(t, kp.IsSet(""))
}
