/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name        string
		buildInfo   *debug.BuildInfo
		expectedVer string
	}{
		{
			name:        "main module",
			buildInfo:   &debug.BuildInfo{Main: debug.Module{Path: moduleName, Version: "v1.2.3"}},
			expectedVer: "v1.2.3",
		},
		{
			name:        "main module built from checkout",
			buildInfo:   &debug.BuildInfo{Main: debug.Module{Path: moduleName, Version: "(devel)"}},
			expectedVer: "",
		},
		{
			name: "dependency, v2",
			buildInfo: &debug.BuildInfo{
				Main: debug.Module{Path: "example.com/app"},
				Deps: []*debug.Module{{Path: moduleName + "/v2", Version: "v2.0.1"}},
			},
			expectedVer: "v2.0.1",
		},
		{
			name: "not found",
			buildInfo: &debug.BuildInfo{
				Main: debug.Module{Path: "example.com/app"},
				Deps: []*debug.Module{{Path: moduleName + "-fork", Version: "v1.0.0"}},
			},
			expectedVer: "",
		},
		{name: "nil build info", buildInfo: nil, expectedVer: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedVer, extractVersion(tt.buildInfo, moduleName))
		})
	}
}

func TestUserAgent(t *testing.T) {
	require.True(t, strings.HasPrefix(UserAgent(), "guardian/v"))
	require.Equal(t, float64(1), testutil.ToFloat64(NewInfoGauge()))
}
