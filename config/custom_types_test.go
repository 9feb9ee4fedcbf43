/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTimeDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{name: "nanoseconds", json: `1000`, yaml: "d: 1000", want: time.Microsecond},
		{name: "human-readable", json: `"1m30s"`, yaml: "d: 1m30s", want: 90 * time.Second},
		{name: "invalid", json: `"soon"`, yaml: "d: soon", wantErr: true},
		{name: "negative", json: `-5`, yaml: "d: -5s", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d TimeDuration
			err := json.Unmarshal([]byte(tt.json), &d)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.want, d.Duration())
			}

			var cfg struct{ D TimeDuration }
			err = yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.want, cfg.D.Duration())
			}
		})
	}
}

func TestTimeDuration_Marshal(t *testing.T) {
	b, err := json.Marshal(TimeDuration(1500 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, `"1.5s"`, string(b))
}
