/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/complianceguardian/guardian/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		want    *Config
		wantErr string
	}{
		{
			name:    "defaults",
			cfgData: ``,
			want:    NewDefaultConfig(),
		},
		{
			name: "text to file",
			cfgData: `
log:
  level: DEBUG
  format: text
  output: file
  file:
    path: /var/log/guardian.log
    rotation:
      maxSize: 10M
      maxBackups: 3
      compress: true
`,
			want: &Config{
				Level:  LevelDebug,
				Format: FormatText,
				Output: OutputFile,
				File: FileOutputConfig{
					Path:     "/var/log/guardian.log",
					Rotation: FileRotationConfig{Compress: true, MaxSize: 10 * 1024 * 1024, MaxBackups: 3},
				},
			},
		},
		{
			name:    "unknown level",
			cfgData: "log:\n  level: trace\n",
			wantErr: `log.level: unknown value "trace", should be one of [error warn info debug]`,
		},
		{
			name:    "file output without path",
			cfgData: "log:\n  output: file\n",
			wantErr: `log.file.path: cannot be empty when "file" output is used`,
		},
		{
			name:    "too small rotation size",
			cfgData: "log:\n  file:\n    rotation:\n      maxSize: 1K\n",
			wantErr: `log.file.rotation.maxSize: should be >= 1M`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg)
		})
	}
}
