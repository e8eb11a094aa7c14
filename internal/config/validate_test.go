package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty base URL",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "base_url: must not be empty",
		},
		{
			name:    "wrong URL scheme",
			mutate:  func(c *Config) { c.API.BaseURL = "ftp://example.com" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "URL without host",
			mutate:  func(c *Config) { c.API.BaseURL = "http://" },
			wantErr: "missing host",
		},
		{
			name:    "push debounce too small",
			mutate:  func(c *Config) { c.Sync.PushDebounce = "1ms" },
			wantErr: "push_debounce",
		},
		{
			name:    "push debounce too large",
			mutate:  func(c *Config) { c.Sync.PushDebounce = "5m" },
			wantErr: "push_debounce",
		},
		{
			name:    "malformed autosave debounce",
			mutate:  func(c *Config) { c.Autosave.Debounce = "soon" },
			wantErr: "invalid duration",
		},
		{
			name:    "snapshot keep zero",
			mutate:  func(c *Config) { c.Autosave.SnapshotKeep = 0 },
			wantErr: "snapshot_keep",
		},
		{
			name:    "history depth zero",
			mutate:  func(c *Config) { c.History.MaxDepth = 0 },
			wantErr: "max_depth",
		},
		{
			name:    "negative coalesce window",
			mutate:  func(c *Config) { c.History.CoalesceWindow = "-100ms" },
			wantErr: "coalesce_window",
		},
		{
			name:    "connect timeout too small",
			mutate:  func(c *Config) { c.API.ConnectTimeout = "100ms" },
			wantErr: "connect_timeout",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.LogFormat = "xml" },
			wantErr: "log_format",
		},
		{
			name:    "log max size zero",
			mutate:  func(c *Config) { c.Logging.LogMaxSizeMB = 0 },
			wantErr: "log_max_size_mb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = ""
	cfg.Logging.LogLevel = "loud"
	cfg.History.MaxDepth = -1

	err := Validate(cfg)
	require.Error(t, err)

	// All three problems are reported in one pass.
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "max_depth")
}
