package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv("PLOTSYNC_CONFIG", "/custom/config.toml")
	t.Setenv("PLOTSYNC_BASE_URL", "https://plots.example.com")
	t.Setenv("PLOTSYNC_DATA_DIR", "/var/lib/plotsync")
	t.Setenv("PLOTSYNC_PROJECT", "winter-gala")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "https://plots.example.com", overrides.BaseURL)
	assert.Equal(t, "/var/lib/plotsync", overrides.DataDir)
	assert.Equal(t, "winter-gala", overrides.Project)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv("PLOTSYNC_CONFIG", "")
	t.Setenv("PLOTSYNC_BASE_URL", "")
	t.Setenv("PLOTSYNC_DATA_DIR", "")
	t.Setenv("PLOTSYNC_PROJECT", "")

	overrides := ReadEnvOverrides()
	assert.Empty(t, overrides.ConfigPath)
	assert.Empty(t, overrides.BaseURL)
	assert.Empty(t, overrides.DataDir)
	assert.Empty(t, overrides.Project)
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "PLOTSYNC_CONFIG", EnvConfig)
	assert.Equal(t, "PLOTSYNC_BASE_URL", EnvBaseURL)
	assert.Equal(t, "PLOTSYNC_DATA_DIR", EnvDataDir)
	assert.Equal(t, "PLOTSYNC_PROJECT", EnvProject)
}
