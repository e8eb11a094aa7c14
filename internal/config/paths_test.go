package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDir_RespectsXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG paths are Linux-only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")
	assert.Equal(t, "/custom/xdg/plotsync", DefaultConfigDir())
}

func TestDefaultDataDir_RespectsXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG paths are Linux-only")
	}

	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/plotsync", DefaultDataDir())
}

func TestDefaultConfigPath_EndsWithConfigToml(t *testing.T) {
	path := DefaultConfigPath()
	require.NotEmpty(t, path)
	assert.Equal(t, "config.toml", filepath.Base(path))
}

func TestConfigPaths_HonorDataDirOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/plots/state"

	assert.Equal(t, "/plots/state", cfg.DataDir())
	assert.Equal(t, filepath.Join("/plots/state", "plotsync.db"), cfg.StatePath())
	assert.Equal(t, filepath.Join("/plots/state", "token.json"), cfg.TokenPath())
	assert.Equal(t, filepath.Join("/plots/state", "plotsync.log"), cfg.LogPath())
}

func TestConfigPaths_ExplicitFilesWin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/plots/state"
	cfg.API.TokenFile = "/secrets/plot-token.json"
	cfg.Logging.LogFile = "/var/log/plotsync.log"

	assert.Equal(t, "/secrets/plot-token.json", cfg.TokenPath())
	assert.Equal(t, "/var/log/plotsync.log", cfg.LogPath())
}
