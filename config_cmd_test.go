package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/config"
)

func TestNewConfigCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newConfigCmd()
	assert.Equal(t, "config", cmd.Use)

	var pathCmd *cobra.Command

	subs := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subs[sub.Name()] = true

		if sub.Name() == "path" {
			pathCmd = sub
		}
	}

	assert.True(t, subs["show"])
	require.NotNil(t, pathCmd)

	// path must answer even when the config file does not parse.
	assert.Equal(t, "true", pathCmd.Annotations[skipConfigAnnotation])
}

func runConfigPathCapture(t *testing.T, cc *CLIContext) (string, error) {
	t.Helper()

	cmd := newConfigPathCmd()
	cmd.SetContext(withCLIContext(context.Background(), cc))

	return captureStdout(t, func() error {
		return runConfigPath(cmd, nil)
	})
}

func TestRunConfigPath_FlagWins(t *testing.T) {
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "ignored.toml"))

	cc := newTestContext(t)
	cc.Flags.ConfigPath = filepath.Join(t.TempDir(), "config.toml")

	out, err := runConfigPathCapture(t, cc)
	require.NoError(t, err)

	assert.Contains(t, out, cc.Flags.ConfigPath)
	assert.Contains(t, out, "does not exist yet")
}

func TestRunConfigPath_EnvFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env-config.toml")
	t.Setenv(config.EnvConfig, path)

	out, err := runConfigPathCapture(t, newTestContext(t))
	require.NoError(t, err)
	assert.Contains(t, out, path)
}

func TestRunConfigPath_DefaultWhenUnset(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	out, err := runConfigPathCapture(t, newTestContext(t))
	require.NoError(t, err)
	assert.Contains(t, out, config.DefaultConfigPath())
}

func TestRunConfigPath_ExistingFileQuiet(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[api]\n"), 0o644))

	cc := newTestContext(t)
	cc.Flags.ConfigPath = cfgPath

	out, err := runConfigPathCapture(t, cc)
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
	assert.NotContains(t, out, "does not exist")
}

func TestRunConfigShow_JSON(t *testing.T) {
	cc := newTestContext(t)
	cc.Flags.JSON = true
	cc.Cfg.API.BaseURL = "http://stagebox:8080"

	cmd := newConfigShowCmd()
	cmd.SetContext(withCLIContext(context.Background(), cc))

	out, err := captureStdout(t, func() error { return runConfigShow(cmd, nil) })
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "http://stagebox:8080", got.API.BaseURL)
}

func TestRunConfigShow_Text(t *testing.T) {
	cc := newTestContext(t)
	cc.Cfg.API.BaseURL = "http://stagebox:8080"
	cc.ConfigPath = "/etc/plotsync/config.toml"

	cmd := newConfigShowCmd()
	cmd.SetContext(withCLIContext(context.Background(), cc))

	out, err := captureStdout(t, func() error { return runConfigShow(cmd, nil) })
	require.NoError(t, err)

	assert.Contains(t, out, "# Effective configuration (from /etc/plotsync/config.toml)")
	assert.Contains(t, out, "[api]")
	assert.Contains(t, out, `base_url        = "http://stagebox:8080"`)
	assert.Contains(t, out, "[sync]")
	assert.Contains(t, out, "[storage]")
}
