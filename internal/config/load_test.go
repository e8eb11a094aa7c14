package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile writes content to a temp config file and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfigFile(t, `
[api]
base_url = "https://plots.example.com"

[sync]
push_debounce = "1s"
default_project = "winter-gala"

[history]
max_depth = 200
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://plots.example.com", cfg.API.BaseURL)
	assert.Equal(t, "1s", cfg.Sync.PushDebounce)
	assert.Equal(t, "winter-gala", cfg.Sync.DefaultProject)
	assert.Equal(t, 200, cfg.History.MaxDepth)

	// Unset sections keep their defaults.
	assert.Equal(t, "500ms", cfg.Autosave.Debounce)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeySuggestsClosest(t *testing.T) {
	path := writeConfigFile(t, `
[sync]
push_debonce = "1s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "sync.push_debonce"`)
	assert.Contains(t, err.Error(), `did you mean "sync.push_debounce"?`)
}

func TestLoad_UnknownSectionRejected(t *testing.T) {
	path := writeConfigFile(t, `
[transfers]
chunk_size = "10MiB"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	path := writeConfigFile(t, `
[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfigFile(t, `[api`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_PrecedenceChain(t *testing.T) {
	path := writeConfigFile(t, `
[api]
base_url = "https://from-file.example.com"

[storage]
data_dir = "/from/file"
`)

	// Env overrides file.
	env := EnvOverrides{
		ConfigPath: path,
		BaseURL:    "https://from-env.example.com",
		DataDir:    "/from/env",
	}

	cfg, usedPath, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, usedPath)
	assert.Equal(t, "https://from-env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/from/env", cfg.Storage.DataDir)

	// CLI overrides env.
	cliURL := "https://from-cli.example.com"
	cliDir := "/from/cli"
	cfg, _, err = Resolve(env, CLIOverrides{BaseURL: &cliURL, DataDir: &cliDir})
	require.NoError(t, err)
	assert.Equal(t, "https://from-cli.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/from/cli", cfg.Storage.DataDir)
}

func TestResolve_ProjectPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
[sync]
default_project = "from-file"
`)

	env := EnvOverrides{ConfigPath: path, Project: "from-env"}

	cfg, _, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sync.DefaultProject)

	cfg, _, err = Resolve(env, CLIOverrides{Project: "from-cli"})
	require.NoError(t, err)
	assert.Equal(t, "from-cli", cfg.Sync.DefaultProject)
}

func TestResolve_ValidatesEnvValues(t *testing.T) {
	env := EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "nope.toml"),
		BaseURL:    "ftp://wrong-scheme.example.com",
	}

	_, _, err := Resolve(env, CLIOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestResolve_CLIConfigPathWinsOverEnv(t *testing.T) {
	envPath := writeConfigFile(t, `
[sync]
default_project = "env-file"
`)
	cliPath := writeConfigFile(t, `
[sync]
default_project = "cli-file"
`)

	cfg, usedPath, err := Resolve(
		EnvOverrides{ConfigPath: envPath},
		CLIOverrides{ConfigPath: cliPath},
	)
	require.NoError(t, err)
	assert.Equal(t, cliPath, usedPath)
	assert.Equal(t, "cli-file", cfg.Sync.DefaultProject)
}
