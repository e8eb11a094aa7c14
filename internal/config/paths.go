package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "plotsync"

// Well-known file names inside the config and data directories.
const (
	configFileName = "config.toml"
	stateFileName  = "plotsync.db"
	tokenFileName  = "token.json"
	logFileName    = "plotsync.log"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/plotsync).
// On macOS, uses ~/Library/Application Support/plotsync per Apple guidelines.
// Other platforms fall back to ~/.config/plotsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (the local cache database, recovery snapshots, tokens, logs).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/plotsync).
// On macOS, uses ~/Library/Application Support/plotsync (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither PLOTSYNC_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DataDir returns the effective data directory: the configured data_dir if
// set, otherwise the platform default.
func (c *Config) DataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}

	return DefaultDataDir()
}

// StatePath returns the path to the local cache database.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir(), stateFileName)
}

// TokenPath returns the path to the bearer token file: the configured
// token_file if set, otherwise the default inside the data directory.
func (c *Config) TokenPath() string {
	if c.API.TokenFile != "" {
		return c.API.TokenFile
	}

	return filepath.Join(c.DataDir(), tokenFileName)
}

// LogPath returns the path to the rotating log file: the configured log_file
// if set, otherwise the default inside the data directory.
func (c *Config) LogPath() string {
	if c.Logging.LogFile != "" {
		return c.Logging.LogFile
	}

	return filepath.Join(c.DataDir(), logFileName)
}
