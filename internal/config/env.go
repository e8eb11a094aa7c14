package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "PLOTSYNC_CONFIG"
	EnvBaseURL = "PLOTSYNC_BASE_URL"
	EnvDataDir = "PLOTSYNC_DATA_DIR"
	EnvProject = "PLOTSYNC_PROJECT"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // PLOTSYNC_CONFIG: override config file path
	BaseURL    string // PLOTSYNC_BASE_URL: override server base URL
	DataDir    string // PLOTSYNC_DATA_DIR: override local state directory
	Project    string // PLOTSYNC_PROJECT: active project id
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		DataDir:    os.Getenv(EnvDataDir),
		Project:    os.Getenv(EnvProject),
	}
}
