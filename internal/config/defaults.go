package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work for most users without any config file.
// Durations are strings so the TOML file and the defaults share one
// parse path.
const (
	defaultBaseURL        = "http://localhost:8787"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"

	defaultPushDebounce = "500ms"
	defaultPollInterval = "30s"
	defaultWebsocket    = true

	defaultAutosaveDebounce = "500ms"
	defaultSnapshotKeep     = 50

	defaultHistoryDepth   = 100
	defaultCoalesceWindow = "200ms"

	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultLogMaxSizeMB  = 10
	defaultLogMaxBackups = 3
)

// DefaultConfig returns a Config populated with all default values.
// This is the base layer of the override chain and also the zero-config
// first-run experience: plotsync works without any config file.
func DefaultConfig() *Config {
	return &Config{
		API:      defaultAPIConfig(),
		Sync:     defaultSyncConfig(),
		Autosave: defaultAutosaveConfig(),
		History:  defaultHistoryConfig(),
		Storage:  StorageConfig{},
		Logging:  defaultLoggingConfig(),
	}
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		BaseURL:        defaultBaseURL,
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		PushDebounce: defaultPushDebounce,
		PollInterval: defaultPollInterval,
		Websocket:    defaultWebsocket,
	}
}

func defaultAutosaveConfig() AutosaveConfig {
	return AutosaveConfig{
		Debounce:     defaultAutosaveDebounce,
		SnapshotKeep: defaultSnapshotKeep,
	}
}

func defaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxDepth:       defaultHistoryDepth,
		CoalesceWindow: defaultCoalesceWindow,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		LogMaxSizeMB:  defaultLogMaxSizeMB,
		LogMaxBackups: defaultLogMaxBackups,
	}
}
