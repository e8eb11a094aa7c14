// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for plotsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) with
// strict unknown-key detection so config typos fail loudly instead of being
// silently ignored.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Every setting lives in a named section; there are no flat top-level keys.
type Config struct {
	API      APIConfig      `toml:"api"`
	Sync     SyncConfig     `toml:"sync"`
	Autosave AutosaveConfig `toml:"autosave"`
	History  HistoryConfig  `toml:"history"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
}

// APIConfig controls how the client reaches the plot server: base URL,
// bearer token location, and HTTP timeouts.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TokenFile      string `toml:"token_file"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// SyncConfig controls push scheduling and the watch loop: how long edits are
// debounced before a push, how often the watch loop polls when the presence
// socket is unavailable, and which project is active when --project is omitted.
type SyncConfig struct {
	PushDebounce   string `toml:"push_debounce"`
	PollInterval   string `toml:"poll_interval"`
	Websocket      bool   `toml:"websocket"`
	DefaultProject string `toml:"default_project"`
}

// AutosaveConfig controls local persistence: the debounce interval between an
// edit and the cache write, and how many recovery snapshots are kept per
// project before pruning.
type AutosaveConfig struct {
	Debounce     string `toml:"debounce"`
	SnapshotKeep int    `toml:"snapshot_keep"`
}

// HistoryConfig controls the undo stack: maximum depth before the oldest
// entry is dropped, and the window within which consecutive edits of the same
// kind merge into one undo step.
type HistoryConfig struct {
	MaxDepth       int    `toml:"max_depth"`
	CoalesceWindow string `toml:"coalesce_window"`
}

// StorageConfig controls where local state lives. An empty data_dir means
// the platform default (XDG on Linux, Application Support on macOS).
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogFormat     string `toml:"log_format"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --base-url ""
// is different from not passing --base-url at all.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Project    string  // --project flag (empty = use default_project)
	BaseURL    *string // --base-url flag
	DataDir    *string // --data-dir flag
}
