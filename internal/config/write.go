package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the starter config file written by "config init".
// All settings are present as commented-out defaults so users can discover
// every option without reading docs. The template is written once and never
// regenerated, so user modifications are preserved.
const configTemplate = `# plotsync configuration

[api]
# Plot server base URL
# base_url = "http://localhost:8787"

# Bearer token file (default: token.json in the data directory)
# token_file = ""

# HTTP timeouts
# connect_timeout = "10s"
# data_timeout = "60s"

[sync]
# How long edits are debounced before a push
# push_debounce = "500ms"

# Watch loop poll interval when the presence socket is unavailable
# poll_interval = "30s"

# Use the presence websocket for online/offline detection
# websocket = true

# Project used when --project is omitted
# default_project = ""

[autosave]
# How long edits are debounced before a local save
# debounce = "500ms"

# Recovery snapshots kept per project
# snapshot_keep = 50

[history]
# Undo stack depth before the oldest entry is dropped
# max_depth = 100

# Window within which same-kind edits merge into one undo step
# coalesce_window = "200ms"

[storage]
# Local state directory (default: platform standard location)
# data_dir = ""

[logging]
# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log file path (default: plotsync.log in the data directory)
# log_file = ""

# Log format: auto, text, json
# log_format = "auto"

# Rotation thresholds
# log_max_size_mb = 10
# log_max_backups = 3
`

// WriteDefaultConfig creates a new config file from the default template.
// It refuses to overwrite an existing file. The write is atomic (temp file +
// rename) and parent directories are created as needed.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
