package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (from %s)\n\n", path)

	renderAPISection(ew, cfg)
	renderSyncSection(ew, &cfg.Sync)
	renderAutosaveSection(ew, &cfg.Autosave)
	renderHistorySection(ew, &cfg.History)
	renderStorageSection(ew, cfg)
	renderLoggingSection(ew, cfg)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAPISection(ew *errWriter, cfg *Config) {
	ew.printf("[api]\n")
	ew.printf("  base_url        = %q\n", cfg.API.BaseURL)
	ew.printf("  token_file      = %q\n", cfg.TokenPath())
	ew.printf("  connect_timeout = %q\n", cfg.API.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", cfg.API.DataTimeout)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  push_debounce   = %q\n", s.PushDebounce)
	ew.printf("  poll_interval   = %q\n", s.PollInterval)
	ew.printf("  websocket       = %t\n", s.Websocket)

	if s.DefaultProject != "" {
		ew.printf("  default_project = %q\n", s.DefaultProject)
	}

	ew.printf("\n")
}

func renderAutosaveSection(ew *errWriter, a *AutosaveConfig) {
	ew.printf("[autosave]\n")
	ew.printf("  debounce      = %q\n", a.Debounce)
	ew.printf("  snapshot_keep = %d\n", a.SnapshotKeep)
	ew.printf("\n")
}

func renderHistorySection(ew *errWriter, h *HistoryConfig) {
	ew.printf("[history]\n")
	ew.printf("  max_depth       = %d\n", h.MaxDepth)
	ew.printf("  coalesce_window = %q\n", h.CoalesceWindow)
	ew.printf("\n")
}

func renderStorageSection(ew *errWriter, cfg *Config) {
	ew.printf("[storage]\n")
	ew.printf("  data_dir = %q\n", cfg.DataDir())
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, cfg *Config) {
	ew.printf("[logging]\n")
	ew.printf("  log_level       = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_file        = %q\n", cfg.LogPath())
	ew.printf("  log_format      = %q\n", cfg.Logging.LogFormat)
	ew.printf("  log_max_size_mb = %d\n", cfg.Logging.LogMaxSizeMB)
	ew.printf("  log_max_backups = %d\n", cfg.Logging.LogMaxBackups)
}
