package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minDebounce       = 50 * time.Millisecond
	maxDebounce       = time.Minute
	minPollInterval   = time.Second
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
	minHistoryDepth   = 1
	maxHistoryDepth   = 10_000
	minSnapshotKeep   = 1
	maxSnapshotKeep   = 1_000
	minLogMaxSizeMB   = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAutosave(&cfg.Autosave)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateBaseURL(a.BaseURL)...)
	errs = append(errs, validateDurationMin("connect_timeout", a.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", a.DataTimeout, minDataTimeout)...)

	return errs
}

func validateBaseURL(raw string) []error {
	if raw == "" {
		return []error{errors.New("base_url: must not be empty")}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("base_url: invalid URL %q: %w", raw, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("base_url: scheme must be http or https, got %q", raw)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("base_url: missing host in %q", raw)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationRange("push_debounce", s.PushDebounce, minDebounce, maxDebounce)...)
	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)

	return errs
}

func validateAutosave(a *AutosaveConfig) []error {
	var errs []error

	errs = append(errs, validateDurationRange("autosave.debounce", a.Debounce, minDebounce, maxDebounce)...)

	if a.SnapshotKeep < minSnapshotKeep || a.SnapshotKeep > maxSnapshotKeep {
		errs = append(errs, fmt.Errorf("snapshot_keep: must be between %d and %d, got %d",
			minSnapshotKeep, maxSnapshotKeep, a.SnapshotKeep))
	}

	return errs
}

func validateHistory(h *HistoryConfig) []error {
	var errs []error

	if h.MaxDepth < minHistoryDepth || h.MaxDepth > maxHistoryDepth {
		errs = append(errs, fmt.Errorf("max_depth: must be between %d and %d, got %d",
			minHistoryDepth, maxHistoryDepth, h.MaxDepth))
	}

	errs = append(errs, validateDurationNonNeg("coalesce_window", h.CoalesceWindow)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogMaxSizeMB < minLogMaxSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d",
			minLogMaxSizeMB, l.LogMaxSizeMB))
	}

	if l.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups: must be >= 0, got %d", l.LogMaxBackups))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum || d > maximum {
		return []error{fmt.Errorf("%s: must be between %s and %s, got %s", field, minimum, maximum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}
