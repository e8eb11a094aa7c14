package config

import "time"

// Duration accessors parse the string fields once at the call site.
// Validate guarantees the configured strings parse, so the fallback only
// covers hand-built Config values that skipped validation.

// PushDebounce returns how long edits are debounced before a push.
func (c *Config) PushDebounce() time.Duration {
	return parseDurationOr(c.Sync.PushDebounce, defaultPushDebounce)
}

// PollInterval returns the watch-loop poll interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Sync.PollInterval, defaultPollInterval)
}

// AutosaveDebounce returns how long edits are debounced before a local save.
func (c *Config) AutosaveDebounce() time.Duration {
	return parseDurationOr(c.Autosave.Debounce, defaultAutosaveDebounce)
}

// CoalesceWindow returns the undo-merge window.
func (c *Config) CoalesceWindow() time.Duration {
	return parseDurationOr(c.History.CoalesceWindow, defaultCoalesceWindow)
}

// ConnectTimeout returns the HTTP connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDurationOr(c.API.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeout returns the end-to-end HTTP request timeout.
func (c *Config) DataTimeout() time.Duration {
	return parseDurationOr(c.API.DataTimeout, defaultDataTimeout)
}

// parseDurationOr parses value, falling back to the default string when the
// value is empty or malformed. The default strings are compile-time constants
// that always parse.
func parseDurationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, err := time.ParseDuration(fallback)
	if err != nil {
		panic("config: bad default duration " + fallback)
	}

	return d
}
