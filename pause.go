package main

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause pushing to the server",
		Long: `Stop pushing edits to the server. Edits keep autosaving locally and queue
up exactly as they do offline; resume drains them.

An optional duration ("30m", "2h", "1d", "1h30m") schedules an automatic
resume. Without one, sync stays paused until 'plotsync resume'.

A running 'plotsync sync --watch' daemon picks up the change immediately.

Examples:
  plotsync pause
  plotsync pause 2h
  plotsync pause 1d`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	until := ""

	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		until = time.Now().Add(d).Format(time.RFC3339)
	}

	if err := store.SetPref(ctx, sync.PrefPaused, "1"); err != nil {
		return fmt.Errorf("persisting pause: %w", err)
	}

	if err := store.SetPref(ctx, sync.PrefPausedUntil, until); err != nil {
		return fmt.Errorf("persisting pause expiry: %w", err)
	}

	if until != "" {
		cc.Statusf("Sync paused until %s.", until)
	} else {
		cc.Statusf("Sync paused. Run 'plotsync resume' to continue pushing.")
	}

	notifyWatchDaemon(cc)

	return nil
}

// notifyWatchDaemon nudges a running watch daemon to reread the pause
// pref. Quiet when no daemon runs; one-shot commands read the pref
// themselves on startup.
func notifyWatchDaemon(cc *CLIContext) {
	pidPath := pidFilePath(cc.Cfg)

	if _, alive := watchDaemonPID(pidPath); !alive {
		return
	}

	if err := signalWatchDaemon(pidPath); err != nil {
		cc.Statusf("Note: %v; the daemon applies the change on its next cycle.", err)
	} else {
		cc.Statusf("Notified the running watch daemon.")
	}
}

// hoursPerDay converts "d" duration suffixes.
const hoursPerDay = 24

// durationPattern matches durations like "30m", "2h", "1d", "1h30m".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// durationPart captures one number+unit pair inside a matched duration.
var durationPart = regexp.MustCompile(`(\d+)([dhms])`)

// parseDuration parses a human duration: Go syntax (e.g. "2h30m") plus
// a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1h30m")
	}

	var total time.Duration

	for _, match := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
