package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/sync"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume pushing and drain queued edits",
		Long: `Clear the pause flag. A running 'plotsync sync --watch' daemon is told to
drain the queue; without one, the drain runs inline before this command
returns.`,
		Args: cobra.NoArgs,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	// With a daemon running, just clear the prefs and hand it the drain;
	// two processes pushing the same queue would trip over each other's
	// base versions.
	pidPath := pidFilePath(cc.Cfg)
	if pid, alive := watchDaemonPID(pidPath); alive {
		store, err := openStore(cc)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := clearPausePrefs(ctx, store); err != nil {
			return err
		}

		if err := signalWatchDaemon(pidPath); err != nil {
			cc.Statusf("Resumed; could not signal the daemon (%v), it catches up on its next cycle.", err)
		} else {
			cc.Statusf("Resumed; watch daemon (pid %d) is draining queued pushes.", pid)
		}

		return nil
	}

	return resumeInline(ctx, cc)
}

// resumeInline clears the pause and drains the queue in this process.
func resumeInline(ctx context.Context, cc *CLIContext) error {
	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	projectID, err := resolveProjectID(ctx, cc, rig.store, nil)
	if err != nil {
		// Nothing opened yet; clearing the flag is still worthwhile.
		if prefErr := clearPausePrefs(ctx, rig.store); prefErr != nil {
			return prefErr
		}

		cc.Statusf("Sync resumed.")

		return nil
	}

	if _, err := loadProject(ctx, rig, projectID, false, false); err != nil {
		return fmt.Errorf("opening %s: %w", projectID, err)
	}

	if !rig.mgr.Paused() {
		cc.Statusf("Sync is not paused.")

		return nil
	}

	if err := rig.mgr.Resume(ctx); err != nil {
		return fmt.Errorf("resuming: %w", err)
	}

	if err := rig.store.SetPref(ctx, sync.PrefPausedUntil, ""); err != nil {
		cc.Logger.Warn("clearing pause expiry", "error", err)
	}

	if err := rig.mgr.Sync(ctx); err != nil {
		// A queued push colliding with a newer server version surfaces
		// here; only a network failure gets the patient message.
		if errors.Is(err, api.ErrConflict) {
			return reportSyncFailure(ctx, cc, rig, projectID, err)
		}

		cc.Statusf("Resumed; the queue drains when the server is reachable.")

		return nil
	}

	depth, _ := rig.mgr.QueueDepth(ctx)
	if depth > 0 {
		cc.Statusf("Resumed; %d push(es) still queued.", depth)
	} else {
		cc.Statusf("Resumed; all queued pushes delivered.")
	}

	return nil
}

// clearPausePrefs removes both the pause flag and its expiry.
func clearPausePrefs(ctx context.Context, store *sync.SQLiteStore) error {
	if err := store.SetPref(ctx, sync.PrefPaused, ""); err != nil {
		return fmt.Errorf("clearing pause flag: %w", err)
	}

	if err := store.SetPref(ctx, sync.PrefPausedUntil, ""); err != nil {
		return fmt.Errorf("clearing pause expiry: %w", err)
	}

	return nil
}

// maybeAutoResume retires an expired timed pause. Returns true when it
// resumed.
func maybeAutoResume(ctx context.Context, r *syncRig) (bool, error) {
	if !r.mgr.Paused() {
		return false, nil
	}

	until, err := r.store.GetPref(ctx, sync.PrefPausedUntil)
	if err != nil || until == "" {
		return false, err
	}

	deadline, err := time.Parse(time.RFC3339, until)
	if err != nil {
		// Unreadable expiry; drop it rather than pausing forever on it.
		_ = r.store.SetPref(ctx, sync.PrefPausedUntil, "")

		return false, nil
	}

	if time.Now().Before(deadline) {
		return false, nil
	}

	if err := r.mgr.Resume(ctx); err != nil {
		return false, err
	}

	if err := r.store.SetPref(ctx, sync.PrefPausedUntil, ""); err != nil {
		r.cc.Logger.Warn("clearing pause expiry", "error", err)
	}

	return true, nil
}
