package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/config"
	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

// Watch daemon timing. Editors fire several filesystem events per save;
// the debounce collapses them into one import.
const (
	watchImportDebounce = 500 * time.Millisecond
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

func newSyncCmd() *cobra.Command {
	var (
		watch     bool
		watchFile string
		keepLocal bool
		useServer bool
	)

	cmd := &cobra.Command{
		Use:   "sync [project-id]",
		Short: "Run one sync cycle, or keep a project in sync with --watch",
		Long: `Run one full cycle: flush pending autosaves, drain the push queue, and
push uncommitted edits without waiting out the debounce window.

With --watch, stay running: watch the working plot file for external
edits, import and push them after a short debounce, track server
connectivity, and drain queued pushes whenever the connection returns.
The daemon holds a PID file lock so only one instance runs per data
directory, reloads its config on SIGHUP, and drains before exiting on
SIGINT/SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return runSyncWatch(cmd, args, watchFile, keepLocal, useServer)
			}

			return runSyncOnce(cmd, args, keepLocal, useServer)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "run continuously, importing and pushing external edits")
	cmd.Flags().StringVar(&watchFile, "file", "", "working plot file to watch (required with --watch)")
	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "keep the crashed session's local copy and push it")
	cmd.Flags().BoolVar(&useServer, "use-server", false, "discard the crashed session's local copy")
	cmd.MarkFlagsMutuallyExclusive("keep-local", "use-server")

	return cmd
}

func runSyncOnce(cmd *cobra.Command, args []string, keepLocal, useServer bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	projectID, err := resolveProjectID(ctx, cc, rig.store, args)
	if err != nil {
		return err
	}

	if _, err := loadProject(ctx, rig, projectID, keepLocal, useServer); err != nil {
		return fmt.Errorf("opening %s: %w", projectID, err)
	}

	if resumed, err := maybeAutoResume(ctx, rig); err == nil && resumed {
		cc.Statusf("Scheduled pause expired; resuming pushes.")
	}

	if rig.mgr.Paused() {
		cc.Statusf("Sync is paused; edits stay queued. Run 'plotsync resume' to push them.")
		return nil
	}

	before, _ := rig.mgr.QueueDepth(ctx)

	if err := rig.mgr.Sync(ctx); err != nil {
		return reportSyncFailure(ctx, cc, rig, projectID, err)
	}

	if reportOfflineQueue(ctx, cc, rig) {
		return nil
	}

	after, _ := rig.mgr.QueueDepth(ctx)
	if drained := before - after; drained > 0 {
		cc.Statusf("Drained %d queued push(es).", drained)
	}

	cc.Statusf("Synced %s; server at v%d.", projectID, rig.mgr.Project().Version)

	return nil
}

// reportSyncFailure turns a cycle failure into the right exit: offline
// is normal local-first operation (edits stay queued, exit zero), a
// conflict or server rejection is an error.
func reportSyncFailure(ctx context.Context, cc *CLIContext, rig *syncRig, projectID string, err error) error {
	if errors.Is(err, api.ErrConflict) {
		if rec := rig.mgr.Conflict(); rec != nil {
			return fmt.Errorf("version conflict on %s: server at v%d, local edits based on v%d; run 'plotsync resolve'",
				projectID, rec.ServerVersion, rec.LocalVersion)
		}

		return fmt.Errorf("version conflict on %s; run 'plotsync resolve'", projectID)
	}

	if reportOfflineQueue(ctx, cc, rig) {
		return nil
	}

	return fmt.Errorf("syncing %s: %w", projectID, err)
}

// reportOfflineQueue prints the offline outcome when a cycle queued
// edits instead of pushing them. A cycle that ends offline can still
// return nil: an empty queue plus an unreachable server queues the
// current snapshot without an error, so callers must not take a nil
// cycle as a delivered push.
func reportOfflineQueue(ctx context.Context, cc *CLIContext, rig *syncRig) bool {
	if rig.mgr.Status() != sync.StatusOffline {
		return false
	}

	depth, _ := rig.mgr.QueueDepth(ctx)
	cc.Statusf("Server unreachable; %d push(es) queued. They go out when the connection returns.", depth)

	return true
}

func runSyncWatch(cmd *cobra.Command, args []string, watchFile string, keepLocal, useServer bool) error {
	cc := mustCLIContext(cmd.Context())

	if watchFile == "" {
		return fmt.Errorf("--watch needs --file pointing at the working plot file")
	}

	absFile, err := filepath.Abs(watchFile)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", watchFile, err)
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	release, err := acquirePIDFile(pidFilePath(cc.Cfg))
	if err != nil {
		return err
	}
	defer release()

	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	projectID, err := resolveProjectID(ctx, cc, rig.store, args)
	if err != nil {
		return err
	}

	if _, err := loadProject(ctx, rig, projectID, keepLocal, useServer); err != nil {
		return fmt.Errorf("opening %s: %w", projectID, err)
	}

	d := &watchDaemon{
		cc:        cc,
		rig:       rig,
		holder:    config.NewHolder(cc.Cfg, cc.ConfigPath),
		file:      absFile,
		projectID: projectID,
	}

	cc.Statusf("Watching %s for project %s. Ctrl-C to stop.", absFile, projectID)

	return d.run(ctx)
}

// watchDaemon is the long-running side of sync --watch: a file watcher
// importing external edits, the presence monitor, a periodic safety
// cycle, and a SIGHUP config reloader, all torn down together.
type watchDaemon struct {
	cc        *CLIContext
	rig       *syncRig
	holder    *config.Holder
	file      string
	projectID string
}

func (d *watchDaemon) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.rig.monitor.Run(ctx) })
	g.Go(func() error { return d.watchLoop(ctx) })
	g.Go(func() error { return d.safetyLoop(ctx) })
	g.Go(func() error { return d.reloadLoop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	d.cc.Statusf("Shutting down; flushing pending work.")

	return nil
}

// watchLoop watches the working file's directory. Editors save
// atomically (write a temp file, rename it over the target), which
// replaces the inode; watching the directory catches the rename where
// watching the file itself would go blind after the first save.
func (d *watchDaemon) watchLoop(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(d.file)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !d.concernsFile(ev) {
				continue
			}

			debounce.Reset(watchImportDebounce)

			backoff = watchErrInitBackoff

		case <-debounce.C:
			d.importWorkingFile(ctx)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			d.cc.Logger.Warn("file watcher error",
				"error", watchErr.Error(), "backoff", backoff.String())

			// Backoff keeps a sustained kernel-side failure from
			// spinning this loop.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff *= watchErrBackoffMult
			if backoff > watchErrMaxBackoff {
				backoff = watchErrMaxBackoff
			}
		}
	}
}

// concernsFile reports whether a directory event touches the working
// file. Chmod-only events are noise.
func (d *watchDaemon) concernsFile(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	return filepath.Clean(ev.Name) == d.file
}

// importWorkingFile reads the working file and commits it as a local
// edit. The push rides the manager's normal debounce.
func (d *watchDaemon) importWorkingFile(ctx context.Context) {
	f, err := os.Open(d.file)
	if err != nil {
		// Mid-save window: the old file may be renamed away before the
		// new one lands. The rename that follows retriggers the import.
		d.cc.Logger.Debug("working file unreadable", "path", d.file, "error", err.Error())

		return
	}
	defer f.Close()

	imported, err := plot.Decode(f)
	if err != nil {
		d.cc.Logger.Warn("working file rejected", "path", d.file, "error", err.Error())

		return
	}

	if changed, err := adoptImported(ctx, d.rig, imported); err != nil {
		d.cc.Logger.Warn("importing working file", "path", d.file, "error", err.Error())
	} else if changed {
		d.cc.Logger.Info("external edit imported",
			"project_id", d.projectID, "path", d.file)
	}
}

// safetyLoop runs a full cycle every poll interval. It catches edits a
// missed filesystem event would have stranded and retires a scheduled
// pause. The interval re-reads the holder so a SIGHUP reload applies.
func (d *watchDaemon) safetyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.holder.Config().PollInterval()):
			d.safetyTick(ctx)
		}
	}
}

func (d *watchDaemon) safetyTick(ctx context.Context) {
	if resumed, err := maybeAutoResume(ctx, d.rig); err == nil && resumed {
		d.cc.Statusf("Scheduled pause expired; resuming pushes.")
	}

	if d.rig.mgr.Paused() {
		return
	}

	if err := d.rig.mgr.Sync(ctx); err != nil {
		d.cc.Logger.Debug("periodic sync cycle", "error", err.Error())
	}
}

// reloadLoop applies SIGHUP: re-resolve the config into the holder and
// mirror the persisted pause flag into the running manager. pause and
// resume commands in another process signal us exactly for this.
func (d *watchDaemon) reloadLoop(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			d.reload(ctx)
		}
	}
}

func (d *watchDaemon) reload(ctx context.Context) {
	d.cc.Logger.Info("SIGHUP received, reloading config")

	overrides := config.CLIOverrides{
		ConfigPath: d.cc.Flags.ConfigPath,
		Project:    d.cc.Flags.Project,
	}
	if flagBaseURL != "" {
		overrides.BaseURL = &flagBaseURL
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), overrides)
	if err != nil {
		d.cc.Logger.Warn("config reload failed, keeping previous config", "error", err.Error())
	} else {
		d.holder.Update(cfg)
		d.cc.Logger.Info("config reloaded", "path", path)
	}

	d.applyPauseFromStore(ctx)
}

// applyPauseFromStore mirrors the persisted pause pref into the manager.
func (d *watchDaemon) applyPauseFromStore(ctx context.Context) {
	paused, err := d.rig.store.GetPref(ctx, sync.PrefPaused)
	if err != nil {
		return
	}

	switch {
	case paused == "1" && !d.rig.mgr.Paused():
		if err := d.rig.mgr.Pause(ctx); err != nil {
			d.cc.Logger.Warn("applying pause", "error", err.Error())
		} else {
			d.cc.Statusf("Sync paused.")
		}
	case paused != "1" && d.rig.mgr.Paused():
		if err := d.rig.mgr.Resume(ctx); err != nil {
			d.cc.Logger.Warn("applying resume", "error", err.Error())
		} else {
			d.cc.Statusf("Sync resumed.")
		}
	}
}
