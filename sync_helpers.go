package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"golang.org/x/oauth2"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/sync"
	"github.com/stagelight/plotsync/internal/tokenfile"
)

// openStore opens the local cache database at the configured state path.
func openStore(cc *CLIContext) (*sync.SQLiteStore, error) {
	return sync.NewStore(cc.Cfg.StatePath(), cc.Logger)
}

// newAPIClient builds the server client from config: base URL, saved
// bearer token, HTTP timeout. Commands that work purely on local state
// do not call this, so a missing base_url only fails networked commands.
func newAPIClient(cc *CLIContext) (*api.Client, error) {
	baseURL := cc.Cfg.API.BaseURL
	if baseURL == "" {
		return nil, fmt.Errorf("no server configured; set [api] base_url, PLOTSYNC_BASE_URL, or pass --server")
	}

	var tokens oauth2.TokenSource

	tf, err := tokenfile.Load(cc.Cfg.TokenPath())
	if err != nil {
		return nil, err
	}

	if tf != nil {
		// A token saved for a different server never gets sent to this
		// one.
		if tf.ServerURL != "" && tf.ServerURL != baseURL {
			return nil, fmt.Errorf("saved token belongs to %s, not %s; run 'plotsync login' against the new server", tf.ServerURL, baseURL)
		}

		tokens = api.StaticTokens(tf.Token)
	}

	return api.NewClient(baseURL, defaultHTTPClient(cc.Cfg), tokens, cc.Logger), nil
}

// sessionMarkerPath is where the clean-exit marker lives, next to the
// cache database.
func sessionMarkerPath(cc *CLIContext) string {
	return filepath.Join(cc.Cfg.DataDir(), "session.clean")
}

// syncRig is the assembled local-first pipeline: store, API client,
// presence monitor, session manager, and the sync manager with its
// background loops running. Every command that edits or pushes builds
// one and tears it down with shutdown().
type syncRig struct {
	cc       *CLIContext
	store    *sync.SQLiteStore
	client   *api.Client
	monitor  *api.Monitor
	sessions *sync.SessionManager
	mgr      *sync.Manager
	crash    *sync.CrashReport

	cancel context.CancelFunc
	done   chan struct{}
}

// newSyncRig assembles the pipeline and starts the manager loops.
// The crash report from session startup is kept on the rig; one-shot
// commands surface it as a hint rather than acting on it.
func newSyncRig(ctx context.Context, cc *CLIContext) (*syncRig, error) {
	store, err := openStore(cc)
	if err != nil {
		return nil, err
	}

	client, err := newAPIClient(cc)
	if err != nil {
		store.Close()

		return nil, err
	}

	sessions := sync.NewSessionManager(store, sessionMarkerPath(cc), cc.Logger)

	crash, err := sessions.Begin(ctx, "")
	if err != nil {
		cc.Logger.Warn("stamping session", "error", err)
	}

	if crash != nil {
		cc.Statusf("Note: previous session ended uncleanly; run 'plotsync recover' to inspect snapshots")
	}

	monitor := api.NewMonitor(client, cc.Logger)

	mgr := sync.NewManager(sync.ManagerConfig{
		Store:        store,
		Client:       client,
		Presence:     monitor,
		Sessions:     sessions,
		PushDebounce: cc.Cfg.PushDebounce(),
		SaveDebounce: cc.Cfg.AutosaveDebounce(),
		SnapshotKeep: cc.Cfg.Autosave.SnapshotKeep,
		Logger:       cc.Logger,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = mgr.Run(runCtx)
	}()

	return &syncRig{
		cc:       cc,
		store:    store,
		client:   client,
		monitor:  monitor,
		sessions: sessions,
		mgr:      mgr,
		crash:    crash,
		cancel:   cancel,
		done:     done,
	}, nil
}

// shutdown tears the rig down in the order that keeps crash detection
// honest: mark unload, flush pending saves, stop the loops (a pending
// push debounce fires one final time), then mark the session clean.
func (r *syncRig) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	r.sessions.MarkUnload(ctx)

	if err := r.mgr.Saver().Flush(ctx); err != nil {
		r.cc.Logger.Warn("final save flush", "error", err)
	}

	r.cancel()
	<-r.done

	if err := r.sessions.MarkClean(ctx); err != nil {
		r.cc.Logger.Warn("marking session clean", "error", err)
	}

	if err := r.store.Close(); err != nil {
		r.cc.Logger.Warn("closing store", "error", err)
	}
}

// resolveProjectID picks the project a command operates on:
// positional argument, then --project / [sync] default_project, then
// the last opened project.
func resolveProjectID(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}

	if cc.Cfg.Sync.DefaultProject != "" {
		return cc.Cfg.Sync.DefaultProject, nil
	}

	last, err := store.GetPref(ctx, sync.PrefActiveProject)
	if err == nil && last != "" {
		return last, nil
	}

	return "", fmt.Errorf("no project specified; pass --project, set [sync] default_project, or name one: 'plotsync pull <project-id>'")
}

// loadProject opens a project through the manager and settles any
// recovery decision: explicit flags win, an interactive terminal gets a
// prompt, and a non-interactive call fails loudly rather than guessing
// which copy to keep.
func loadProject(ctx context.Context, r *syncRig, id string, keepLocal, useServer bool) (*sync.LoadResult, error) {
	res, err := r.mgr.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if res.Recovery == nil {
		return res, nil
	}

	rec := res.Recovery

	switch {
	case keepLocal:
		// Decided by flag.
	case useServer:
	case stdoutIsTTY():
		keepLocal, err = promptRecoveryChoice(id, rec)
		if err != nil {
			return nil, err
		}

		useServer = !keepLocal
	default:
		return nil, fmt.Errorf(
			"local copy of %s (v%d, dirty=%t) may be newer than the server copy (v%d); rerun with --keep-local or --use-server",
			id, rec.LocalVersion, rec.Dirty, rec.ServerVersion)
	}

	if keepLocal {
		if err := r.mgr.RecoverKeepLocal(ctx); err != nil {
			return nil, fmt.Errorf("keeping local copy: %w", err)
		}
	} else if err := r.mgr.RecoverUseServer(ctx); err != nil {
		return nil, fmt.Errorf("adopting server copy: %w", err)
	}

	res.Recovery = nil
	res.Project = r.mgr.Project()

	return res, nil
}

// promptRecoveryChoice asks which copy survives. Returns true to keep
// the local copy.
func promptRecoveryChoice(id string, rec *sync.RecoveryDecision) (bool, error) {
	keepLocal := true

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[bool]().
			Title(fmt.Sprintf("Local copy of %s may hold unpushed work", id)).
			Description(fmt.Sprintf("local v%d (dirty: %t)  |  server v%d", rec.LocalVersion, rec.Dirty, rec.ServerVersion)).
			Options(
				huh.NewOption("Keep local copy and push it", true),
				huh.NewOption("Discard local copy, use server version", false),
			).
			Value(&keepLocal),
	))

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("recovery choice aborted: %w", err)
	}

	return keepLocal, nil
}
