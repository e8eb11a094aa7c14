package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagelight/plotsync/internal/plot"
)

// AutoSaver turns a high-frequency edit stream into periodic cache
// writes: edits arrive via Changed, a trailing debounce window collapses
// bursts, and each actual save writes the project row plus one recovery
// snapshot (pruned to the configured retention). A failed save keeps the
// pending state so the next window retries it.
type AutoSaver struct {
	store     Store
	sessionID string
	keep      int
	logger    *slog.Logger
	onError   func(error)

	mu      sync.Mutex
	pending *plot.Project // clone awaiting save; nil when clean

	deb *debouncer
}

// AutoSaverConfig carries the dependencies for NewAutoSaver.
type AutoSaverConfig struct {
	Store     Store
	SessionID string
	Window    time.Duration // quiet window before a save fires
	Keep      int           // recovery snapshots retained per project
	Logger    *slog.Logger

	// OnError is invoked when a save fails, after the failure has been
	// logged and the pending state restored. Optional.
	OnError func(error)
}

// NewAutoSaver creates an auto-saver. Run must be started for debounced
// saves to fire; Flush works regardless once Run is up.
func NewAutoSaver(cfg AutoSaverConfig) *AutoSaver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &AutoSaver{
		store:     cfg.Store,
		sessionID: cfg.SessionID,
		keep:      cfg.Keep,
		logger:    logger,
		onError:   cfg.OnError,
	}

	a.deb = newDebouncer(cfg.Window, a.saveNow, logger)

	return a
}

// Changed records a new project state to save. The snapshot is cloned
// immediately, so the caller may keep mutating the original. Each call
// restarts the debounce window.
func (a *AutoSaver) Changed(p *plot.Project) {
	dup := p.Clone()

	a.mu.Lock()
	a.pending = dup
	a.mu.Unlock()

	a.deb.Trigger()

	a.logger.Debug("autosave scheduled", "project_id", p.ID)
}

// Flush cancels any pending window and saves now, waiting first for a
// save already in flight. No-op when clean.
func (a *AutoSaver) Flush(ctx context.Context) error {
	return a.deb.Flush(ctx)
}

// IsDirty reports whether edits are awaiting a save.
func (a *AutoSaver) IsDirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.pending != nil
}

// Run drives the debounce loop until ctx is canceled. Always returns
// nil on cancellation.
func (a *AutoSaver) Run(ctx context.Context) error {
	return a.deb.Run(ctx)
}

// saveNow writes the pending snapshot to the store: the project row
// (marked dirty, since these are unsynced local edits) and one recovery
// snapshot, which triggers the retention prune.
func (a *AutoSaver) saveNow(ctx context.Context) error {
	a.mu.Lock()
	p := a.pending
	a.pending = nil
	a.mu.Unlock()

	if p == nil {
		return nil
	}

	cp, err := NewCachedProject(p, true)
	if err != nil {
		// Encoding is deterministic; restoring the pending state would
		// retry a failure that cannot succeed.
		a.fail("encoding autosave", err)

		return err
	}

	if err := a.store.SaveProject(ctx, cp); err != nil {
		a.restorePending(p)
		a.fail("saving project", err)

		return err
	}

	snap := &RecoverySnapshot{
		ID:         uuid.NewString(),
		ProjectID:  p.ID,
		SessionID:  a.sessionID,
		Payload:    cp.Payload,
		CapturedAt: plot.NowNano(),
	}

	if err := a.store.SaveRecoverySnapshot(ctx, snap, a.keep); err != nil {
		// The project row landed; only the snapshot is missing.
		a.fail("saving recovery snapshot", err)

		return err
	}

	a.logger.Debug("autosave complete",
		"project_id", p.ID, "snapshot_id", snap.ID)

	return nil
}

// restorePending puts a failed save's state back unless a newer edit
// already replaced it.
func (a *AutoSaver) restorePending(p *plot.Project) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending == nil {
		a.pending = p
	}
}

// fail logs a save failure and notifies the owner. The editor keeps
// working from memory; the store is retried on the next save.
func (a *AutoSaver) fail(op string, err error) {
	a.logger.Error("autosave degraded", "op", op, "error", err)

	if a.onError != nil {
		a.onError(err)
	}
}
