package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
)

// Manager coordinates the local-first loop. It owns the in-memory
// project; every committed change is saved to the local cache before
// anything touches the network, then a debounced push carries the full
// snapshot to the server. Push outcomes drive the status machine:
// success returns to idle, a network failure queues the snapshot and
// goes offline, a version conflict blocks pushes until resolved, and
// any other server rejection parks in error until the next attempt.
type Manager struct {
	store    Store
	client   RemoteClient
	presence PresenceSource
	sessions *SessionManager
	saver    *AutoSaver
	logger   *slog.Logger

	mu       sync.Mutex
	project  *plot.Project
	pending  *plot.Project // snapshot of the last committed edit; what pushes carry
	status   Status
	dirty    bool
	editGen  uint64 // bumped by MarkDirty; detects edits landing mid-push
	paused   bool
	lastErr  error
	conflict *ConflictRecord // open conflict for the loaded project
	subs     []func(Status)

	degraded atomic.Bool // a local store write failed; memory is authoritative

	pushDeb *debouncer
	drainCh chan struct{}
}

// ManagerConfig carries the dependencies for NewManager.
type ManagerConfig struct {
	Store    Store
	Client   RemoteClient
	Presence PresenceSource  // optional; connectivity reporting is skipped when nil
	Sessions *SessionManager // optional; stamps the session's open project when set

	PushDebounce time.Duration // quiet window before a push fires
	SaveDebounce time.Duration // quiet window for the auto-saver
	SnapshotKeep int           // recovery snapshots retained per project

	Logger *slog.Logger
}

// NewManager wires a sync manager and its auto-saver. Run must be
// started for debounced work to fire.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:    cfg.Store,
		client:   cfg.Client,
		presence: cfg.Presence,
		sessions: cfg.Sessions,
		logger:   logger,
		status:   StatusIdle,
		drainCh:  make(chan struct{}, 1),
	}

	var sessionID string
	if cfg.Sessions != nil {
		sessionID = cfg.Sessions.SessionID()
	}

	m.saver = NewAutoSaver(AutoSaverConfig{
		Store:     cfg.Store,
		SessionID: sessionID,
		Window:    cfg.SaveDebounce,
		Keep:      cfg.SnapshotKeep,
		Logger:    logger,
		OnError:   m.markDegraded,
	})

	m.pushDeb = newDebouncer(cfg.PushDebounce, m.pushNow, logger)

	if cfg.Presence != nil {
		cfg.Presence.Subscribe(func(online bool) {
			if online {
				m.requestDrain()
			}
		})
	}

	return m
}

// Saver exposes the auto-saver for callers that feed it change streams
// directly (debounced path, no immediate flush).
func (m *Manager) Saver() *AutoSaver {
	return m.saver
}

// Run drives the manager's background loops until ctx is canceled:
// the auto-saver, the push debouncer, and the queue drainer. Always
// returns nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.saver.Run(ctx) })
	g.Go(func() error { return m.pushDeb.Run(ctx) })
	g.Go(func() error { return m.drainLoop(ctx) })

	return g.Wait()
}

// drainLoop serves reconnect-triggered queue drains.
func (m *Manager) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.drainCh:
			if err := m.Drain(ctx); err != nil {
				m.logger.Debug("queue drain stopped", "error", err)
			}
		}
	}
}

// requestDrain schedules a queue drain. Non-blocking.
func (m *Manager) requestDrain() {
	select {
	case m.drainCh <- struct{}{}:
	default:
		// Drain already pending.
	}
}

// LoadSource says where a loaded project came from.
type LoadSource string

const (
	SourceCache  LoadSource = "cache"
	SourceServer LoadSource = "server"
)

// RecoveryDecision is returned when the cached copy may hold work the
// server copy lacks. Nothing has been overwritten in either direction;
// the caller chooses via RecoverKeepLocal or RecoverUseServer.
type RecoveryDecision struct {
	LocalVersion  int64
	ServerVersion int64
	Dirty         bool
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Project  *plot.Project
	Source   LoadSource
	Recovery *RecoveryDecision // non-nil: the caller must decide
}

// Load opens a project cache-first:
//  1. Restore the paused preference and any open conflict for the project.
//  2. Read the cached copy; a store failure degrades to memory-only.
//  3. Fetch the server copy. On success the server copy wins and
//     overwrites the cache, unless the cached copy may hold newer work;
//     then nothing is overwritten and the result carries a recovery
//     decision for the caller.
//  4. On fetch failure, fall back to the cached copy, or report the
//     failure when there is nothing to fall back to.
func (m *Manager) Load(ctx context.Context, id string) (*LoadResult, error) {
	if err := m.restoreState(ctx, id); err != nil {
		m.markDegraded(err)
	}

	cached, err := m.store.LoadProject(ctx, id)
	if err != nil {
		m.markDegraded(err)

		cached = nil
	}

	server, serverVersion, fetchErr := m.client.GetProject(ctx, id)
	if fetchErr == nil {
		return m.adoptFetched(ctx, cached, server, serverVersion)
	}

	return m.fallBackToCache(ctx, id, cached, fetchErr)
}

// restoreState loads persisted prefs and the project's open conflict,
// and records the project as the active one.
func (m *Manager) restoreState(ctx context.Context, id string) error {
	paused, err := m.store.GetPref(ctx, PrefPaused)
	if err != nil {
		return err
	}

	conflict, err := m.store.OpenConflict(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.paused = paused == "1"
	m.conflict = conflict
	m.mu.Unlock()

	if conflict != nil {
		m.setStatus(StatusConflict)
	}

	return m.store.SetPref(ctx, PrefActiveProject, id)
}

// adoptFetched resolves a successful server fetch against the cache.
func (m *Manager) adoptFetched(ctx context.Context, cached *CachedProject, server *plot.Project, serverVersion int64) (*LoadResult, error) {
	m.setOnline(true)

	m.mu.Lock()
	conflicted := m.conflict != nil
	m.mu.Unlock()

	// An open conflict pins the local copy: neither side overwrites the
	// other until the user picks one.
	if cached != nil && conflicted {
		local, err := cached.Project()
		if err != nil {
			return nil, fmt.Errorf("decode cached copy: %w", err)
		}

		m.adopt(ctx, local, cached.Dirty, StatusConflict)

		return &LoadResult{Project: local, Source: SourceCache}, nil
	}

	if cached != nil && cached.PossiblyNewerThan(serverVersion) {
		local, err := cached.Project()
		if err != nil {
			return nil, fmt.Errorf("decode cached copy: %w", err)
		}

		m.adopt(ctx, local, cached.Dirty, StatusIdle)

		m.logger.Warn("cached copy may be newer than server",
			"project_id", local.ID,
			"local_version", cached.Version,
			"server_version", serverVersion,
			"dirty", cached.Dirty)

		return &LoadResult{
			Project: local,
			Source:  SourceCache,
			Recovery: &RecoveryDecision{
				LocalVersion:  cached.Version,
				ServerVersion: serverVersion,
				Dirty:         cached.Dirty,
			},
		}, nil
	}

	if cp, err := NewCachedProject(server, false); err == nil {
		if saveErr := m.store.SaveProject(ctx, cp); saveErr != nil {
			m.markDegraded(saveErr)
		}
	}

	m.adopt(ctx, server, false, StatusIdle)

	return &LoadResult{Project: server, Source: SourceServer}, nil
}

// fallBackToCache serves the cached copy after a failed fetch.
func (m *Manager) fallBackToCache(ctx context.Context, id string, cached *CachedProject, fetchErr error) (*LoadResult, error) {
	if cached == nil {
		return nil, fmt.Errorf("project %s: no cached copy and server unavailable: %w", id, fetchErr)
	}

	local, err := cached.Project()
	if err != nil {
		return nil, fmt.Errorf("decode cached copy: %w", err)
	}

	status := StatusIdle

	switch {
	case errors.Is(fetchErr, api.ErrNotFound):
		// The server has never seen this project (created offline).
		// Serve the cached copy; the next push creates it.
		m.setOnline(true)

	case isNetworkError(fetchErr):
		m.setOnline(false)

		status = StatusOffline

	default:
		m.mu.Lock()
		m.lastErr = fetchErr
		m.mu.Unlock()

		status = StatusError
	}

	m.mu.Lock()
	if m.conflict != nil {
		status = StatusConflict
	}
	m.mu.Unlock()

	m.adopt(ctx, local, cached.Dirty, status)

	m.logger.Warn("serving cached copy",
		"project_id", id, "error", fetchErr.Error())

	return &LoadResult{Project: local, Source: SourceCache}, nil
}

// adopt installs a project as the current one.
func (m *Manager) adopt(ctx context.Context, p *plot.Project, dirty bool, status Status) {
	m.mu.Lock()
	m.project = p
	m.dirty = dirty

	// A dirty adoption (cache holding unpushed work) seeds the push
	// snapshot so the push path never reads the live project.
	if dirty {
		m.pending = p.Clone()
	} else {
		m.pending = nil
	}
	m.mu.Unlock()

	m.setStatus(status)

	if m.sessions != nil {
		if err := m.sessions.SetProject(ctx, p.ID); err != nil {
			m.logger.Warn("updating session project", "error", err)
		}
	}
}

// MarkDirty commits the current project state: it is cloned on the
// caller's goroutine (the one that mutates the project), saved to the
// local cache synchronously, and scheduled for a debounced push. The
// push path only ever sees these committed clones, so the caller may
// keep mutating the live project between commits.
func (m *Manager) MarkDirty(ctx context.Context) error {
	m.mu.Lock()

	var snapshot *plot.Project

	if m.project != nil {
		snapshot = m.project.Clone()
		m.pending = snapshot
		m.dirty = true
		m.editGen++
	}
	m.mu.Unlock()

	if snapshot == nil {
		return errors.New("no project loaded")
	}

	m.saver.Changed(snapshot)

	if err := m.saver.Flush(ctx); err != nil {
		// Degraded: memory stays authoritative and the push still
		// carries the full snapshot.
		m.logger.Warn("immediate save failed", "error", err)
	}

	m.pushDeb.Trigger()
	m.notifyState()

	return nil
}

// pushNow sends the current snapshot to the server. Runs on the push
// debouncer's goroutine.
func (m *Manager) pushNow(ctx context.Context) error {
	m.mu.Lock()

	if m.project == nil || !m.dirty {
		m.mu.Unlock()

		return nil
	}

	if m.conflict != nil {
		projectID := m.project.ID
		m.mu.Unlock()

		m.logger.Debug("push blocked by open conflict", "project_id", projectID)

		return nil
	}

	snapshot := m.pending
	base := m.project.Version
	gen := m.editGen
	paused := m.paused
	m.mu.Unlock()

	if snapshot == nil {
		return nil
	}

	if paused {
		// Paused edits queue like offline ones, but the connection state
		// is untouched: we are not offline, just holding pushes.
		m.logger.Debug("push held while paused", "project_id", snapshot.ID)

		return m.enqueue(ctx, snapshot, base)
	}

	m.setStatus(StatusSyncing)

	newVersion, err := m.client.PutProject(ctx, snapshot, base)
	if err == nil {
		m.completePush(ctx, snapshot, gen, newVersion)

		return nil
	}

	return m.handlePushError(ctx, snapshot, base, err)
}

// completePush adopts the server-assigned version and persists the
// pushed snapshot. The dirty flag clears only when no edit landed while
// the push was in flight; if one did, the newer commit is persisted
// instead so the cache never regresses behind memory.
func (m *Manager) completePush(ctx context.Context, snapshot *plot.Project, gen uint64, newVersion int64) {
	m.mu.Lock()

	if m.project != nil {
		m.project.Version = newVersion
	}

	dirty := true

	if m.editGen == gen {
		m.dirty = false
		m.pending = nil
		dirty = false
	} else if m.pending != nil {
		snapshot = m.pending.Clone()
	}

	m.lastErr = nil
	m.mu.Unlock()

	snapshot.Version = newVersion

	if cp, err := NewCachedProject(snapshot, dirty); err == nil {
		if saveErr := m.store.SaveProject(ctx, cp); saveErr != nil {
			m.markDegraded(saveErr)
		}
	}

	m.setOnline(true)
	m.setStatus(StatusIdle)

	m.logger.Info("push accepted",
		"project_id", snapshot.ID, "version", newVersion, "dirty", dirty)
}

// handlePushError routes a failed push: version conflicts open the
// conflict flow, network-level failures queue the snapshot, and any
// other server rejection parks in error without retrying.
func (m *Manager) handlePushError(ctx context.Context, snapshot *plot.Project, base int64, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err

	case errors.Is(err, api.ErrConflict):
		return m.beginConflict(ctx, snapshot, base, err)

	case isNetworkError(err):
		return m.queueSnapshot(ctx, snapshot, base)

	default:
		m.recordError(err)

		return err
	}
}

// enqueue persists a snapshot to the push queue without touching the
// status machine. The snapshot stays dirty in memory and in the cache.
func (m *Manager) enqueue(ctx context.Context, snapshot *plot.Project, base int64) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		m.recordError(err)

		return err
	}

	push := &QueuedPush{
		ProjectID:   snapshot.ID,
		Payload:     payload,
		BaseVersion: base,
		QueuedAt:    plot.NowNano(),
	}

	if err := m.store.EnqueuePush(ctx, push); err != nil {
		// Memory still holds the edits; the next push retries.
		m.markDegraded(err)
	}

	m.logger.Info("push queued",
		"project_id", snapshot.ID, "base_version", base)

	return nil
}

// queueSnapshot queues a snapshot after a network-level failure and
// transitions to offline.
func (m *Manager) queueSnapshot(ctx context.Context, snapshot *plot.Project, base int64) error {
	if err := m.enqueue(ctx, snapshot, base); err != nil {
		return err
	}

	m.setOnline(false)
	m.setStatus(StatusOffline)

	return nil
}

// Drain sends queued snapshots strictly FIFO, stopping at the first
// failure; remaining entries stay queued for the next attempt. A queue
// head blocked by an open conflict halts the drain until it is resolved.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		pushes, err := m.store.PeekPushes(ctx, 1)
		if err != nil {
			return err
		}

		if len(pushes) == 0 {
			return nil
		}

		push := pushes[0]

		if m.Paused() {
			return nil
		}

		if open, err := m.store.OpenConflict(ctx, push.ProjectID); err != nil {
			return err
		} else if open != nil {
			m.logger.Debug("drain blocked by open conflict",
				"project_id", push.ProjectID)

			return nil
		}

		p, err := push.Project()
		if err != nil {
			// An undecodable payload would wedge the queue head forever.
			m.logger.Error("dropping undecodable queued push",
				"push_id", push.ID, "error", err)

			if delErr := m.store.DeletePush(ctx, push.ID); delErr != nil {
				return delErr
			}

			continue
		}

		m.setStatus(StatusSyncing)

		m.mu.Lock()
		gen := m.editGen
		m.mu.Unlock()

		newVersion, putErr := m.client.PutProject(ctx, p, push.BaseVersion)
		if putErr != nil {
			return m.handleDrainError(ctx, p, push.BaseVersion, putErr)
		}

		if err := m.store.DeletePush(ctx, push.ID); err != nil {
			return err
		}

		m.completeDrained(ctx, p, newVersion, gen)
	}
}

// handleDrainError routes a failed queue-head push and halts the drain.
func (m *Manager) handleDrainError(ctx context.Context, snapshot *plot.Project, base int64, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err

	case errors.Is(err, api.ErrConflict):
		return m.beginConflict(ctx, snapshot, base, err)

	case isNetworkError(err):
		m.setOnline(false)
		m.setStatus(StatusOffline)

		return fmt.Errorf("drain: %w", err)

	default:
		m.recordError(err)

		return err
	}
}

// completeDrained records a drained push's new version: in memory when
// it is the loaded project, and always in the cache row. The dirty flag
// clears only when no edit landed while the push was in flight.
func (m *Manager) completeDrained(ctx context.Context, p *plot.Project, newVersion int64, gen uint64) {
	m.mu.Lock()

	dirty := false

	if m.project != nil && m.project.ID == p.ID {
		m.project.Version = newVersion

		if m.editGen == gen {
			m.dirty = false
			m.pending = nil
		} else if m.pending != nil {
			p = m.pending.Clone()
		}

		dirty = m.dirty
	}

	p.Version = newVersion
	m.lastErr = nil
	m.mu.Unlock()

	if cp, err := NewCachedProject(p, dirty); err == nil {
		if saveErr := m.store.SaveProject(ctx, cp); saveErr != nil {
			m.markDegraded(saveErr)
		}
	}

	m.setOnline(true)
	m.setStatus(StatusIdle)

	m.logger.Info("queued push accepted",
		"project_id", p.ID, "version", newVersion)
}

// Sync runs one explicit cycle without waiting out the debounce
// windows: flush pending saves, drain the queue, then push current
// edits. Used by the sync command and on resume.
func (m *Manager) Sync(ctx context.Context) error {
	if err := m.saver.Flush(ctx); err != nil {
		m.logger.Warn("flushing autosave", "error", err)
	}

	if err := m.Drain(ctx); err != nil {
		return err
	}

	return m.pushDeb.Flush(ctx)
}

// Pause suspends pushes. Edits keep saving locally and queue as if
// offline. The flag persists across restarts.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()

	if err := m.store.SetPref(ctx, PrefPaused, "1"); err != nil {
		return fmt.Errorf("persist pause: %w", err)
	}

	m.logger.Info("sync paused")

	return nil
}

// Resume lifts a pause and schedules a drain plus a push for anything
// that accumulated.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()

	if err := m.store.SetPref(ctx, PrefPaused, ""); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}

	m.logger.Info("sync resumed")

	m.requestDrain()
	m.pushDeb.Trigger()

	return nil
}

// --- Accessors ---

// Project returns the loaded project, or nil. The pointer is live:
// callers mutate it from a single goroutine and call MarkDirty to
// commit. Saves and pushes carry only committed snapshots, so edits
// made after the last MarkDirty stay local until the next one.
func (m *Manager) Project() *plot.Project {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.project
}

// Status returns the current machine state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Dirty reports whether local edits await a successful push.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.dirty
}

// Paused reports whether pushes are suspended.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.paused
}

// LastError returns the error behind an error status, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// Degraded reports whether a local store write has failed this session.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// QueueDepth returns the number of queued pushes.
func (m *Manager) QueueDepth(ctx context.Context) (int, error) {
	return m.store.QueueDepth(ctx)
}

// Subscribe registers a listener for status transitions.
func (m *Manager) Subscribe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs = append(m.subs, fn)
}

// --- Internal helpers ---

// setStatus transitions the machine. Listeners fire only on change.
func (m *Manager) setStatus(next Status) {
	m.mu.Lock()

	if m.status == next {
		m.mu.Unlock()

		return
	}

	m.status = next
	subs := append([]func(Status){}, m.subs...)
	m.mu.Unlock()

	m.logger.Info("sync status changed", "status", string(next))

	for _, fn := range subs {
		fn(next)
	}
}

// notifyState re-fires listeners with the current status so derived
// projections re-read the dirty flag even without a transition.
func (m *Manager) notifyState() {
	m.mu.Lock()
	status := m.status
	subs := append([]func(Status){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

// recordError parks the machine in error state. Not retried until the
// next push attempt or explicit sync.
func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	m.setStatus(StatusError)

	m.logger.Warn("sync error", "error", err.Error())
}

// markDegraded notes a local store failure. The editor keeps working
// from memory.
func (m *Manager) markDegraded(err error) {
	m.degraded.Store(true)

	m.logger.Error("local store degraded", "error", err.Error())
}

// setOnline reports a connectivity observation to the presence monitor.
func (m *Manager) setOnline(online bool) {
	if m.presence != nil {
		m.presence.SetOnline(online)
	}
}

// isNetworkError reports whether err is a transport-level failure, as
// opposed to an HTTP response the server actually produced.
func isNetworkError(err error) bool {
	var apiErr *api.Error

	return !errors.As(err, &apiErr)
}
