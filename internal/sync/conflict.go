package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/pkg/canonjson"
)

// ErrNoConflict is returned by a resolution call when nothing is open.
var ErrNoConflict = errors.New("sync: no open conflict")

// beginConflict records a version conflict and blocks pushes. The
// record carries both versions, content digests of both snapshots, and
// an object-level diff summary so the user can judge what diverged.
// A repeated conflict on the same project refreshes the open record
// instead of adding a second one.
func (m *Manager) beginConflict(ctx context.Context, local *plot.Project, localVersion int64, pushErr error) error {
	rec := &ConflictRecord{
		ID:           uuid.NewString(),
		ProjectID:    local.ID,
		LocalVersion: localVersion,
		DetectedAt:   plot.NowNano(),
		Resolution:   ResolutionUnresolved,
	}

	if open, err := m.store.OpenConflict(ctx, local.ID); err == nil && open != nil {
		rec.ID = open.ID
	}

	var apiErr *api.Error
	if errors.As(pushErr, &apiErr) {
		rec.ServerVersion = apiErr.ServerVersion
	}

	if digest, err := canonjson.Digest(local); err == nil {
		rec.LocalDigest = digest
	}

	// Fetch the server copy for its authoritative version, digest, and
	// the diff summary. Best-effort: the record stands without it.
	if server, serverVersion, err := m.client.GetProject(ctx, local.ID); err == nil {
		rec.ServerVersion = serverVersion

		if digest, err := canonjson.Digest(server); err == nil {
			rec.ServerDigest = digest
		}

		rec.Diff = plot.Diff(local, server)
	} else {
		m.logger.Warn("fetching server copy for conflict record",
			"project_id", local.ID, "error", err.Error())
	}

	if err := m.store.SaveConflict(ctx, rec); err != nil {
		m.markDegraded(err)
	}

	m.mu.Lock()
	if m.project != nil && m.project.ID == local.ID {
		m.conflict = rec
	}
	m.mu.Unlock()

	// The server answered, so we are online, just conflicted.
	m.setOnline(true)
	m.setStatus(StatusConflict)

	m.logger.Warn("version conflict detected",
		"project_id", local.ID,
		"local_version", rec.LocalVersion,
		"server_version", rec.ServerVersion,
		"diff_total", rec.Diff.Total())

	return fmt.Errorf("project %s: %w", local.ID, pushErr)
}

// Conflict returns the loaded project's open conflict, or nil.
func (m *Manager) Conflict() *ConflictRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conflict
}

// ListConflicts returns the conflict ledger, open records first.
func (m *Manager) ListConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	return m.store.ListConflicts(ctx)
}

// AcceptServer resolves the open conflict by adopting the server copy.
// Local edits are discarded: the cache is overwritten clean, queued
// pushes for the project are dropped, and the record is marked resolved.
func (m *Manager) AcceptServer(ctx context.Context) error {
	rec := m.Conflict()
	if rec == nil {
		return ErrNoConflict
	}

	if err := m.adoptServerCopy(ctx, rec.ProjectID); err != nil {
		return err
	}

	if err := m.store.ResolveConflict(ctx, rec.ID, ResolutionAcceptServer); err != nil {
		m.markDegraded(err)
	}

	m.mu.Lock()
	m.conflict = nil
	m.mu.Unlock()

	m.setStatus(StatusIdle)

	m.logger.Info("conflict resolved",
		"conflict_id", rec.ID, "resolution", string(ResolutionAcceptServer))

	return nil
}

// KeepLocal resolves the open conflict by force-pushing the local
// snapshot with the server's current version as base (last write wins).
// If the server moved again in the meantime, the fresh conflict
// refreshes the open record and pushes stay blocked.
func (m *Manager) KeepLocal(ctx context.Context) error {
	rec := m.Conflict()
	if rec == nil {
		return ErrNoConflict
	}

	m.mu.Lock()

	if m.project == nil || m.project.ID != rec.ProjectID {
		m.mu.Unlock()

		return fmt.Errorf("conflicted project %s is not loaded", rec.ProjectID)
	}

	snapshot := m.project.Clone()
	gen := m.editGen
	m.mu.Unlock()

	m.setStatus(StatusSyncing)

	newVersion, err := m.client.PutProject(ctx, snapshot, rec.ServerVersion)
	if err != nil {
		if errors.Is(err, api.ErrConflict) {
			// Server moved again since the record was built.
			return m.beginConflict(ctx, snapshot, snapshot.Version, err)
		}

		// Still blocked; the record stays open.
		m.setStatus(StatusConflict)

		return fmt.Errorf("force push: %w", err)
	}

	if err := m.store.ResolveConflict(ctx, rec.ID, ResolutionKeepLocal); err != nil {
		m.markDegraded(err)
	}

	if err := m.store.DeletePushesForProject(ctx, rec.ProjectID); err != nil {
		m.markDegraded(err)
	}

	m.mu.Lock()
	m.conflict = nil
	m.mu.Unlock()

	m.completePush(ctx, snapshot, gen, newVersion)

	m.logger.Info("conflict resolved",
		"conflict_id", rec.ID, "resolution", string(ResolutionKeepLocal))

	return nil
}

// adoptServerCopy fetches the server copy and installs it as the local
// truth: cache overwritten clean, queued pushes dropped, and memory
// updated when the project is the loaded one.
func (m *Manager) adoptServerCopy(ctx context.Context, projectID string) error {
	server, _, err := m.client.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("fetch server copy: %w", err)
	}

	if cp, err := NewCachedProject(server, false); err == nil {
		if saveErr := m.store.SaveProject(ctx, cp); saveErr != nil {
			m.markDegraded(saveErr)
		}
	}

	if err := m.store.DeletePushesForProject(ctx, projectID); err != nil {
		m.markDegraded(err)
	}

	m.mu.Lock()
	if m.project != nil && m.project.ID == projectID {
		m.project = server
		m.dirty = false
		m.pending = nil
	}
	m.mu.Unlock()

	m.setOnline(true)

	return nil
}

// RecoverKeepLocal answers a load-time recovery decision by keeping the
// cached copy: it is marked dirty and pushed right away, outside the
// debounce window.
func (m *Manager) RecoverKeepLocal(ctx context.Context) error {
	if err := m.MarkDirty(ctx); err != nil {
		return err
	}

	return m.Sync(ctx)
}

// RecoverUseServer answers a load-time recovery decision by discarding
// the cached copy for the server one.
func (m *Manager) RecoverUseServer(ctx context.Context) error {
	m.mu.Lock()
	p := m.project
	m.mu.Unlock()

	if p == nil {
		return errors.New("no project loaded")
	}

	if err := m.adoptServerCopy(ctx, p.ID); err != nil {
		return err
	}

	m.setStatus(StatusIdle)

	return nil
}
