package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stagelight/plotsync/internal/plot"
)

// markerFilePermissions matches the standard config file permissions (owner rw, group/other r).
const markerFilePermissions = 0o644

// markerDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const markerDirPermissions = 0o755

// SessionManager owns this process's session record: it stamps the
// record active at startup, detects a crashed predecessor, and records
// shutdown. Clean shutdown has a synchronous fast path, a small marker
// file written and fsynced before the slower database update, so a
// process killed between the two still reads as clean on next start.
type SessionManager struct {
	store      Store
	markerPath string
	logger     *slog.Logger

	sessionID string
	projectID string
	startedAt int64
}

// NewSessionManager creates a manager with a fresh random session id.
func NewSessionManager(store Store, markerPath string, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionManager{
		store:      store,
		markerPath: markerPath,
		logger:     logger,
		sessionID:  uuid.NewString(),
	}
}

// SessionID returns this process's session id.
func (m *SessionManager) SessionID() string {
	return m.sessionID
}

// Begin stamps this session active and reports whether the previous one
// crashed. A prior record counts as crashed when it belongs to a
// different session, its exit state is not clean, and no clean-exit
// marker vouches for it. Returns (nil, nil) when there is nothing to
// recover.
func (m *SessionManager) Begin(ctx context.Context, projectID string) (*CrashReport, error) {
	report, err := m.store.DetectCrashedSession(ctx, m.sessionID)
	if err != nil {
		return nil, err
	}

	// Marker rescue: MarkClean fsyncs the marker before updating the
	// row, so a marker naming the prior session proves its exit was
	// clean even though the row still says otherwise.
	if report != nil && m.markerNames(report.SessionID) {
		m.logger.Info("clean-exit marker vouches for prior session",
			"session_id", report.SessionID)

		report = nil
	}

	if err := m.removeMarker(); err != nil {
		m.logger.Warn("removing stale clean-exit marker", "error", err)
	}

	m.projectID = projectID
	m.startedAt = plot.NowNano()

	sess := &Session{
		SessionID: m.sessionID,
		ProjectID: projectID,
		ExitState: ExitActive,
		StartedAt: m.startedAt,
		UpdatedAt: m.startedAt,
	}

	if err := m.store.WriteSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("record session start: %w", err)
	}

	m.logger.Info("session started",
		"session_id", m.sessionID, "project_id", projectID)

	return report, nil
}

// SetProject updates the record's open project after a project switch.
func (m *SessionManager) SetProject(ctx context.Context, projectID string) error {
	m.projectID = projectID

	return m.store.WriteSession(ctx, &Session{
		SessionID: m.sessionID,
		ProjectID: projectID,
		ExitState: ExitActive,
		StartedAt: m.startedAt,
		UpdatedAt: plot.NowNano(),
	})
}

// MarkUnload notes that shutdown has begun but not completed. If the
// process dies here, the next start still reports a crash (unsaved work
// may exist). Best-effort: a failure is logged, not returned.
func (m *SessionManager) MarkUnload(ctx context.Context) {
	err := m.store.WriteSession(ctx, &Session{
		SessionID: m.sessionID,
		ProjectID: m.projectID,
		ExitState: ExitUnload,
		StartedAt: m.startedAt,
		UpdatedAt: plot.NowNano(),
	})
	if err != nil {
		m.logger.Warn("recording unload state", "error", err)
	}
}

// MarkClean records a clean shutdown. The marker file is written and
// fsynced first; once it is on disk the shutdown reads as clean on next
// start even if the row update below never lands.
func (m *SessionManager) MarkClean(ctx context.Context) error {
	if err := m.writeMarker(); err != nil {
		return fmt.Errorf("write clean-exit marker: %w", err)
	}

	err := m.store.WriteSession(ctx, &Session{
		SessionID: m.sessionID,
		ProjectID: m.projectID,
		ExitState: ExitClean,
		StartedAt: m.startedAt,
		UpdatedAt: plot.NowNano(),
	})
	if err != nil {
		m.logger.Warn("session row update failed, marker covers it", "error", err)
	}

	m.logger.Info("session marked clean", "session_id", m.sessionID)

	return nil
}

// writeMarker writes this session's id to the marker file and syncs it
// to disk before returning.
func (m *SessionManager) writeMarker() error {
	dir := filepath.Dir(m.markerPath)
	if err := os.MkdirAll(dir, markerDirPermissions); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}

	f, err := os.OpenFile(m.markerPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, markerFilePermissions)
	if err != nil {
		return fmt.Errorf("opening marker file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%s\n", m.sessionID); err != nil {
		f.Close()

		return fmt.Errorf("writing marker file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing marker file: %w", err)
	}

	return f.Close()
}

// markerNames reports whether the marker file exists and names the given
// session id.
func (m *SessionManager) markerNames(sessionID string) bool {
	data, err := os.ReadFile(m.markerPath)
	if err != nil {
		return false
	}

	return strings.TrimSpace(string(data)) == sessionID
}

// removeMarker deletes the marker file. A missing file is fine.
func (m *SessionManager) removeMarker() error {
	err := os.Remove(m.markerPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
