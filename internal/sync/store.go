package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stagelight/plotsync/internal/plot"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// busyTimeoutMillis is how long a writer waits for the file lock when
// another process (usually a watch daemon) holds it.
const busyTimeoutMillis = 5000

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. All local-first state (project snapshots,
// recovery captures, the session record, the offline push queue, the
// conflict ledger, and preferences) is persisted here.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	projectStmts  projectStatements
	snapshotStmts snapshotStatements
	sessionStmts  sessionStatements
	queueStmts    queueStatements
	conflictStmts conflictStatements
	prefStmts     prefStatements
}

// Statement groups to avoid a flat list of 25+ fields.
type projectStatements struct {
	save, get, list, del, setDirty *sql.Stmt
}

type snapshotStatements struct {
	insert, prune, list, get, delForProject, stats *sql.Stmt
}

type sessionStatements struct {
	write, read *sql.Stmt
}

type queueStatements struct {
	enqueue, peek, del, delForProject, depth *sql.Stmt
}

type conflictStatements struct {
	save, open, resolve, list *sql.Stmt
}

type prefStatements struct {
	get, set *sql.Stmt
}

// NewStore creates a new SQLiteStore, opening the database at dbPath,
// applying migrations, and preparing all repeated statements.
// Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening local cache database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Sole-writer pattern: one connection serves everything, so prepared
	// statements and transactions never land on a second pool connection
	// (which for ":memory:" would be a separate empty database).
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("local cache database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		// pause/resume/status run against a database a watch daemon may
		// hold open, so writers wait for the lock instead of failing.
		{fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis), "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---
// Multi-line to satisfy 140-character line limit. Grouped by domain.

// Project queries.
const (
	sqlProjectColumns = `id, name, version, payload, dirty,
		created_at, updated_at, cached_at`

	sqlSaveProject = `INSERT INTO projects (` + sqlProjectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			version    = excluded.version,
			payload    = excluded.payload,
			dirty      = excluded.dirty,
			updated_at = excluded.updated_at,
			cached_at  = excluded.cached_at`

	sqlGetProject = `SELECT ` + sqlProjectColumns +
		` FROM projects WHERE id = ?`

	sqlListProjects = `SELECT ` + sqlProjectColumns +
		` FROM projects ORDER BY updated_at DESC`

	sqlDeleteProject = `DELETE FROM projects WHERE id = ?`

	sqlSetDirty = `UPDATE projects SET dirty = ?, cached_at = ? WHERE id = ?`
)

// Recovery snapshot queries.
const (
	sqlSnapshotColumns = `id, project_id, session_id, payload, captured_at`

	sqlInsertSnapshot = `INSERT INTO recovery_snapshots (` + sqlSnapshotColumns + `)
		VALUES (?, ?, ?, ?, ?)`

	sqlPruneSnapshots = `DELETE FROM recovery_snapshots
		WHERE project_id = ? AND id NOT IN (
			SELECT id FROM recovery_snapshots
			WHERE project_id = ?
			ORDER BY captured_at DESC, id DESC
			LIMIT ?
		)`

	sqlListSnapshots = `SELECT ` + sqlSnapshotColumns + `
		FROM recovery_snapshots WHERE project_id = ?
		ORDER BY captured_at DESC, id DESC`

	sqlGetSnapshot = `SELECT ` + sqlSnapshotColumns + `
		FROM recovery_snapshots WHERE id = ?`

	sqlDeleteSnapshots = `DELETE FROM recovery_snapshots WHERE project_id = ?`

	sqlSnapshotStats = `SELECT COUNT(*), COALESCE(MAX(captured_at), 0)
		FROM recovery_snapshots WHERE project_id = ?`
)

// Session queries. The table holds exactly one row (id = 1).
const (
	sqlWriteSession = `INSERT INTO session_meta
		(id, session_id, project_id, exit_state, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			project_id = excluded.project_id,
			exit_state = excluded.exit_state,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at`

	sqlReadSession = `SELECT session_id, project_id, exit_state, started_at, updated_at
		FROM session_meta WHERE id = 1`
)

// Push queue queries. UNIQUE(project_id) makes the enqueue a replace:
// a full snapshot supersedes any older one queued for the same project,
// keeping the original queue position so cross-project order stays FIFO.
const (
	sqlEnqueuePush = `INSERT INTO push_queue (project_id, payload, base_version, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			payload      = excluded.payload,
			base_version = excluded.base_version`

	sqlPeekPushes = `SELECT id, project_id, payload, base_version, queued_at
		FROM push_queue ORDER BY id ASC LIMIT ?`

	sqlDeletePush = `DELETE FROM push_queue WHERE id = ?`

	sqlDeleteProjectPushes = `DELETE FROM push_queue WHERE project_id = ?`

	sqlQueueDepth = `SELECT COUNT(*) FROM push_queue`
)

// Conflict ledger queries.
const (
	sqlConflictColumns = `id, project_id, local_version, server_version,
		local_digest, server_digest, diff_added, diff_removed, diff_modified,
		detected_at, resolved_at, resolution`

	sqlSaveConflict = `INSERT INTO conflict_log (` + sqlConflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_version  = excluded.local_version,
			server_version = excluded.server_version,
			local_digest   = excluded.local_digest,
			server_digest  = excluded.server_digest,
			diff_added     = excluded.diff_added,
			diff_removed   = excluded.diff_removed,
			diff_modified  = excluded.diff_modified,
			detected_at    = excluded.detected_at,
			resolved_at    = excluded.resolved_at,
			resolution     = excluded.resolution`

	sqlOpenConflict = `SELECT ` + sqlConflictColumns + `
		FROM conflict_log
		WHERE project_id = ? AND resolution = 'unresolved'
		ORDER BY detected_at DESC LIMIT 1`

	sqlResolveConflict = `UPDATE conflict_log
		SET resolution = ?, resolved_at = ?
		WHERE id = ?`

	sqlListConflicts = `SELECT ` + sqlConflictColumns + `
		FROM conflict_log
		ORDER BY (resolved_at IS NULL) DESC, detected_at DESC`
)

// Preference queries.
const (
	sqlGetPref = `SELECT value FROM prefs WHERE key = ?`

	sqlSetPref = `INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// stmtDef maps a SQL string to the prepared statement pointer it should populate.
// Used by the generic prepare helper to eliminate repetitive error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// prepareAllStatements creates all prepared statements grouped by domain.
func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareProjectStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareSnapshotStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareSessionStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareQueueStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareConflictStmts(ctx); err != nil {
		return err
	}

	return s.preparePrefStmts(ctx)
}

func (s *SQLiteStore) prepareProjectStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.projectStmts.save, sqlSaveProject, "saveProject"},
		{&s.projectStmts.get, sqlGetProject, "getProject"},
		{&s.projectStmts.list, sqlListProjects, "listProjects"},
		{&s.projectStmts.del, sqlDeleteProject, "deleteProject"},
		{&s.projectStmts.setDirty, sqlSetDirty, "setDirty"},
	})
}

func (s *SQLiteStore) prepareSnapshotStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.snapshotStmts.insert, sqlInsertSnapshot, "insertSnapshot"},
		{&s.snapshotStmts.prune, sqlPruneSnapshots, "pruneSnapshots"},
		{&s.snapshotStmts.list, sqlListSnapshots, "listSnapshots"},
		{&s.snapshotStmts.get, sqlGetSnapshot, "getSnapshot"},
		{&s.snapshotStmts.delForProject, sqlDeleteSnapshots, "deleteSnapshots"},
		{&s.snapshotStmts.stats, sqlSnapshotStats, "snapshotStats"},
	})
}

func (s *SQLiteStore) prepareSessionStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.sessionStmts.write, sqlWriteSession, "writeSession"},
		{&s.sessionStmts.read, sqlReadSession, "readSession"},
	})
}

func (s *SQLiteStore) prepareQueueStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.queueStmts.enqueue, sqlEnqueuePush, "enqueuePush"},
		{&s.queueStmts.peek, sqlPeekPushes, "peekPushes"},
		{&s.queueStmts.del, sqlDeletePush, "deletePush"},
		{&s.queueStmts.delForProject, sqlDeleteProjectPushes, "deleteProjectPushes"},
		{&s.queueStmts.depth, sqlQueueDepth, "queueDepth"},
	})
}

func (s *SQLiteStore) prepareConflictStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.conflictStmts.save, sqlSaveConflict, "saveConflict"},
		{&s.conflictStmts.open, sqlOpenConflict, "openConflict"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
		{&s.conflictStmts.list, sqlListConflicts, "listConflicts"},
	})
}

func (s *SQLiteStore) preparePrefStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.prefStmts.get, sqlGetPref, "getPref"},
		{&s.prefStmts.set, sqlSetPref, "setPref"},
	})
}

// --- Scanning helpers ---

// scanProject scans a full project row into a CachedProject.
// Used by all project-returning queries to avoid duplicated column scanning.
func scanProject(row interface{ Scan(...any) error }) (*CachedProject, error) {
	cp := &CachedProject{}

	err := row.Scan(
		&cp.ID, &cp.Name, &cp.Version, &cp.Payload, &cp.Dirty,
		&cp.CreatedAt, &cp.UpdatedAt, &cp.CachedAt,
	)
	if err != nil {
		return nil, err
	}

	return cp, nil
}

// scanProjectRows iterates over sql.Rows and collects CachedProjects.
func scanProjectRows(rows *sql.Rows) ([]*CachedProject, error) {
	var projects []*CachedProject

	for rows.Next() {
		cp, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}

		projects = append(projects, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}

	return projects, nil
}

// scanSnapshot scans a full snapshot row into a RecoverySnapshot.
func scanSnapshot(row interface{ Scan(...any) error }) (*RecoverySnapshot, error) {
	snap := &RecoverySnapshot{}

	err := row.Scan(
		&snap.ID, &snap.ProjectID, &snap.SessionID, &snap.Payload, &snap.CapturedAt,
	)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// scanConflict scans a full conflict row into a ConflictRecord.
func scanConflict(row interface{ Scan(...any) error }) (*ConflictRecord, error) {
	rec := &ConflictRecord{}

	var resolution string

	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.LocalVersion, &rec.ServerVersion,
		&rec.LocalDigest, &rec.ServerDigest,
		&rec.Diff.Added, &rec.Diff.Removed, &rec.Diff.Modified,
		&rec.DetectedAt, &rec.ResolvedAt, &resolution,
	)
	if err != nil {
		return nil, err
	}

	rec.Resolution = ConflictResolution(resolution)

	return rec, nil
}

// --- Project methods ---

// SaveProject inserts or updates a cached project snapshot. The upsert
// is idempotent: re-saving the same row is harmless.
func (s *SQLiteStore) SaveProject(ctx context.Context, cp *CachedProject) error {
	s.logger.Debug("saving project",
		"project_id", cp.ID, "version", cp.Version, "dirty", cp.Dirty)

	_, err := s.projectStmts.save.ExecContext(ctx,
		cp.ID, cp.Name, cp.Version, cp.Payload, cp.Dirty,
		cp.CreatedAt, cp.UpdatedAt, cp.CachedAt,
	)
	if err != nil {
		return fmt.Errorf("save project %s: %w", cp.ID, err)
	}

	return nil
}

// LoadProject retrieves a cached project by id.
// Returns (nil, nil) when no cached copy exists; callers use the nil
// row to distinguish "never cached" from a load failure.
func (s *SQLiteStore) LoadProject(ctx context.Context, id string) (*CachedProject, error) {
	s.logger.Debug("loading project", "project_id", id)

	cp, err := scanProject(s.projectStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not cached"
	}

	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}

	return cp, nil
}

// ListProjects returns every cached project, most recently edited first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*CachedProject, error) {
	s.logger.Debug("listing projects")

	rows, err := s.projectStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	return scanProjectRows(rows)
}

// DeleteProject removes a project and, through foreign key cascades,
// its recovery snapshots, queued pushes, and conflict records.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	s.logger.Info("deleting project", "project_id", id)

	_, err := s.projectStmts.del.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}

	return nil
}

// SetDirty updates a project's dirty flag without touching the payload.
func (s *SQLiteStore) SetDirty(ctx context.Context, id string, dirty bool) error {
	s.logger.Debug("setting dirty flag", "project_id", id, "dirty", dirty)

	_, err := s.projectStmts.setDirty.ExecContext(ctx, dirty, plot.NowNano(), id)
	if err != nil {
		return fmt.Errorf("set dirty %s: %w", id, err)
	}

	return nil
}

// --- Recovery snapshot methods ---

// SaveRecoverySnapshot inserts a snapshot and prunes the project's
// history down to the keep newest rows, in one transaction.
func (s *SQLiteStore) SaveRecoverySnapshot(ctx context.Context, snap *RecoverySnapshot, keep int) error {
	s.logger.Debug("saving recovery snapshot",
		"snapshot_id", snap.ID, "project_id", snap.ProjectID, "keep", keep)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}

	insert := tx.StmtContext(ctx, s.snapshotStmts.insert)
	if _, execErr := insert.ExecContext(ctx,
		snap.ID, snap.ProjectID, snap.SessionID, snap.Payload, snap.CapturedAt,
	); execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("insert snapshot %s: %w (rollback: %v)", snap.ID, execErr, rollbackErr)
	}

	prune := tx.StmtContext(ctx, s.snapshotStmts.prune)
	if _, execErr := prune.ExecContext(ctx, snap.ProjectID, snap.ProjectID, keep); execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("prune snapshots for %s: %w (rollback: %v)", snap.ProjectID, execErr, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}

	return nil
}

// ListRecoverySnapshots returns a project's snapshots, newest first.
func (s *SQLiteStore) ListRecoverySnapshots(ctx context.Context, projectID string) ([]*RecoverySnapshot, error) {
	s.logger.Debug("listing recovery snapshots", "project_id", projectID)

	rows, err := s.snapshotStmts.list.QueryContext(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", projectID, err)
	}
	defer rows.Close()

	var snaps []*RecoverySnapshot

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snaps, nil
}

// LoadRecoverySnapshot retrieves a single snapshot by id.
// Returns (nil, nil) when it does not exist.
func (s *SQLiteStore) LoadRecoverySnapshot(ctx context.Context, id string) (*RecoverySnapshot, error) {
	s.logger.Debug("loading recovery snapshot", "snapshot_id", id)

	snap, err := scanSnapshot(s.snapshotStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	return snap, nil
}

// DeleteRecoverySnapshots discards every snapshot for a project.
func (s *SQLiteStore) DeleteRecoverySnapshots(ctx context.Context, projectID string) error {
	s.logger.Info("deleting recovery snapshots", "project_id", projectID)

	_, err := s.snapshotStmts.delForProject.ExecContext(ctx, projectID)
	if err != nil {
		return fmt.Errorf("delete snapshots for %s: %w", projectID, err)
	}

	return nil
}

// snapshotStats returns the count and newest capture time for a project.
func (s *SQLiteStore) snapshotStats(ctx context.Context, projectID string) (int, int64, error) {
	var (
		count  int
		latest int64
	)

	err := s.snapshotStmts.stats.QueryRowContext(ctx, projectID).Scan(&count, &latest)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot stats for %s: %w", projectID, err)
	}

	return count, latest, nil
}

// --- Session methods ---

// WriteSession upserts the single session record.
func (s *SQLiteStore) WriteSession(ctx context.Context, sess *Session) error {
	s.logger.Debug("writing session record",
		"session_id", sess.SessionID, "exit_state", sess.ExitState)

	_, err := s.sessionStmts.write.ExecContext(ctx,
		sess.SessionID, sess.ProjectID, string(sess.ExitState),
		sess.StartedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write session %s: %w", sess.SessionID, err)
	}

	return nil
}

// ReadSession retrieves the session record.
// Returns (nil, nil) on a fresh cache with no prior session.
func (s *SQLiteStore) ReadSession(ctx context.Context) (*Session, error) {
	s.logger.Debug("reading session record")

	sess := &Session{}

	var exitState string

	err := s.sessionStmts.read.QueryRowContext(ctx).Scan(
		&sess.SessionID, &sess.ProjectID, &exitState,
		&sess.StartedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "no prior session"
	}

	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	sess.ExitState = ExitState(exitState)

	return sess, nil
}

// DetectCrashedSession checks whether the previous session ended without
// a clean shutdown. Returns a report when the stored record belongs to a
// different session AND its exit state is not clean; (nil, nil) otherwise.
func (s *SQLiteStore) DetectCrashedSession(ctx context.Context, currentSessionID string) (*CrashReport, error) {
	prev, err := s.ReadSession(ctx)
	if err != nil {
		return nil, err
	}

	if prev == nil || prev.SessionID == currentSessionID || prev.ExitState == ExitClean {
		return nil, nil //nolint:nilnil // sentinel for "no crash"
	}

	report := &CrashReport{
		SessionID: prev.SessionID,
		ProjectID: prev.ProjectID,
		ExitState: prev.ExitState,
		StartedAt: prev.StartedAt,
	}

	if prev.ProjectID != "" {
		if cp, loadErr := s.LoadProject(ctx, prev.ProjectID); loadErr == nil && cp != nil {
			report.ProjectName = cp.Name
		}

		count, latest, statsErr := s.snapshotStats(ctx, prev.ProjectID)
		if statsErr != nil {
			return nil, statsErr
		}

		report.SnapshotCount = count
		report.LatestCapture = latest
	}

	s.logger.Warn("crashed session detected",
		"session_id", prev.SessionID, "exit_state", prev.ExitState,
		"project_id", prev.ProjectID, "snapshots", report.SnapshotCount)

	return report, nil
}

// --- Push queue methods ---

// EnqueuePush appends a snapshot to the offline queue, replacing any
// entry already queued for the same project in place.
func (s *SQLiteStore) EnqueuePush(ctx context.Context, push *QueuedPush) error {
	s.logger.Debug("enqueuing push",
		"project_id", push.ProjectID, "base_version", push.BaseVersion)

	_, err := s.queueStmts.enqueue.ExecContext(ctx,
		push.ProjectID, push.Payload, push.BaseVersion, push.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue push for %s: %w", push.ProjectID, err)
	}

	return nil
}

// PeekPushes returns up to limit queued pushes in FIFO order without
// removing them.
func (s *SQLiteStore) PeekPushes(ctx context.Context, limit int) ([]*QueuedPush, error) {
	s.logger.Debug("peeking push queue", "limit", limit)

	rows, err := s.queueStmts.peek.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("peek pushes: %w", err)
	}
	defer rows.Close()

	var pushes []*QueuedPush

	for rows.Next() {
		push := &QueuedPush{}

		err := rows.Scan(
			&push.ID, &push.ProjectID, &push.Payload,
			&push.BaseVersion, &push.QueuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan push row: %w", err)
		}

		pushes = append(pushes, push)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push rows: %w", err)
	}

	return pushes, nil
}

// DeletePush removes a drained queue entry by id.
func (s *SQLiteStore) DeletePush(ctx context.Context, id int64) error {
	s.logger.Debug("deleting push", "push_id", id)

	_, err := s.queueStmts.del.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete push %d: %w", id, err)
	}

	return nil
}

// DeletePushesForProject discards queued pushes for a project. Used when
// a conflict resolution supersedes whatever was queued.
func (s *SQLiteStore) DeletePushesForProject(ctx context.Context, projectID string) error {
	s.logger.Debug("deleting queued pushes", "project_id", projectID)

	_, err := s.queueStmts.delForProject.ExecContext(ctx, projectID)
	if err != nil {
		return fmt.Errorf("delete pushes for %s: %w", projectID, err)
	}

	return nil
}

// QueueDepth returns the number of queued pushes.
func (s *SQLiteStore) QueueDepth(ctx context.Context) (int, error) {
	var depth int

	err := s.queueStmts.depth.QueryRowContext(ctx).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}

	return depth, nil
}

// --- Conflict ledger methods ---

// SaveConflict inserts or refreshes a conflict record. Re-saving an open
// record with a newer server version updates it in place, so a repeated
// conflict on the same project keeps one ledger entry.
func (s *SQLiteStore) SaveConflict(ctx context.Context, record *ConflictRecord) error {
	s.logger.Info("recording conflict",
		"conflict_id", record.ID, "project_id", record.ProjectID,
		"local_version", record.LocalVersion, "server_version", record.ServerVersion)

	_, err := s.conflictStmts.save.ExecContext(ctx,
		record.ID, record.ProjectID, record.LocalVersion, record.ServerVersion,
		record.LocalDigest, record.ServerDigest,
		record.Diff.Added, record.Diff.Removed, record.Diff.Modified,
		record.DetectedAt, record.ResolvedAt, string(record.Resolution),
	)
	if err != nil {
		return fmt.Errorf("save conflict %s: %w", record.ID, err)
	}

	return nil
}

// OpenConflict returns the project's unresolved conflict, or (nil, nil)
// when the project has none.
func (s *SQLiteStore) OpenConflict(ctx context.Context, projectID string) (*ConflictRecord, error) {
	s.logger.Debug("looking up open conflict", "project_id", projectID)

	rec, err := scanConflict(s.conflictStmts.open.QueryRowContext(ctx, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "no open conflict"
	}

	if err != nil {
		return nil, fmt.Errorf("open conflict for %s: %w", projectID, err)
	}

	return rec, nil
}

// ResolveConflict stamps a conflict with the user's decision.
func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, resolution ConflictResolution) error {
	s.logger.Info("resolving conflict", "conflict_id", id, "resolution", resolution)

	_, err := s.conflictStmts.resolve.ExecContext(ctx, string(resolution), plot.NowNano(), id)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	return nil
}

// ListConflicts returns all conflict records, open ones first, newest
// first within each group.
func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	s.logger.Debug("listing conflicts")

	rows, err := s.conflictStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord

	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflict rows: %w", err)
	}

	return records, nil
}

// --- Preference methods ---

// GetPref retrieves a preference value by key.
// Returns empty string if the key doesn't exist.
func (s *SQLiteStore) GetPref(ctx context.Context, key string) (string, error) {
	var value string

	err := s.prefStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("get pref %q: %w", key, err)
	}

	return value, nil
}

// SetPref persists a preference key-value pair.
func (s *SQLiteStore) SetPref(ctx context.Context, key, value string) error {
	s.logger.Debug("saving pref", "key", key)

	_, err := s.prefStmts.set.ExecContext(ctx, key, value)
	if err != nil {
		return fmt.Errorf("set pref %q: %w", key, err)
	}

	return nil
}

// --- Maintenance methods ---

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into
// the main database.
func (s *SQLiteStore) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing local cache database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.projectStmts.save, s.projectStmts.get, s.projectStmts.list,
		s.projectStmts.del, s.projectStmts.setDirty,
		s.snapshotStmts.insert, s.snapshotStmts.prune, s.snapshotStmts.list,
		s.snapshotStmts.get, s.snapshotStmts.delForProject, s.snapshotStmts.stats,
		s.sessionStmts.write, s.sessionStmts.read,
		s.queueStmts.enqueue, s.queueStmts.peek, s.queueStmts.del,
		s.queueStmts.delForProject, s.queueStmts.depth,
		s.conflictStmts.save, s.conflictStmts.open,
		s.conflictStmts.resolve, s.conflictStmts.list,
		s.prefStmts.get, s.prefStmts.set,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
