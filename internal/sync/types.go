// Package sync implements the local-first persistence and synchronization
// layer: a SQLite-backed cache of project snapshots and recovery data, a
// debounced auto-saver, crash-session detection, and a sync manager that
// pushes full snapshots to the server with optimistic concurrency and
// queues them while offline.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stagelight/plotsync/internal/plot"
)

// Status is the sync manager's connection state machine. Exactly one
// status is active at a time; transitions are driven by push outcomes.
type Status string

const (
	// StatusIdle: no push in flight, nothing failed. The dirty flag says
	// whether local edits are awaiting the next debounced push.
	StatusIdle Status = "idle"

	// StatusSyncing: a push or queue drain is in flight.
	StatusSyncing Status = "syncing"

	// StatusOffline: the last push failed at the network level; the
	// snapshot is queued and will be retried on reconnect.
	StatusOffline Status = "offline"

	// StatusConflict: the server rejected the last push with a version
	// conflict. Pushes stay blocked until the conflict is resolved.
	StatusConflict Status = "conflict"

	// StatusError: the server rejected the last push with a non-conflict
	// 4xx/5xx. Not retried automatically; cleared by the next successful
	// operation or an explicit sync.
	StatusError Status = "error"
)

// ExitState records how the previous session ended. Anything other than
// ExitClean on a different session's record means that session did not
// shut down properly.
type ExitState string

const (
	// ExitActive: the session is (or was, if we crashed) running.
	ExitActive ExitState = "active"

	// ExitUnload: shutdown began but may not have completed. Treated as
	// a crash for recovery purposes since unsaved work may exist.
	ExitUnload ExitState = "unload"

	// ExitClean: the session flushed everything and shut down properly.
	ExitClean ExitState = "clean"
)

// CachedProject is a project row in the local cache: the serialized
// snapshot plus the metadata the sync layer needs without decoding it.
// Dirty marks local edits the server has not acknowledged yet.
type CachedProject struct {
	ID        string
	Name      string
	Version   int64
	Payload   []byte // JSON-encoded plot.Project
	Dirty     bool
	CreatedAt int64 // Unix nanoseconds
	UpdatedAt int64
	CachedAt  int64 // last local cache write
}

// NewCachedProject serializes a project into its cache row form.
func NewCachedProject(p *plot.Project, dirty bool) (*CachedProject, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode project %s: %w", p.ID, err)
	}

	return &CachedProject{
		ID:        p.ID,
		Name:      p.Name,
		Version:   p.Version,
		Payload:   payload,
		Dirty:     dirty,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		CachedAt:  plot.NowNano(),
	}, nil
}

// Project decodes the cached payload back into a full snapshot.
func (cp *CachedProject) Project() (*plot.Project, error) {
	var p plot.Project
	if err := json.Unmarshal(cp.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode cached project %s: %w", cp.ID, err)
	}

	return &p, nil
}

// PossiblyNewerThan reports whether the cached copy may hold work the
// server copy lacks. Version is the sole ordering key: a higher version
// always wins; an equal version counts only when the row carries
// unpushed local edits. Timestamps are display-only and never consulted.
func (cp *CachedProject) PossiblyNewerThan(serverVersion int64) bool {
	if cp.Version > serverVersion {
		return true
	}

	return cp.Version == serverVersion && cp.Dirty
}

// RecoverySnapshot is one crash-recovery capture of a project. Snapshots
// are pruned per project to a bounded count, newest kept.
type RecoverySnapshot struct {
	ID         string
	ProjectID  string
	SessionID  string
	Payload    []byte // JSON-encoded plot.Project
	CapturedAt int64  // Unix nanoseconds
}

// Project decodes the snapshot payload back into a full snapshot.
func (rs *RecoverySnapshot) Project() (*plot.Project, error) {
	var p plot.Project
	if err := json.Unmarshal(rs.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", rs.ID, err)
	}

	return &p, nil
}

// Session is the single-row record describing the most recent process
// that held the cache open.
type Session struct {
	SessionID string
	ProjectID string
	ExitState ExitState
	StartedAt int64
	UpdatedAt int64
}

// CrashReport describes a prior session that did not shut down cleanly
// and the recovery material available for it.
type CrashReport struct {
	SessionID     string    // the crashed session's id
	ProjectID     string    // project it had open ("" if none)
	ProjectName   string    // display name ("" if the project row is gone)
	ExitState     ExitState // residue found: active or unload
	StartedAt     int64
	SnapshotCount int   // recovery snapshots available for the project
	LatestCapture int64 // newest snapshot time, 0 when none
}

// QueuedPush is one offline-queued snapshot awaiting drain. The queue
// holds at most one entry per project: a newer snapshot replaces the
// older one in place, keeping its queue position.
type QueuedPush struct {
	ID          int64
	ProjectID   string
	Payload     []byte // JSON-encoded plot.Project
	BaseVersion int64  // last server-acknowledged version
	QueuedAt    int64
}

// Project decodes the queued payload back into a full snapshot.
func (qp *QueuedPush) Project() (*plot.Project, error) {
	var p plot.Project
	if err := json.Unmarshal(qp.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode queued push %d: %w", qp.ID, err)
	}

	return &p, nil
}

// ConflictResolution is the user's decision on a version conflict.
type ConflictResolution string

const (
	ResolutionUnresolved   ConflictResolution = "unresolved"
	ResolutionAcceptServer ConflictResolution = "accept_server"
	ResolutionKeepLocal    ConflictResolution = "keep_local"
)

// ConflictRecord captures one version conflict for user mediation:
// both versions, content digests of both snapshots, and an object-level
// diff summary so the user can judge what diverged before choosing.
type ConflictRecord struct {
	ID            string
	ProjectID     string
	LocalVersion  int64
	ServerVersion int64
	LocalDigest   string // canonical-JSON SHA-256 of the local snapshot
	ServerDigest  string // same for the server snapshot ("" if unfetchable)
	Diff          plot.Summary
	DetectedAt    int64
	ResolvedAt    *int64 // nil while open
	Resolution    ConflictResolution
}

// Open reports whether the conflict still awaits a decision.
func (c *ConflictRecord) Open() bool {
	return c.Resolution == ResolutionUnresolved
}

// Pref keys persisted in the store's key-value table.
const (
	// PrefPaused holds "1" while sync is paused.
	PrefPaused = "sync_paused"

	// PrefPausedUntil holds the RFC 3339 time when a timed pause expires,
	// or "" for an open-ended pause. Enforced by the caller, not the
	// manager.
	PrefPausedUntil = "sync_paused_until"

	// PrefActiveProject holds the id of the last opened project.
	PrefActiveProject = "active_project"
)

// Store is the persistence boundary for all sync state. SQLiteStore is
// the production implementation; the interface exists so the manager,
// auto-saver, and session tests can run against it uniformly and so a
// store failure can be contained behind one seam.
type Store interface {
	// Projects
	SaveProject(ctx context.Context, cp *CachedProject) error
	LoadProject(ctx context.Context, id string) (*CachedProject, error)
	ListProjects(ctx context.Context) ([]*CachedProject, error)
	DeleteProject(ctx context.Context, id string) error
	SetDirty(ctx context.Context, id string, dirty bool) error

	// Recovery snapshots
	SaveRecoverySnapshot(ctx context.Context, snap *RecoverySnapshot, keep int) error
	ListRecoverySnapshots(ctx context.Context, projectID string) ([]*RecoverySnapshot, error)
	LoadRecoverySnapshot(ctx context.Context, id string) (*RecoverySnapshot, error)
	DeleteRecoverySnapshots(ctx context.Context, projectID string) error

	// Session record
	WriteSession(ctx context.Context, s *Session) error
	ReadSession(ctx context.Context) (*Session, error)
	DetectCrashedSession(ctx context.Context, currentSessionID string) (*CrashReport, error)

	// Push queue
	EnqueuePush(ctx context.Context, push *QueuedPush) error
	PeekPushes(ctx context.Context, limit int) ([]*QueuedPush, error)
	DeletePush(ctx context.Context, id int64) error
	DeletePushesForProject(ctx context.Context, projectID string) error
	QueueDepth(ctx context.Context) (int, error)

	// Conflict log
	SaveConflict(ctx context.Context, record *ConflictRecord) error
	OpenConflict(ctx context.Context, projectID string) (*ConflictRecord, error)
	ResolveConflict(ctx context.Context, id string, resolution ConflictResolution) error
	ListConflicts(ctx context.Context) ([]*ConflictRecord, error)

	// Preferences
	GetPref(ctx context.Context, key string) (string, error)
	SetPref(ctx context.Context, key, value string) error

	// Maintenance
	Checkpoint() error
	Close() error
}

// RemoteClient is the slice of the API client the sync layer calls.
// Declared on the consumer side so tests can substitute a fake
// (accept interfaces, return structs).
type RemoteClient interface {
	GetProject(ctx context.Context, id string) (*plot.Project, int64, error)
	PutProject(ctx context.Context, project *plot.Project, baseVersion int64) (int64, error)
	Healthz(ctx context.Context) error
}

// PresenceSource is the connectivity view the sync layer consumes,
// satisfied by api.Monitor.
type PresenceSource interface {
	Online() bool
	Subscribe(fn func(online bool))
	SetOnline(online bool)
}

// FromUnixNano converts Unix nanoseconds to a time.Time.
// Returns the zero time for 0.
func FromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}
