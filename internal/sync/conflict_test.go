package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
)

// forceConflict loads proj-1 at version 1, moves the server to a
// diverged version 2 behind the manager's back, and commits a local
// edit so the next push collides. Returns the open record.
func forceConflict(t *testing.T, r *managerRig) *ConflictRecord {
	t.Helper()

	r.loadProject(t, "proj-1", "Twelfth Night", 1)

	diverged := makeTestProject("proj-1", "Twelfth Night")
	diverged.Put(&plot.SetPiece{ID: "platform", Name: "Upstage Platform"})
	r.remote.seed(diverged, 2)

	r.edit(t, &plot.Annotation{ID: "local-note", Text: "cut scene 4"})

	waitStatus(t, r.mgr, StatusConflict)

	rec := r.mgr.Conflict()
	require.NotNil(t, rec)

	return rec
}

func TestConflictOpensOnStalePush(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	rec := forceConflict(t, r)

	assert.Equal(t, "proj-1", rec.ProjectID)
	assert.Equal(t, int64(1), rec.LocalVersion)
	assert.Equal(t, int64(2), rec.ServerVersion, "server version comes from the 409")
	assert.True(t, rec.Open())
	assert.Nil(t, rec.ResolvedAt)

	assert.Len(t, rec.LocalDigest, 64)
	assert.Len(t, rec.ServerDigest, 64)
	assert.NotEqual(t, rec.LocalDigest, rec.ServerDigest)

	// Local added an annotation the server lacks; the server added a set
	// piece the local copy lacks.
	assert.Equal(t, plot.Summary{Added: 1, Removed: 1}, rec.Diff)

	// The record is in the ledger, not just in memory.
	stored, err := r.store.OpenConflict(ctx, "proj-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.ID, stored.ID)

	// Conflicts do not queue: the snapshot stays dirty in memory and in
	// the cache until the user decides.
	assert.True(t, r.mgr.Dirty())
	assert.Equal(t, 0, r.queueDepth(t))
	assert.Equal(t, 1, r.remote.putCount())

	// Further edits commit locally but never push while the conflict is
	// open.
	r.edit(t, &plot.Annotation{ID: "note-2", Text: "revisit cyc wash"})
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, 1, r.remote.putCount(), "pushes stay blocked")
	assert.Equal(t, StatusConflict, r.mgr.Status())
	assert.Equal(t, int64(2), r.remote.version("proj-1"))
}

func TestConflictAcceptServer(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	rec := forceConflict(t, r)

	require.NoError(t, r.mgr.AcceptServer(ctx))

	// Memory now holds the server copy; the local edit is gone.
	p := r.mgr.Project()
	assert.Equal(t, int64(2), p.Version)
	assert.NotNil(t, p.Get(plot.KindSetPiece, "platform"))
	assert.Nil(t, p.Get(plot.KindAnnotation, "local-note"))

	assert.False(t, r.mgr.Dirty())
	assert.Equal(t, StatusIdle, r.mgr.Status())
	assert.Nil(t, r.mgr.Conflict())

	// Cache row overwritten clean with the server copy.
	cached, err := r.store.LoadProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Version)
	assert.False(t, cached.Dirty)

	// Ledger shows the decision.
	records, err := r.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, ResolutionAcceptServer, records[0].Resolution)
	assert.NotNil(t, records[0].ResolvedAt)
	assert.False(t, records[0].Open())

	// The server was never touched by the resolution.
	assert.Equal(t, 1, r.remote.putCount())

	// Pushes flow again.
	r.edit(t, &plot.Annotation{ID: "after", Text: "fresh start"})

	require.Eventually(t, func() bool {
		return r.remote.version("proj-1") == 3
	}, 2*time.Second, 5*time.Millisecond)

	waitStatus(t, r.mgr, StatusIdle)
	assert.False(t, r.mgr.Dirty())
}

func TestConflictKeepLocal(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	rec := forceConflict(t, r)

	require.NoError(t, r.mgr.KeepLocal(ctx))

	// Last write wins: the server now holds the local snapshot at a
	// fresh version, and the diverged set piece is gone.
	assert.Equal(t, int64(3), r.remote.version("proj-1"))

	server := r.remote.serverCopy("proj-1")
	assert.NotNil(t, server.Get(plot.KindAnnotation, "local-note"))
	assert.Nil(t, server.Get(plot.KindSetPiece, "platform"))

	assert.Equal(t, int64(3), r.mgr.Project().Version)
	assert.False(t, r.mgr.Dirty())
	assert.Equal(t, StatusIdle, r.mgr.Status())
	assert.Nil(t, r.mgr.Conflict())
	assert.Equal(t, 0, r.queueDepth(t))

	cached, err := r.store.LoadProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cached.Version)
	assert.False(t, cached.Dirty)

	records, err := r.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, ResolutionKeepLocal, records[0].Resolution)
	assert.NotNil(t, records[0].ResolvedAt)
}

func TestConflictKeepLocalLosesRaceAgain(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	rec := forceConflict(t, r)

	// The server moves once more before the user decides.
	moved := makeTestProject("proj-1", "Twelfth Night")
	moved.Put(&plot.SetPiece{ID: "platform", Name: "Upstage Platform"})
	moved.Put(&plot.SetPiece{ID: "stairs", Name: "Escape Stairs"})
	r.remote.seed(moved, 3)

	err := r.mgr.KeepLocal(ctx)
	require.ErrorIs(t, err, api.ErrConflict)

	// The open record is refreshed in place, not duplicated.
	refreshed, storeErr := r.store.OpenConflict(ctx, "proj-1")
	require.NoError(t, storeErr)
	require.NotNil(t, refreshed)
	assert.Equal(t, rec.ID, refreshed.ID)
	assert.Equal(t, int64(3), refreshed.ServerVersion)
	assert.Equal(t, StatusConflict, r.mgr.Status())

	// With the record current, the retry lands.
	require.NoError(t, r.mgr.KeepLocal(ctx))
	assert.Equal(t, int64(4), r.remote.version("proj-1"))
	assert.Nil(t, r.mgr.Conflict())
	assert.Equal(t, StatusIdle, r.mgr.Status())
}

func TestConflictPinsLocalCopyAcrossLoads(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	forceConflict(t, r)

	// A later session over the same cache must not let the server copy
	// clobber the conflicted local work.
	m2 := NewManager(ManagerConfig{
		Store:        r.store,
		Client:       r.remote,
		Presence:     &fakePresence{online: true},
		PushDebounce: time.Hour,
		SaveDebounce: time.Hour,
		SnapshotKeep: 50,
		Logger:       testLogger(t),
	})

	res, err := m2.Load(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.NotNil(t, res.Project.Get(plot.KindAnnotation, "local-note"))
	assert.Nil(t, res.Project.Get(plot.KindSetPiece, "platform"))

	assert.Equal(t, StatusConflict, m2.Status())
	assert.True(t, m2.Dirty())
	require.NotNil(t, m2.Conflict(), "open record restored from the ledger")

	// The cache row still holds the dirty local copy.
	cached, loadErr := r.store.LoadProject(ctx, "proj-1")
	require.NoError(t, loadErr)
	assert.True(t, cached.Dirty)

	local, decodeErr := cached.Project()
	require.NoError(t, decodeErr)
	assert.NotNil(t, local.Get(plot.KindAnnotation, "local-note"))
}

func TestConflictDuringDrain(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	r.loadProject(t, "proj-1", "Twelfth Night", 1)

	// Go offline so the edit queues instead of pushing.
	r.remote.set(func(mr *mockRemote) { mr.putErr = errNetwork })
	r.edit(t, &plot.Annotation{ID: "local-note", Text: "cut scene 4"})
	waitStatus(t, r.mgr, StatusOffline)
	require.Equal(t, 1, r.queueDepth(t))

	// While offline, another client moves the server.
	diverged := makeTestProject("proj-1", "Twelfth Night")
	diverged.Put(&plot.SetPiece{ID: "platform", Name: "Upstage Platform"})
	r.remote.seed(diverged, 2)
	r.remote.set(func(mr *mockRemote) { mr.putErr = nil })

	// Reconnecting drains the queue head, which now collides.
	r.presence.SetOnline(true)
	waitStatus(t, r.mgr, StatusConflict)

	rec := r.mgr.Conflict()
	require.NotNil(t, rec)
	assert.Equal(t, int64(2), rec.ServerVersion)

	// The colliding entry stays queued until the user decides.
	assert.Equal(t, 1, r.queueDepth(t))

	// Accepting the server copy drops it along with the local edits.
	require.NoError(t, r.mgr.AcceptServer(ctx))
	assert.Equal(t, 0, r.queueDepth(t))
	assert.NotNil(t, r.mgr.Project().Get(plot.KindSetPiece, "platform"))
	assert.Nil(t, r.mgr.Project().Get(plot.KindAnnotation, "local-note"))
}

func TestConflictResolutionWithoutConflict(t *testing.T) {
	r := newManagerRig(t, 25*time.Millisecond)
	ctx := context.Background()

	r.loadProject(t, "proj-1", "Twelfth Night", 1)

	assert.ErrorIs(t, r.mgr.AcceptServer(ctx), ErrNoConflict)
	assert.ErrorIs(t, r.mgr.KeepLocal(ctx), ErrNoConflict)
}
