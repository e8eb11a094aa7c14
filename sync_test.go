package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

func TestNewSyncCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newSyncCmd()
	assert.Equal(t, "sync [project-id]", cmd.Use)

	for _, name := range []string{"watch", "file", "keep-local", "use-server"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}

	assert.Error(t, cmd.Args(cmd, []string{"one", "two"}))
}

// --- concernsFile ---

func TestConcernsFile(t *testing.T) {
	t.Parallel()

	d := &watchDaemon{file: "/stage/plots/gala.plot.json"}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{
			name: "write to the file",
			ev:   fsnotify.Event{Name: "/stage/plots/gala.plot.json", Op: fsnotify.Write},
			want: true,
		},
		{
			name: "rename landing on the file",
			ev:   fsnotify.Event{Name: "/stage/plots/gala.plot.json", Op: fsnotify.Create},
			want: true,
		},
		{
			name: "chmod only is noise",
			ev:   fsnotify.Event{Name: "/stage/plots/gala.plot.json", Op: fsnotify.Chmod},
			want: false,
		},
		{
			name: "chmod alongside write counts",
			ev:   fsnotify.Event{Name: "/stage/plots/gala.plot.json", Op: fsnotify.Write | fsnotify.Chmod},
			want: true,
		},
		{
			name: "sibling file ignored",
			ev:   fsnotify.Event{Name: "/stage/plots/other.plot.json", Op: fsnotify.Write},
			want: false,
		},
		{
			name: "editor temp file ignored",
			ev:   fsnotify.Event{Name: "/stage/plots/gala.plot.json.swp", Op: fsnotify.Write},
			want: false,
		},
		{
			name: "unclean path still matches",
			ev:   fsnotify.Event{Name: "/stage/plots/../plots/gala.plot.json", Op: fsnotify.Write},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, d.concernsFile(tt.ev))
		})
	}
}

// --- reportSyncFailure ---

// stubRemote is an in-memory RemoteClient for driving the manager into
// a particular status from the CLI layer.
type stubRemote struct {
	project *plot.Project
	version int64
	getErr  error
}

func (s *stubRemote) GetProject(_ context.Context, _ string) (*plot.Project, int64, error) {
	if s.getErr != nil {
		return nil, 0, s.getErr
	}

	return s.project.Clone(), s.version, nil
}

func (s *stubRemote) PutProject(_ context.Context, _ *plot.Project, _ int64) (int64, error) {
	return s.version + 1, nil
}

func (s *stubRemote) Healthz(_ context.Context) error { return nil }

// failureRig loads winter-gala through a manager whose remote behaves
// per the stub, so reportSyncFailure sees a realistic manager state.
func failureRig(t *testing.T, remote sync.RemoteClient, seed func(ctx context.Context, store *sync.SQLiteStore)) *syncRig {
	t.Helper()

	ctx := context.Background()
	store := newTestStore(t)

	cp, err := sync.NewCachedProject(plot.NewProject("winter-gala", "Winter Gala"), false)
	require.NoError(t, err)
	require.NoError(t, store.SaveProject(ctx, cp))

	if seed != nil {
		seed(ctx, store)
	}

	mgr := sync.NewManager(sync.ManagerConfig{
		Store:  store,
		Client: remote,
		Logger: testLogger(),
	})

	_, err = mgr.Load(ctx, "winter-gala")
	require.NoError(t, err)

	return &syncRig{cc: newTestContext(t), store: store, mgr: mgr}
}

func TestReportSyncFailure_OfflineQueuesQuietly(t *testing.T) {
	t.Parallel()

	rig := failureRig(t, &stubRemote{getErr: errors.New("dial tcp: connection refused")}, nil)
	require.Equal(t, sync.StatusOffline, rig.mgr.Status())

	err := reportSyncFailure(context.Background(), rig.cc, rig, "winter-gala", errors.New("dial tcp: connection refused"))
	assert.NoError(t, err)
}

func TestReportSyncFailure_ConflictWithRecord(t *testing.T) {
	t.Parallel()

	rig := failureRig(t,
		&stubRemote{getErr: errors.New("connection refused")},
		func(ctx context.Context, store *sync.SQLiteStore) {
			require.NoError(t, store.SaveConflict(ctx, openConflictRecord("winter-gala")))
		})

	require.NotNil(t, rig.mgr.Conflict())

	err := reportSyncFailure(context.Background(), rig.cc, rig, "winter-gala",
		fmt.Errorf("push: %w", api.ErrConflict))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server at v5")
	assert.Contains(t, err.Error(), "based on v3")
	assert.Contains(t, err.Error(), "plotsync resolve")
}

func TestReportSyncFailure_ConflictWithoutRecord(t *testing.T) {
	t.Parallel()

	p := plot.NewProject("winter-gala", "Winter Gala")
	p.Version = 1
	rig := failureRig(t, &stubRemote{project: p, version: 1}, nil)

	err := reportSyncFailure(context.Background(), rig.cc, rig, "winter-gala",
		fmt.Errorf("push: %w", api.ErrConflict))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version conflict on winter-gala")
	assert.Contains(t, err.Error(), "plotsync resolve")
}

func TestReportSyncFailure_GenericErrorWrapped(t *testing.T) {
	t.Parallel()

	p := plot.NewProject("winter-gala", "Winter Gala")
	p.Version = 1
	rig := failureRig(t, &stubRemote{project: p, version: 1}, nil)
	require.NotEqual(t, sync.StatusOffline, rig.mgr.Status())

	boom := errors.New("disk full")

	err := reportSyncFailure(context.Background(), rig.cc, rig, "winter-gala", boom)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "syncing winter-gala")
}
