package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

func TestNewConflictsCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newConflictsCmd()
	assert.Equal(t, "conflicts", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("all"))
	assert.Error(t, cmd.Args(cmd, []string{"unexpected"}))
}

// seedConflicts writes project rows and conflict records into the store
// the command will open at cc.Cfg.StatePath().
func seedConflicts(t *testing.T, cc *CLIContext, records ...*sync.ConflictRecord) {
	t.Helper()

	ctx := context.Background()
	store, err := sync.NewStore(cc.Cfg.StatePath(), testLogger())
	require.NoError(t, err)

	seen := map[string]bool{}

	for _, rec := range records {
		if !seen[rec.ProjectID] {
			cp, err := sync.NewCachedProject(plot.NewProject(rec.ProjectID, "Plot "+rec.ProjectID), false)
			require.NoError(t, err)
			require.NoError(t, store.SaveProject(ctx, cp))
			seen[rec.ProjectID] = true
		}

		require.NoError(t, store.SaveConflict(ctx, rec))
	}

	require.NoError(t, store.Close())
}

func openConflictRecord(projectID string) *sync.ConflictRecord {
	return &sync.ConflictRecord{
		ID:            "open-" + projectID,
		ProjectID:     projectID,
		LocalVersion:  3,
		ServerVersion: 5,
		Diff:          plot.Summary{Added: 1, Modified: 2},
		DetectedAt:    plot.NowNano(),
		Resolution:    sync.ResolutionUnresolved,
	}
}

func resolvedConflictRecord(projectID string) *sync.ConflictRecord {
	now := plot.NowNano()

	return &sync.ConflictRecord{
		ID:            "done-" + projectID,
		ProjectID:     projectID,
		LocalVersion:  1,
		ServerVersion: 2,
		Diff:          plot.Summary{Removed: 1},
		DetectedAt:    now - 1,
		ResolvedAt:    &now,
		Resolution:    sync.ResolutionAcceptServer,
	}
}

func runConflictsCapture(t *testing.T, cc *CLIContext, all bool) (string, error) {
	t.Helper()

	cmd := newConflictsCmd()
	cmd.SetContext(withCLIContext(context.Background(), cc))

	return captureStdout(t, func() error {
		return runConflicts(cmd, all)
	})
}

func TestRunConflicts_OpenOnlyByDefault(t *testing.T) {
	cc := newTestContext(t)
	seedConflicts(t, cc, openConflictRecord("winter-gala"), resolvedConflictRecord("spring-revue"))

	out, err := runConflictsCapture(t, cc, false)
	require.NoError(t, err)

	assert.Contains(t, out, "winter-gala")
	assert.NotContains(t, out, "spring-revue")
	assert.Contains(t, out, "+1 ~2 -0")
}

func TestRunConflicts_AllIncludesResolved(t *testing.T) {
	cc := newTestContext(t)
	seedConflicts(t, cc, openConflictRecord("winter-gala"), resolvedConflictRecord("spring-revue"))

	out, err := runConflictsCapture(t, cc, true)
	require.NoError(t, err)

	assert.Contains(t, out, "winter-gala")
	assert.Contains(t, out, "spring-revue")
	assert.Contains(t, out, "accept_server")
}

func TestRunConflicts_JSON(t *testing.T) {
	cc := newTestContext(t)
	cc.Flags.JSON = true
	seedConflicts(t, cc, openConflictRecord("winter-gala"), resolvedConflictRecord("spring-revue"))

	out, err := runConflictsCapture(t, cc, true)
	require.NoError(t, err)

	var items []conflictJSON
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)

	// Open records sort first and carry no resolution field.
	assert.Equal(t, "winter-gala", items[0].ProjectID)
	assert.Equal(t, int64(3), items[0].LocalVersion)
	assert.Equal(t, int64(5), items[0].ServerVersion)
	assert.Empty(t, items[0].Resolution)

	assert.Equal(t, "spring-revue", items[1].ProjectID)
	assert.Equal(t, "accept_server", items[1].Resolution)
}

func TestRunConflicts_EmptyMessages(t *testing.T) {
	cc := newTestContext(t)

	out, err := runConflictsCapture(t, cc, false)
	require.NoError(t, err)
	assert.Contains(t, out, "No open conflicts.")

	out, err = runConflictsCapture(t, cc, true)
	require.NoError(t, err)
	assert.Contains(t, out, "No conflicts recorded.")
}

func TestRunConflicts_JSONEmptyIsArray(t *testing.T) {
	cc := newTestContext(t)
	cc.Flags.JSON = true

	out, err := runConflictsCapture(t, cc, false)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}
