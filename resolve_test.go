package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

func TestNewResolveCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newResolveCmd()
	assert.Equal(t, "resolve [conflict-id]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("accept-server"))
	assert.NotNil(t, cmd.Flags().Lookup("keep-local"))
	assert.Error(t, cmd.Args(cmd, []string{"one", "two"}))
}

func TestFindConflict(t *testing.T) {
	t.Parallel()

	open := []*sync.ConflictRecord{
		{ID: "aabb1122-dead-beef-cafe-000000000001", ProjectID: "winter-gala"},
		{ID: "aabb1122-dead-beef-cafe-000000000002", ProjectID: "spring-revue"},
		{ID: "ccdd3344-dead-beef-cafe-000000000003", ProjectID: "summer-opera"},
	}

	tests := []struct {
		name    string
		key     string
		wantID  string
		wantErr bool
	}{
		{name: "exact ID match", key: "aabb1122-dead-beef-cafe-000000000001", wantID: "aabb1122-dead-beef-cafe-000000000001"},
		{name: "exact project match", key: "spring-revue", wantID: "aabb1122-dead-beef-cafe-000000000002"},
		{name: "unique prefix", key: "ccdd", wantID: "ccdd3344-dead-beef-cafe-000000000003"},
		{name: "ambiguous prefix", key: "aabb", wantErr: true},
		{name: "no match", key: "zzzz", wantErr: true},
		{name: "full ID beats prefix", key: "aabb1122-dead-beef-cafe-000000000002", wantID: "aabb1122-dead-beef-cafe-000000000002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := findConflict(open, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

// conflictRig backs pickOpenConflict with a store seeded in-memory.
func conflictRig(t *testing.T, records ...*sync.ConflictRecord) *syncRig {
	t.Helper()

	ctx := context.Background()
	store := newTestStore(t)
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

	return &syncRig{cc: newTestContext(t), store: store}
}

func TestPickOpenConflict_NoneOpen(t *testing.T) {
	t.Parallel()

	r := conflictRig(t, resolvedConflictRecord("winter-gala"))

	_, err := pickOpenConflict(context.Background(), r, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open conflicts")
}

func TestPickOpenConflict_SingleOpenNeedsNoKey(t *testing.T) {
	t.Parallel()

	r := conflictRig(t, openConflictRecord("winter-gala"), resolvedConflictRecord("spring-revue"))

	rec, err := pickOpenConflict(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, "winter-gala", rec.ProjectID)
}

func TestPickOpenConflict_MultipleOpenNeedKey(t *testing.T) {
	t.Parallel()

	r := conflictRig(t, openConflictRecord("winter-gala"), openConflictRecord("spring-revue"))

	_, err := pickOpenConflict(context.Background(), r, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 conflicts are open")

	rec, err := pickOpenConflict(context.Background(), r, "spring-revue")
	require.NoError(t, err)
	assert.Equal(t, "spring-revue", rec.ProjectID)
}
