package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/sync"
	"github.com/stagelight/plotsync/internal/tokenfile"
)

// --- resolveProjectID tests ---

func TestResolveProjectID_ExplicitArgWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cc := newTestContext(t)
	cc.Cfg.Sync.DefaultProject = "configured"
	store := newTestStore(t)
	require.NoError(t, store.SetPref(ctx, sync.PrefActiveProject, "remembered"))

	id, err := resolveProjectID(ctx, cc, store, []string{"from-arg"})
	require.NoError(t, err)
	assert.Equal(t, "from-arg", id)
}

func TestResolveProjectID_ConfigBeatsPref(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cc := newTestContext(t)
	cc.Cfg.Sync.DefaultProject = "configured"
	store := newTestStore(t)
	require.NoError(t, store.SetPref(ctx, sync.PrefActiveProject, "remembered"))

	id, err := resolveProjectID(ctx, cc, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "configured", id)
}

func TestResolveProjectID_FallsBackToActivePref(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cc := newTestContext(t)
	store := newTestStore(t)
	require.NoError(t, store.SetPref(ctx, sync.PrefActiveProject, "remembered"))

	id, err := resolveProjectID(ctx, cc, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "remembered", id)
}

func TestResolveProjectID_EmptyArgSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cc := newTestContext(t)
	cc.Cfg.Sync.DefaultProject = "configured"
	store := newTestStore(t)

	id, err := resolveProjectID(ctx, cc, store, []string{""})
	require.NoError(t, err)
	assert.Equal(t, "configured", id)
}

func TestResolveProjectID_NothingConfigured(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cc := newTestContext(t)
	store := newTestStore(t)

	_, err := resolveProjectID(ctx, cc, store, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no project specified")
	assert.Contains(t, err.Error(), "--project")
}

// --- newAPIClient tests ---

func TestNewAPIClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	cc := newTestContext(t)

	_, err := newAPIClient(cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server configured")
}

func TestNewAPIClient_NoTokenFileIsUnauthenticated(t *testing.T) {
	t.Parallel()

	cc := newTestContext(t)
	cc.Cfg.API.BaseURL = "http://localhost:8080"

	client, err := newAPIClient(cc)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewAPIClient_TokenForOtherServerRefused(t *testing.T) {
	t.Parallel()

	cc := newTestContext(t)
	cc.Cfg.API.BaseURL = "http://localhost:8080"

	err := tokenfile.Save(cc.Cfg.TokenPath(), "secret", "http://other.example.com")
	require.NoError(t, err)

	_, err = newAPIClient(cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to http://other.example.com")
	assert.Contains(t, err.Error(), "plotsync login")
}

func TestNewAPIClient_MatchingTokenAccepted(t *testing.T) {
	t.Parallel()

	cc := newTestContext(t)
	cc.Cfg.API.BaseURL = "http://localhost:8080"

	err := tokenfile.Save(cc.Cfg.TokenPath(), "secret", "http://localhost:8080")
	require.NoError(t, err)

	client, err := newAPIClient(cc)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
