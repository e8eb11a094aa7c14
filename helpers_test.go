package main

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/config"
	"github.com/stagelight/plotsync/internal/devserver"
	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

// newTestStore opens an in-memory cache store torn down with the test.
func newTestStore(t *testing.T) *sync.SQLiteStore {
	t.Helper()

	store, err := sync.NewStore(":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// newTestContext returns a CLIContext over a throwaway data directory.
func newTestContext(t *testing.T) *CLIContext {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.DataDir = t.TempDir()

	return &CLIContext{
		Cfg:    cfg,
		Logger: testLogger(),
	}
}

// seedLocalProject writes a cached row into the store at cc's state
// path, as a pull would have.
func seedLocalProject(t *testing.T, cc *CLIContext, p *plot.Project, dirty bool) {
	t.Helper()

	store, err := sync.NewStore(cc.Cfg.StatePath(), testLogger())
	require.NoError(t, err)

	cp, err := sync.NewCachedProject(p, dirty)
	require.NoError(t, err)
	require.NoError(t, store.SaveProject(context.Background(), cp))
	require.NoError(t, store.Close())
}

// startTestServer runs an in-memory dev server and points cc at it.
// Token "" disables authentication.
func startTestServer(t *testing.T, cc *CLIContext, token string) *httptest.Server {
	t.Helper()

	store, err := devserver.NewStore("", testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(devserver.New(devserver.Config{
		Store:  store,
		Logger: testLogger(),
		Token:  token,
	}).Handler())

	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, store.Close())
	})

	cc.Cfg.API.BaseURL = srv.URL

	return srv
}

// captureStdout runs fn with os.Stdout and os.Stderr redirected to a
// pipe and returns what it printed plus fn's error. Callers must not
// run in parallel.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = w
	os.Stderr = w
	fnErr := fn()
	os.Stdout = origOut
	os.Stderr = origErr

	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	return string(out), fnErr
}
