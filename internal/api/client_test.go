package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/plot"
)

// testWriter adapts testing.T to io.Writer for slog output.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestClient wires a client to the given handler with instant retries.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), nil, testLogger(t))
	c.sleepFunc = func(ctx context.Context, d time.Duration) error { return nil }

	return c, srv
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))

	resp, err := c.Do(context.Background(), http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryConflict(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"version_conflict","server_version":9}`))
	}))

	_, err := c.Do(context.Background(), http.MethodPut, "/projects/p1", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), calls.Load(), "409 must not be retried")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, int64(9), apiErr.ServerVersion)
}

func TestDoClassifiesNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := c.Do(context.Background(), http.MethodGet, "/projects/nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDoSendsBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), StaticTokens("sekrit"), testLogger(t))

	resp, err := c.Do(context.Background(), http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer sekrit", gotAuth)
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	bodies := make(chan string, 2)

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)

		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))

	resp, err := c.Do(context.Background(), http.MethodPut, "/projects/p1", []byte(`{"v":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, `{"v":1}`, <-bodies)
	assert.Equal(t, `{"v":1}`, <-bodies, "retried request must carry the full body again")
}

func TestGetProject(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1", r.URL.Path)
		w.Write([]byte(`{"project":{"id":"p1","name":"Gala","version":0},"version":4}`))
	}))

	proj, version, err := c.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	assert.Equal(t, "p1", proj.ID)
	assert.Equal(t, int64(4), proj.Version, "envelope version is authoritative")
}

func TestPutProject(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc ProjectDoc
		require.NoError(t, jsonDecode(r, &doc))
		assert.Equal(t, int64(3), doc.Version)
		assert.Equal(t, "p1", doc.Project.ID)

		w.Write([]byte(`{"version":4}`))
	}))

	newVersion, err := c.PutProject(context.Background(), plot.NewProject("p1", "Gala"), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), newVersion)
}

// jsonDecode is a test helper wrapping request body decoding.
func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(v)
}
