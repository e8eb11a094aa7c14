package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
)

// serverRig is an in-process dev server with its hub running.
type serverRig struct {
	srv *Server
	ts  *httptest.Server
}

func newServerRig(t *testing.T, token string) *serverRig {
	t.Helper()

	store := newTestStore(t)
	srv := New(Config{Store: store, Logger: testLogger(t), Token: token})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Hub().Run(ctx)
	}()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return &serverRig{srv: srv, ts: ts}
}

// client builds a real API client against the rig. An empty token
// leaves the client unauthenticated.
func (r *serverRig) client(t *testing.T, token string) *api.Client {
	t.Helper()

	var tokens = api.StaticTokens(token)
	if token == "" {
		tokens = nil
	}

	return api.NewClient(r.ts.URL, r.ts.Client(), tokens, testLogger(t))
}

// wsURL rewrites the test server URL for a websocket dial.
func (r *serverRig) wsURL() string {
	return "ws" + strings.TrimPrefix(r.ts.URL, "http") + "/ws"
}

func makeServerProject(id, name string) *plot.Project {
	p := plot.NewProject(id, name)
	p.Put(&plot.Position{
		ID:     "pos-1",
		Name:   "First Electric",
		Type:   "batten",
		Origin: plot.Point{X: 0, Y: 2.5},
		Length: 14,
	})
	p.Put(&plot.Instrument{
		ID:         "inst-1",
		PositionID: "pos-1",
		Unit:       3,
		Type:       "S4 PAR",
		Channel:    42,
		Color:      "L201",
		Purpose:    "top wash",
	})

	return p
}

func TestServerHealthz(t *testing.T) {
	r := newServerRig(t, "")

	assert.NoError(t, r.client(t, "").Healthz(context.Background()))
}

func TestServerGetMissingProject(t *testing.T) {
	r := newServerRig(t, "")

	_, _, err := r.client(t, "").GetProject(context.Background(), "nope")
	require.ErrorIs(t, err, api.ErrNotFound)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "not found")

	// The request id middleware must reach the client for log
	// correlation.
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestServerPutRoundTrip(t *testing.T) {
	r := newServerRig(t, "")
	client := r.client(t, "")
	ctx := context.Background()

	p := makeServerProject("proj-1", "Twelfth Night")

	v1, err := client.PutProject(ctx, p, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	fetched, version, err := client.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, int64(1), fetched.Version)
	assert.Equal(t, "Twelfth Night", fetched.Name)
	require.NotNil(t, fetched.Get(plot.KindInstrument, "inst-1"))

	p.Put(&plot.Annotation{ID: "note-1", Text: "re-gel after tech"})
	v2, err := client.PutProject(ctx, p, v1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	fetched, _, err = client.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	require.NotNil(t, fetched.Get(plot.KindAnnotation, "note-1"))
}

func TestServerPutStaleBase(t *testing.T) {
	r := newServerRig(t, "")
	client := r.client(t, "")
	ctx := context.Background()

	p := makeServerProject("proj-1", "Twelfth Night")

	_, err := client.PutProject(ctx, p, 0)
	require.NoError(t, err)
	_, err = client.PutProject(ctx, p, 1)
	require.NoError(t, err)

	// A second editor pushing against base 1 loses the race.
	_, err = client.PutProject(ctx, p, 1)
	require.ErrorIs(t, err, api.ErrConflict)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, int64(2), apiErr.ServerVersion)
}

func TestServerPutRejectsMismatchedID(t *testing.T) {
	r := newServerRig(t, "")

	body := `{"project":{"id":"proj-2","name":"Wrong"},"version":0}`
	req, err := http.NewRequest(http.MethodPut, r.ts.URL+"/projects/proj-1", strings.NewReader(body))
	require.NoError(t, err)

	resp, err := r.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["error"], "does not match path")
}

func TestServerListAndRevisions(t *testing.T) {
	r := newServerRig(t, "")
	client := r.client(t, "")
	ctx := context.Background()

	p := makeServerProject("proj-1", "Twelfth Night")
	_, err := client.PutProject(ctx, p, 0)
	require.NoError(t, err)
	_, err = client.PutProject(ctx, p, 1)
	require.NoError(t, err)

	resp, err := r.ts.Client().Get(r.ts.URL + "/projects")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var projects []projectInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "proj-1", projects[0].ID)
	assert.Equal(t, int64(2), projects[0].Version)

	resp, err = r.ts.Client().Get(r.ts.URL + "/projects/proj-1/revisions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var revs []revisionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&revs))
	require.Len(t, revs, 2)
	assert.Equal(t, int64(2), revs[0].Version)
	assert.Equal(t, int64(1), revs[1].Version)
	assert.Positive(t, revs[0].Size)
}

func TestServerDelete(t *testing.T) {
	r := newServerRig(t, "")
	client := r.client(t, "")
	ctx := context.Background()

	_, err := client.PutProject(ctx, makeServerProject("proj-1", "Twelfth Night"), 0)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, r.ts.URL+"/projects/proj-1", nil)
	require.NoError(t, err)

	resp, err := r.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, _, err = client.GetProject(ctx, "proj-1")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestServerRequiresToken(t *testing.T) {
	r := newServerRig(t, "tech-table-secret")
	ctx := context.Background()

	// Liveness stays open so probes work without credentials.
	require.NoError(t, r.client(t, "").Healthz(ctx))

	_, _, err := r.client(t, "").GetProject(ctx, "proj-1")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	_, _, err = r.client(t, "wrong").GetProject(ctx, "proj-1")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	// The right token reaches the handler and reports the project as
	// missing rather than forbidden.
	_, _, err = r.client(t, "tech-table-secret").GetProject(ctx, "proj-1")
	assert.ErrorIs(t, err, api.ErrNotFound)

	// The websocket endpoint enforces the same token.
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, r.wsURL(), nil)
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	assert.Error(t, err)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer tech-table-secret")
	conn, _, err = websocket.Dial(dialCtx, r.wsURL(), &websocket.DialOptions{HTTPHeader: hdr})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestServerBroadcastsUpdates(t *testing.T) {
	r := newServerRig(t, "")
	client := r.client(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, r.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return r.srv.Hub().ClientCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = client.PutProject(ctx, makeServerProject("proj-1", "Twelfth Night"), 0)
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventProjectUpdated, ev.Type)
	assert.Equal(t, "proj-1", ev.ProjectID)
	assert.Equal(t, int64(1), ev.Version)
	assert.False(t, ev.At.IsZero())

	req, err := http.NewRequest(http.MethodDelete, r.ts.URL+"/projects/proj-1", nil)
	require.NoError(t, err)
	resp, err := r.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventProjectDeleted, ev.Type)
	assert.Equal(t, "proj-1", ev.ProjectID)
}
