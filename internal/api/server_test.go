package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/diagnostics"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/presence"
	"github.com/opencommander/commander/internal/queue"
	"github.com/opencommander/commander/internal/tasks"
	"github.com/opencommander/commander/internal/testutil"
)

type agentSet map[string]bool

func (a agentSet) Has(id string) bool { return a[id] }

type testServer struct {
	*testutil.Fixture
	server   *Server
	bus      *events.EventBus
	stranger *core.User
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	store := testutil.NewStore(t)
	fix := testutil.NewFixture(t, store)
	stranger, _ := testutil.SeedUser(t, store, "stranger")

	bus := events.New(64)
	t.Cleanup(bus.Close)
	q := queue.New(store)
	deps := Deps{
		Store:    store,
		Presence: presence.NewService(store, store, presence.WithPublisher(bus)),
		Tasks:    tasks.NewService(store, q, tasks.WithAgents(agentSet{"claude": true}), tasks.WithPublisher(bus)),
		Queue:    q,
		Bus:      bus,
	}
	return &testServer{
		Fixture:  fix,
		server:   NewServer(deps, opts...),
		bus:      bus,
		stranger: stranger,
	}
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, WithVersion("1.2.3"), WithCollector(diagnostics.NewCollector("")))

	rec := ts.do(t, "", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "ok", health.Database)
	require.NotNil(t, health.Host)
	assert.NotEmpty(t, health.Host.OS)
}

func TestHealth_DatabaseDown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.Store.Close())

	rec := ts.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Status)
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "cmdr_nobody"} {
		rec := ts.do(t, token, http.MethodGet, "/api/v1/projects", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := ts.do(t, ts.Token, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ts.Owner.ID, decode[core.User](t, rec).ID)
}

func TestPresenceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	sub := ts.bus.Subscribe(events.TypePresenceChanged)

	rec := ts.do(t, ts.Token, http.MethodPost, "/api/v1/presence/heartbeat",
		map[string]string{"sessionId": ts.Session.ID, "status": "active"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	e := <-sub
	assert.Equal(t, ts.Project.ID, e.ProjectID())

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/presence?projectId="+ts.Project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]core.PresenceEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, ts.Owner.ID, entries[0].UserID)
	assert.Equal(t, ts.Session.ID, entries[0].SessionID)
	assert.Equal(t, core.PresenceActive, entries[0].Status)
	assert.Equal(t, "owner", entries[0].User.Name)
	assert.Equal(t, ts.Owner.AvatarImageURL, entries[0].User.AvatarImageURL)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/sessions/"+ts.Session.ID+"/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.PresenceEntry](t, rec), 1)

	rec = ts.do(t, ts.Token, http.MethodPost, "/api/v1/presence/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/presence?projectId="+ts.Project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHeartbeat_Errors(t *testing.T) {
	ts := newTestServer(t)
	strangerToken := "cmdr_stranger"

	tests := []struct {
		name   string
		token  string
		body   any
		status int
	}{
		{"invalid status", ts.Token, map[string]string{"sessionId": ts.Session.ID, "status": "busy"}, http.StatusUnprocessableEntity},
		{"missing session", ts.Token, map[string]string{"status": "active"}, http.StatusUnprocessableEntity},
		{"unknown session", ts.Token, map[string]string{"sessionId": "nope", "status": "active"}, http.StatusNotFound},
		{"foreign session", strangerToken, map[string]string{"sessionId": ts.Session.ID, "status": "active"}, http.StatusNotFound},
		{"malformed body", ts.Token, "not an object", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.token, http.MethodPost, "/api/v1/presence/heartbeat", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorBody](t, rec).Error)
		})
	}

	// Unknown and foreign sessions are indistinguishable apart from the ID.
	unknown := ts.do(t, ts.Token, http.MethodGet, "/api/v1/sessions/nope/presence", nil)
	foreign := ts.do(t, strangerToken, http.MethodGet, "/api/v1/sessions/"+ts.Session.ID+"/presence", nil)
	assert.Equal(t, core.ErrNotFound("session", "nope").Message, decode[errorBody](t, unknown).Error)
	assert.Equal(t, core.ErrNotFound("session", ts.Session.ID).Message, decode[errorBody](t, foreign).Error)
}

func TestProjectsAndMembers(t *testing.T) {
	ts := newTestServer(t)
	strangerToken := "cmdr_stranger"

	rec := ts.do(t, ts.Token, http.MethodPost, "/api/v1/projects", map[string]string{"name": " infra "})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[core.Project](t, rec)
	assert.Equal(t, "infra", created.Name)
	assert.Equal(t, ts.Owner.ID, created.OwnerID)

	rec = ts.do(t, ts.Token, http.MethodPost, "/api/v1/projects", map[string]string{"name": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Project](t, rec), 2)

	rec = ts.do(t, strangerToken, http.MethodGet, "/api/v1/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, strangerToken, http.MethodPost, "/api/v1/projects/"+created.ID+"/members",
		map[string]string{"userId": ts.stranger.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-members cannot add themselves")

	rec = ts.do(t, ts.Token, http.MethodPost, "/api/v1/projects/"+created.ID+"/members",
		map[string]string{"userId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodPost, "/api/v1/projects/"+created.ID+"/members",
		map[string]string{"userId": ts.stranger.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, strangerToken, http.MethodGet, "/api/v1/projects/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "infra", decode[core.Project](t, rec).Name)
}

func TestSessions(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/projects/" + ts.Project.ID + "/sessions"

	rec := ts.do(t, ts.Token, http.MethodPost, base, map[string]string{"name": "debug"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[core.Session](t, rec)
	assert.Equal(t, ts.Project.ID, sess.ProjectID)

	rec = ts.do(t, ts.Token, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Session](t, rec), 2)

	rec = ts.do(t, "cmdr_stranger", http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasksAndExecutions(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/projects/" + ts.Project.ID + "/tasks"

	rec := ts.do(t, ts.Token, http.MethodPost, base, map[string]string{
		"body": "upgrade the linter", "agentId": "claude", "mountPoint": "/srv/app",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createTaskResponse](t, rec)
	assert.Equal(t, "upgrade the linter", created.Body)
	require.NotNil(t, created.Execution)
	assert.Equal(t, core.ExecutionPending, created.Execution.Status)

	rec = ts.do(t, ts.Token, http.MethodPost, base, map[string]string{"body": "x", "agentId": "unknown"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodPost, "/api/v1/tasks/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rerun := decode[core.TaskExecution](t, rec)
	assert.NotEqual(t, created.Execution.ID, rerun.ID)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[tasks.Detail](t, rec)
	assert.Len(t, detail.Executions, 2)

	rec = ts.do(t, ts.Token, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Task](t, rec), 1)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/executions/"+rerun.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[core.TaskExecution](t, rec).TaskID)

	rec = ts.do(t, "cmdr_stranger", http.MethodGet, "/api/v1/executions/"+rerun.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, ts.Token, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.JobCounts{Waiting: 2}, decode[core.JobCounts](t, rec))
}

func TestEvents_Authorization(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, ts.Token, http.MethodGet, "/api/v1/events", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, "cmdr_stranger", http.MethodGet, "/api/v1/events?project="+ts.Project.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, "", http.MethodGet, "/api/v1/events?project="+ts.Project.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_Streams(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?project="+ts.Project.ID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}
