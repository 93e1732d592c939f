package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"actionline/internal/analyzer"
	"actionline/internal/config"
	"actionline/internal/db"
	"actionline/internal/domain"
	"actionline/internal/engine"
	"actionline/internal/migrate"
	"actionline/internal/repo"
	"actionline/internal/worker"
)

type stubAnalyzer struct {
	tasks []domain.Task
}

func (a stubAnalyzer) Analyze(ctx context.Context, transcript, detailLevel string) (analyzer.Analysis, error) {
	return analyzer.Analysis{Light: a.tasks, Medium: a.tasks, Detailed: a.tasks}, nil
}

type stubSuggester struct {
	candidates []domain.Task
}

func (s stubSuggester) SuggestCompletions(ctx context.Context, userID, transcript string, matchThreshold float64) ([]domain.Task, error) {
	return s.candidates, nil
}

type testServer struct {
	URL    string
	engine engine.Engine
	worker *worker.Worker
	client *http.Client
	apiKey string
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, an analyzer.Analyzer, sg analyzer.Suggester) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Analyzer = an
	e.Suggester = sg

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := e.Repo.EnsureUser(ctx, tx, domain.User{ID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	rawKey := "test-key-" + uuid.New().String()
	if err := e.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
		ID:      uuid.New().String(),
		UserID:  "u1",
		Name:    "test",
		KeyHash: repo.HashAPIKey(rawKey),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w := worker.New(worker.Config{Engine: e})
	w.Start()

	handler, err := New(Config{Engine: e, Worker: w, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		worker: w,
		client: &http.Client{},
		apiKey: rawKey,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			w.Stop()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func authHeaders(srv *testServer) map[string]string {
	return map[string]string{"X-Api-Key": srv.apiKey}
}

func seedUser(t *testing.T, srv *testServer, userID string) map[string]string {
	t.Helper()
	ctx := context.Background()
	tx, err := srv.engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := srv.engine.Repo.EnsureUser(ctx, tx, domain.User{ID: userID}); err != nil {
		t.Fatalf("ensure user %s: %v", userID, err)
	}
	rawKey := userID + "-key-" + uuid.New().String()
	if err := srv.engine.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
		ID:      uuid.New().String(),
		UserID:  userID,
		Name:    userID,
		KeyHash: repo.HashAPIKey(rawKey),
	}); err != nil {
		t.Fatalf("insert api key for %s: %v", userID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return map[string]string{"X-Api-Key": rawKey}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, stubAnalyzer{}, stubSuggester{})

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions", nil, map[string]string{"X-Api-Key": "bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad api key, got %d", res.StatusCode)
	}
}

func TestCrossUserIsolation(t *testing.T) {
	srv := newTestServer(t, stubAnalyzer{}, stubSuggester{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"id":         "m1",
		"title":      "Private sync",
		"transcript": "Owner-only notes.",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import session: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/boards", nil, authHeaders(srv))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list own boards: %d %s", res.StatusCode, string(data))
	}
	var boards []domain.Board
	if err := json.Unmarshal(data, &boards); err != nil {
		t.Fatalf("unmarshal boards: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("expected the seeded default board, got %d", len(boards))
	}

	other := seedUser(t, srv, "u2")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/boards/"+boards[0].ID, nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign board should be 404, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/boards?workspace_id=ws-u1", nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign workspace should be 404, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?session_id=m1", nil, other)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d %s", res.StatusCode, string(data))
	}
	var foreign []EventResponse
	if err := json.Unmarshal(data, &foreign); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatalf("another user's events must not be visible, got %d", len(foreign))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?session_id=m1", nil, authHeaders(srv))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list own events: %d %s", res.StatusCode, string(data))
	}
	var own []EventResponse
	if err := json.Unmarshal(data, &own); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(own) == 0 {
		t.Fatal("owner should see the session's events")
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/m1", nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session should be 404, got %d", res.StatusCode)
	}
}

func TestImportAndRescanFlow(t *testing.T) {
	srv := newTestServer(t, stubAnalyzer{tasks: []domain.Task{
		{ID: "t1", Title: "Send contract to Acme", Status: domain.StatusTodo},
		{ID: "t2", Title: "Schedule follow-up call", Status: domain.StatusTodo},
	}}, stubSuggester{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"id":         "m1",
		"title":      "Weekly sync",
		"transcript": "We agreed to send the contract to Acme and schedule a follow-up call.",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import session: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rescans", map[string]any{
		"meeting_id": "m1",
		"mode":       "new",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("create rescan: %d %s", res.StatusCode, string(data))
	}
	var job RescanJobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rescans/"+job.ID, nil, authHeaders(srv))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("get rescan: %d %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &job); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if job.Status == worker.JobDone || job.Status == worker.JobFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rescan did not finish: %s", string(data))
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Status != worker.JobDone {
		t.Fatalf("rescan failed: %s", job.Error)
	}
	if job.Stats == nil || job.Stats.NewTasksAdded != 2 {
		t.Fatalf("expected 2 new tasks, got %+v", job.Stats)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/m1", nil, authHeaders(srv))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d %s", res.StatusCode, string(data))
	}
	var session SessionResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.TaskCount != 2 {
		t.Fatalf("expected 2 tasks in tree, got %d", session.TaskCount)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?session_id=m1", nil, authHeaders(srv))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", res.StatusCode, string(data))
	}
	var flat []domain.FlatTask
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(flat) != 2 {
		t.Fatalf("expected 2 flat tasks, got %d", len(flat))
	}
}

func TestRescanRejectsMissingTranscript(t *testing.T) {
	srv := newTestServer(t, stubAnalyzer{}, stubSuggester{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"id": "empty-meeting",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import session: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rescans", map[string]any{
		"meeting_id": "empty-meeting",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for transcript-less meeting, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rescans", map[string]any{
		"meeting_id": "no-such-meeting",
	}, authHeaders(srv))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown meeting, got %d %s", res.StatusCode, string(data))
	}
}
