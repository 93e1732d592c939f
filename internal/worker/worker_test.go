package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"actionline/internal/analyzer"
	"actionline/internal/config"
	"actionline/internal/db"
	"actionline/internal/domain"
	"actionline/internal/engine"
	"actionline/internal/migrate"
)

type listAnalyzer struct {
	tasks []domain.Task
}

func (a listAnalyzer) Analyze(ctx context.Context, transcript, detailLevel string) (analyzer.Analysis, error) {
	return analyzer.Analysis{Light: a.tasks, Medium: a.tasks, Detailed: a.tasks}, nil
}

type failingAnalyzer struct {
	err error
}

func (a failingAnalyzer) Analyze(ctx context.Context, transcript, detailLevel string) (analyzer.Analysis, error) {
	return analyzer.Analysis{}, a.err
}

type noSuggestions struct{}

func (noSuggestions) SuggestCompletions(ctx context.Context, userID, transcript string, matchThreshold float64) ([]domain.Task, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Analyzer = listAnalyzer{tasks: []domain.Task{
		{ID: "t1", Title: "File the report", Status: domain.StatusTodo},
	}}
	e.Suggester = noSuggestions{}
	return e
}

func waitForJob(t *testing.T, w *Worker, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, ok := w.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status == JobDone || job.Status == JobFailed {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not finish: %+v", id, job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerRunsJob(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.ImportSession(context.Background(), engine.ImportSessionOptions{
		ID: "m1", Kind: domain.SourceMeeting, UserID: "u1", Transcript: "notes",
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	w := New(Config{Engine: e})
	w.Start()
	t.Cleanup(w.Stop)

	job, err := w.Enqueue(engine.RescanOptions{UserID: "u1", MeetingID: "m1", Mode: engine.ModeNew})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, w, job.ID)
	if done.Status != JobDone {
		t.Fatalf("job failed: %s", done.Error)
	}
	if done.Result == nil || done.Result.Stats.NewTasksAdded != 1 {
		t.Fatalf("unexpected result: %+v", done.Result)
	}
	if done.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", done.Attempts)
	}
}

func TestWorkerDoesNotRetryDeterministicFailures(t *testing.T) {
	e := newTestEngine(t)
	w := New(Config{Engine: e, MaxRetries: 3})
	w.Start()
	t.Cleanup(w.Stop)

	// Unknown meeting: fails once, no retries.
	job, err := w.Enqueue(engine.RescanOptions{UserID: "u1", MeetingID: "missing", Mode: engine.ModeNew})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, w, job.ID)
	if done.Status != JobFailed {
		t.Fatalf("expected failure, got %s", done.Status)
	}
	if done.Error == "" {
		t.Fatal("failed job should carry the error")
	}
	if done.Attempts != 1 {
		t.Fatalf("deterministic failure should be attempted once, got %d", done.Attempts)
	}
}

func TestWorkerRecordsEveryRetryAttempt(t *testing.T) {
	e := newTestEngine(t)
	e.Analyzer = failingAnalyzer{err: errors.New("model endpoint unavailable")}
	if _, err := e.ImportSession(context.Background(), engine.ImportSessionOptions{
		ID: "m1", Kind: domain.SourceMeeting, UserID: "u1", Transcript: "notes",
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	w := New(Config{Engine: e, MaxRetries: 2})
	w.Start()
	t.Cleanup(w.Stop)

	job, err := w.Enqueue(engine.RescanOptions{UserID: "u1", MeetingID: "m1", Mode: engine.ModeNew})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, w, job.ID)
	if done.Status != JobFailed {
		t.Fatalf("expected failure, got %s", done.Status)
	}
	// Initial run plus two retries.
	if done.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", done.Attempts)
	}
}

func TestWorkerQueueFull(t *testing.T) {
	e := newTestEngine(t)
	w := New(Config{Engine: e, QueueSize: 1})
	// Not started: the queue fills up.
	if _, err := w.Enqueue(engine.RescanOptions{UserID: "u1", MeetingID: "m1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := w.Enqueue(engine.RescanOptions{UserID: "u1", MeetingID: "m2"}); err == nil {
		t.Fatal("expected queue full error")
	}
}

func TestWorkerGetUnknownJob(t *testing.T) {
	w := New(Config{})
	if _, ok := w.Get("nope"); ok {
		t.Fatal("unknown job id should not resolve")
	}
}
