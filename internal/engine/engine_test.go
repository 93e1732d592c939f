package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"actionline/internal/analyzer"
	"actionline/internal/config"
	"actionline/internal/db"
	"actionline/internal/domain"
	"actionline/internal/migrate"
	"actionline/internal/repo"
)

type fakeAnalyzer struct {
	tasks []domain.Task
	err   error
}

func (a fakeAnalyzer) Analyze(ctx context.Context, transcript, detailLevel string) (analyzer.Analysis, error) {
	if a.err != nil {
		return analyzer.Analysis{}, a.err
	}
	return analyzer.Analysis{Light: a.tasks, Medium: a.tasks, Detailed: a.tasks}, nil
}

type fakeSuggester struct {
	candidates []domain.Task
	err        error
}

func (s fakeSuggester) SuggestCompletions(ctx context.Context, userID, transcript string, matchThreshold float64) ([]domain.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func newTestEngine(t *testing.T, cfg *config.Config) Engine {
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
	if cfg == nil {
		cfg = config.Default()
	}
	e := New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return e
}

func importMeeting(t *testing.T, e Engine, id, userID, transcript string, tasks []domain.Task) domain.Session {
	t.Helper()
	s, err := e.ImportSession(context.Background(), ImportSessionOptions{
		ID:         id,
		Kind:       domain.SourceMeeting,
		UserID:     userID,
		Transcript: transcript,
		Tasks:      tasks,
	})
	if err != nil {
		t.Fatalf("import meeting %s: %v", id, err)
	}
	return s
}

func TestRescanModeNewMergesAndSyncsFlatStore(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Analyzer = fakeAnalyzer{tasks: []domain.Task{
		{ID: "t1", Title: "Send contract to Acme", Status: domain.StatusTodo},
		{ID: "t2", Title: "Book venue", Status: domain.StatusTodo},
	}}
	importMeeting(t, e, "m1", "u1", "transcript text", nil)

	res, err := e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeNew})
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.Stats.NewTasksAdded != 2 {
		t.Fatalf("expected 2 tasks added, got %d", res.Stats.NewTasksAdded)
	}
	if len(res.Meeting.Tasks) != 2 {
		t.Fatalf("expected 2 tasks in tree, got %d", len(res.Meeting.Tasks))
	}

	// Re-running the same rescan adds nothing.
	res, err = e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeNew})
	if err != nil {
		t.Fatalf("second rescan: %v", err)
	}
	if res.Stats.NewTasksAdded != 0 {
		t.Fatalf("rescan should be idempotent, got %d added", res.Stats.NewTasksAdded)
	}

	flat, err := e.Repo.ListFlatTasks(context.Background(), repo.FlatTaskFilters{UserID: "u1", SourceSessionID: "m1"})
	if err != nil {
		t.Fatalf("list flat tasks: %v", err)
	}
	if len(flat) != 2 {
		t.Fatalf("expected 2 flat rows, got %d", len(flat))
	}
}

func TestRescanValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Analyzer = fakeAnalyzer{}
	e.Suggester = fakeSuggester{}
	importMeeting(t, e, "m1", "u1", "", nil)

	_, err := e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: "sideways"})
	if err == nil {
		t.Fatal("unknown mode should fail")
	}

	_, err = e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "nope"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown meeting should be not found, got %v", err)
	}

	_, err = e.Rescan(context.Background(), RescanOptions{UserID: "ghost", MeetingID: "m1"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown user should be not found, got %v", err)
	}

	var invalid InvalidStateError
	_, err = e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1"})
	if !errors.As(err, &invalid) {
		t.Fatalf("transcript-less meeting should be invalid state, got %v", err)
	}

	// Another user's meeting must look like it does not exist.
	importMeeting(t, e, "m2", "u2", "some text", nil)
	_, err = e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m2"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign meeting should be not found, got %v", err)
	}
}

func TestRescanModeCompletedAppliesAndAutoApproves(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.AutoApprove = true
	e := newTestEngine(t, cfg)
	e.Analyzer = fakeAnalyzer{}
	e.Suggester = fakeSuggester{candidates: []domain.Task{
		{
			CompletionConfidence: floatPtr(0.95),
			CompletionEvidence:   "said it shipped",
			CompletionTargets: []domain.CompletionTarget{
				{SourceType: domain.SourceMeeting, SourceSessionID: "m1", TaskID: "t1"},
			},
		},
		{
			CompletionConfidence: floatPtr(0.3),
			CompletionTargets: []domain.CompletionTarget{
				{SourceType: domain.SourceMeeting, SourceSessionID: "m1", TaskID: "t2"},
			},
		},
	}}
	importMeeting(t, e, "m1", "u1", "follow-up transcript", []domain.Task{
		{ID: "t1", Title: "Ship the landing page", Status: domain.StatusTodo},
		{ID: "t2", Title: "Draft the blog post", Status: domain.StatusTodo},
	})

	res, err := e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeCompleted})
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.Stats.CompletionUpdates != 2 {
		t.Fatalf("expected 2 completion updates, got %d", res.Stats.CompletionUpdates)
	}
	if res.Stats.AutoApproved != 1 {
		t.Fatalf("expected 1 auto-approved, got %d", res.Stats.AutoApproved)
	}
	if res.Meeting.Tasks[0].Status != domain.StatusDone {
		t.Fatalf("high-confidence task should be done, got %q", res.Meeting.Tasks[0].Status)
	}
	if res.Meeting.Tasks[1].Status != domain.StatusTodo || !res.Meeting.Tasks[1].CompletionSuggested {
		t.Fatalf("low-confidence task should only be flagged: %+v", res.Meeting.Tasks[1])
	}
}

func TestRescanPropagatesAcrossSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.AutoApprove = true
	e := newTestEngine(t, cfg)
	e.Analyzer = fakeAnalyzer{}
	e.Suggester = fakeSuggester{candidates: []domain.Task{
		{
			CompletionConfidence: floatPtr(0.9),
			CompletionTargets: []domain.CompletionTarget{
				{SourceType: domain.SourceMeeting, SourceSessionID: "m1", TaskID: "shared"},
				{SourceType: domain.SourceMeeting, SourceSessionID: "m0", TaskID: "shared"},
				{SourceType: domain.SourceMeeting, SourceSessionID: "gone", TaskID: "shared"},
			},
		},
	}}
	importMeeting(t, e, "m0", "u1", "original planning", []domain.Task{
		{ID: "shared", Title: "Finalize vendor shortlist", Status: domain.StatusTodo},
	})
	importMeeting(t, e, "m1", "u1", "follow-up", []domain.Task{
		{ID: "shared", Title: "Finalize vendor shortlist", Status: domain.StatusTodo},
	})

	res, err := e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeCompleted})
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	// One logical task, mentioned by three targets, counts once.
	if res.Stats.CompletionUpdates != 1 {
		t.Fatalf("expected 1 completion update, got %d", res.Stats.CompletionUpdates)
	}

	other, err := e.Repo.GetSession(context.Background(), "m0")
	if err != nil {
		t.Fatalf("get propagated session: %v", err)
	}
	if other.Tasks[0].Status != domain.StatusDone {
		t.Fatalf("completion should propagate to the earlier meeting, got %q", other.Tasks[0].Status)
	}

	skips, err := e.Repo.LatestEvents(context.Background(), repo.EventFilters{
		Limit:     10,
		SessionID: "m1",
		Type:      "propagation.skipped",
	})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(skips) != 1 || skips[0].EntityID != "gone" {
		t.Fatalf("missing target should be recorded as a skip, got %+v", skips)
	}
}

func TestRescanPropagationRedirectsChatToSourceMeeting(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.AutoApprove = true
	e := newTestEngine(t, cfg)
	e.Analyzer = fakeAnalyzer{}
	e.Suggester = fakeSuggester{candidates: []domain.Task{
		{
			CompletionConfidence: floatPtr(0.9),
			CompletionTargets: []domain.CompletionTarget{
				{SourceType: domain.SourceChat, SourceSessionID: "c1", TaskID: "task-a"},
			},
		},
	}}
	importMeeting(t, e, "m0", "u1", "planning", []domain.Task{
		{ID: "task-a", Title: "Confirm launch date", Status: domain.StatusTodo},
	})
	if _, err := e.ImportSession(context.Background(), ImportSessionOptions{
		ID:              "c1",
		Kind:            domain.SourceChat,
		UserID:          "u1",
		SourceMeetingID: "m0",
	}); err != nil {
		t.Fatalf("import chat: %v", err)
	}
	importMeeting(t, e, "m1", "u1", "they confirmed the date", nil)

	if _, err := e.Rescan(context.Background(), RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeCompleted}); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	// The update lands on the canonical meeting, which then mirrors to the chat.
	meeting, err := e.Repo.GetSession(context.Background(), "m0")
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if meeting.Tasks[0].Status != domain.StatusDone {
		t.Fatalf("chat target should redirect to the source meeting, got %q", meeting.Tasks[0].Status)
	}
	chat, err := e.Repo.GetSession(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(chat.Tasks) != 1 || chat.Tasks[0].Status != domain.StatusDone {
		t.Fatalf("chat mirror not updated: %+v", chat.Tasks)
	}
}

func TestRescanMovesBoardItemToDoneColumn(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.AutoApprove = true
	e := newTestEngine(t, cfg)
	e.Analyzer = fakeAnalyzer{}
	e.Suggester = fakeSuggester{candidates: []domain.Task{
		{
			CompletionConfidence: floatPtr(0.9),
			CompletionTargets: []domain.CompletionTarget{
				{SourceType: domain.SourceMeeting, SourceSessionID: "m1", TaskID: "t1"},
			},
		},
	}}
	task := domain.Task{ID: "t1", Title: "Publish changelog", Status: domain.StatusTodo}
	meeting := importMeeting(t, e, "m1", "u1", "transcript", []domain.Task{task})

	ctx := context.Background()
	item, err := e.EnsureBoardPlacement(ctx, meeting.WorkspaceID, task, "u1")
	if err != nil {
		t.Fatalf("ensure board placement: %v", err)
	}

	if _, err := e.Rescan(ctx, RescanOptions{UserID: "u1", MeetingID: "m1", Mode: ModeCompleted}); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	board, err := e.Repo.DefaultBoard(ctx, meeting.WorkspaceID)
	if err != nil {
		t.Fatalf("default board: %v", err)
	}
	doneCol, err := e.Repo.StatusForCategory(ctx, board.ID, domain.StatusDone)
	if err != nil {
		t.Fatalf("done column: %v", err)
	}
	items, err := e.Repo.ListBoardItems(ctx, doneCol.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("expected the item in the done column, got %+v", items)
	}
}

func TestImportSessionSeedsDefaultBoard(t *testing.T) {
	e := newTestEngine(t, nil)
	s := importMeeting(t, e, "m1", "u1", "", nil)
	if s.WorkspaceID != "ws-u1" {
		t.Fatalf("expected personal workspace, got %q", s.WorkspaceID)
	}
	board, err := e.Repo.DefaultBoard(context.Background(), s.WorkspaceID)
	if err != nil {
		t.Fatalf("default board: %v", err)
	}
	cols, err := e.Repo.ListBoardStatuses(context.Background(), board.ID)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}
	if cols[0].Category != domain.StatusTodo || cols[2].Category != domain.StatusDone {
		t.Fatalf("unexpected column order: %+v", cols)
	}
}

func TestImportSessionRejectsDanglingChatLink(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.ImportSession(context.Background(), ImportSessionOptions{
		ID:              "c1",
		Kind:            domain.SourceChat,
		UserID:          "u1",
		SourceMeetingID: "missing",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("chat naming a missing meeting should fail, got %v", err)
	}
}
