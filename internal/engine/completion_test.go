package engine

import (
	"testing"

	"actionline/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func candidate(taskID string, confidence float64, evidence string) domain.Task {
	return domain.Task{
		Title:                "completion candidate",
		CompletionConfidence: floatPtr(confidence),
		CompletionEvidence:   evidence,
		CompletionTargets: []domain.CompletionTarget{
			{SourceType: domain.SourceMeeting, SourceSessionID: "m1", TaskID: taskID},
		},
	}
}

func TestBuildCompletionUpdateMapHighestConfidenceWins(t *testing.T) {
	updates := BuildCompletionUpdateMap([]domain.Task{
		candidate("t1", 0.4, "weak mention"),
		candidate("t1", 0.9, "explicit confirmation"),
	}, false, 0.6)
	u, ok := updates["t1"]
	if !ok {
		t.Fatal("expected an update for t1")
	}
	if u.Evidence != "explicit confirmation" {
		t.Fatalf("higher confidence candidate should win, got %q", u.Evidence)
	}

	// Reversed order must give the same result.
	updates = BuildCompletionUpdateMap([]domain.Task{
		candidate("t1", 0.9, "explicit confirmation"),
		candidate("t1", 0.4, "weak mention"),
	}, false, 0.6)
	if updates["t1"].Evidence != "explicit confirmation" {
		t.Fatalf("order should not matter, got %q", updates["t1"].Evidence)
	}
}

func TestBuildCompletionUpdateMapEqualConfidenceKeepsLatest(t *testing.T) {
	updates := BuildCompletionUpdateMap([]domain.Task{
		candidate("t1", 0.7, "first"),
		candidate("t1", 0.7, "second"),
	}, false, 0.6)
	if updates["t1"].Evidence != "second" {
		t.Fatalf("equal confidence keeps the latest, got %q", updates["t1"].Evidence)
	}
}

func TestBuildCompletionUpdateMapAutoApprove(t *testing.T) {
	updates := BuildCompletionUpdateMap([]domain.Task{
		candidate("hi", 0.9, ""),
		candidate("lo", 0.3, ""),
	}, true, 0.6)
	if updates["hi"].Suggested {
		t.Fatal("high-confidence hit with auto-approve on should confirm")
	}
	if !updates["lo"].Suggested {
		t.Fatal("low-confidence hit should still require review")
	}

	// With auto-approve off everything is a flag.
	updates = BuildCompletionUpdateMap([]domain.Task{candidate("hi", 0.9, "")}, false, 0.6)
	if !updates["hi"].Suggested {
		t.Fatal("auto-approve off should never confirm")
	}
}

func TestApplyCompletionUpdatesConfirmsAndFlags(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Title: "one", Status: domain.StatusTodo},
		{ID: "t2", Title: "two", Status: domain.StatusInProgress},
	}
	updates := map[string]CompletionUpdate{
		"t1": {Suggested: false, Confidence: floatPtr(0.9)},
		"t2": {Suggested: true, Confidence: floatPtr(0.5)},
	}
	applied := map[string]bool{}
	result, changed := ApplyCompletionUpdates(tasks, updates, applied)
	if !changed {
		t.Fatal("expected changes")
	}
	if result[0].Status != domain.StatusDone || result[0].CompletionSuggested {
		t.Fatalf("confirmed update should flip to done, got %+v", result[0])
	}
	if result[1].Status != domain.StatusInProgress || !result[1].CompletionSuggested {
		t.Fatalf("suggested update should flag without touching status, got %+v", result[1])
	}
	if !applied["t1"] || !applied["t2"] {
		t.Fatalf("applied ids not recorded: %v", applied)
	}
}

func TestApplyCompletionUpdatesConfirmedDoneIsTerminal(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Title: "done already", Status: domain.StatusDone, CompletionSuggested: false},
	}
	updates := map[string]CompletionUpdate{
		"t1": {Suggested: true, Confidence: floatPtr(0.2), Evidence: "stale signal"},
	}
	applied := map[string]bool{}
	result, changed := ApplyCompletionUpdates(tasks, updates, applied)
	if changed {
		t.Fatal("confirmed completion must never be overwritten")
	}
	if result[0].CompletionSuggested || result[0].CompletionEvidence != "" {
		t.Fatalf("terminal task mutated: %+v", result[0])
	}
	if applied["t1"] {
		t.Fatal("terminal task should not count as applied")
	}
}

func TestApplyCompletionUpdatesReachesSubtasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "parent", Title: "parent", Status: domain.StatusTodo, Subtasks: []domain.Task{
			{ID: "child", Title: "child", Status: domain.StatusTodo},
		}},
	}
	updates := map[string]CompletionUpdate{
		"child": {Suggested: false, Confidence: floatPtr(0.95)},
	}
	result, changed := ApplyCompletionUpdates(tasks, updates, map[string]bool{})
	if !changed {
		t.Fatal("expected subtask change")
	}
	if result[0].Subtasks[0].Status != domain.StatusDone {
		t.Fatalf("subtask not completed: %+v", result[0].Subtasks[0])
	}
	if result[0].Status != domain.StatusTodo {
		t.Fatal("parent status should be untouched")
	}
}

func TestApplyCompletionUpdatesIdempotent(t *testing.T) {
	tasks := []domain.Task{{ID: "t1", Title: "one", Status: domain.StatusTodo}}
	updates := map[string]CompletionUpdate{
		"t1": {Suggested: false, Confidence: floatPtr(0.9)},
	}
	first, changed := ApplyCompletionUpdates(tasks, updates, map[string]bool{})
	if !changed {
		t.Fatal("first apply should change")
	}
	_, changed = ApplyCompletionUpdates(first, updates, map[string]bool{})
	if changed {
		t.Fatal("re-applying the same confirmed update should be a no-op")
	}
}
