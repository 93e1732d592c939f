package engine

import (
	"testing"

	"actionline/internal/domain"
)

func TestMergeTasksAddsNewAndSkipsExactDuplicates(t *testing.T) {
	existing := []domain.Task{
		{ID: "t1", Title: "Send contract to Acme", Status: domain.StatusTodo},
	}
	incoming := []domain.Task{
		{ID: "x1", Title: "send contract to ACME", Status: domain.StatusTodo},
		{ID: "x2", Title: "Book venue for offsite", Status: domain.StatusTodo},
	}
	merged, added := MergeTasks(existing, incoming, 0.65)
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(merged))
	}
	if merged[1].ID != "x2" {
		t.Fatalf("expected the venue task appended, got %q", merged[1].ID)
	}
}

func TestMergeTasksIdempotent(t *testing.T) {
	incoming := []domain.Task{
		{ID: "a", Title: "Draft launch announcement", Status: domain.StatusTodo},
		{ID: "b", Title: "Update pricing page", Status: domain.StatusTodo},
	}
	merged, added := MergeTasks(nil, incoming, 0.65)
	if added != 2 {
		t.Fatalf("first merge should add 2, got %d", added)
	}
	again, added := MergeTasks(merged, incoming, 0.65)
	if added != 0 {
		t.Fatalf("re-merging same batch should add 0, got %d", added)
	}
	if len(again) != len(merged) {
		t.Fatalf("tree size changed on re-merge: %d -> %d", len(merged), len(again))
	}
}

func TestMergeTasksNoInBatchDuplicates(t *testing.T) {
	incoming := []domain.Task{
		{ID: "a", Title: "Prepare demo environment", Status: domain.StatusTodo},
		{ID: "b", Title: "Prepare the demo environment", Status: domain.StatusTodo},
	}
	merged, added := MergeTasks(nil, incoming, 0.65)
	if added != 1 {
		t.Fatalf("near-identical batch items should dedup, got %d added", added)
	}
	if merged[0].ID != "a" {
		t.Fatalf("first batch item should win, got %q", merged[0].ID)
	}
}

func TestMergeTasksSkipsDoneIncoming(t *testing.T) {
	incoming := []domain.Task{
		{ID: "a", Title: "Already finished thing", Status: domain.StatusDone},
	}
	_, added := MergeTasks(nil, incoming, 0.65)
	if added != 0 {
		t.Fatalf("done incoming tasks should be dropped, got %d added", added)
	}
}

func TestMergeTasksChecksSubtaskKeys(t *testing.T) {
	existing := []domain.Task{
		{ID: "parent", Title: "Q3 planning", Status: domain.StatusTodo, Subtasks: []domain.Task{
			{ID: "child", Title: "Collect headcount asks", Status: domain.StatusTodo},
		}},
	}
	incoming := []domain.Task{
		{ID: "dup", Title: "Collect headcount asks", Status: domain.StatusTodo},
	}
	_, added := MergeTasks(existing, incoming, 0.65)
	if added != 0 {
		t.Fatalf("subtask duplicate should be caught, got %d added", added)
	}
}

func TestMergeTasksFuzzyOverlap(t *testing.T) {
	existing := []domain.Task{
		{ID: "t1", Title: "Email Acme the signed contract", Status: domain.StatusTodo},
	}
	incoming := []domain.Task{
		{ID: "x1", Title: "Email signed contract", Status: domain.StatusTodo},
	}
	_, added := MergeTasks(existing, incoming, 0.65)
	if added != 0 {
		t.Fatalf("rephrased task above overlap threshold should dedup, got %d added", added)
	}

	// A stricter threshold lets the rephrasing through.
	_, added = MergeTasks(existing, incoming, 1.1)
	if added != 1 {
		t.Fatalf("threshold above 1 should admit everything, got %d added", added)
	}
}
