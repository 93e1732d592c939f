package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"actionline/internal/domain"
)

// rawTask mirrors the loosely shaped JSON the analysis model emits. Fields it
// sometimes omits or misnames are tolerated here and nowhere else.
type rawTask struct {
	ID                   string                    `json:"id"`
	Title                string                    `json:"title"`
	Description          string                    `json:"description"`
	Status               string                    `json:"status"`
	Priority             string                    `json:"priority"`
	Assignee             *domain.Assignee          `json:"assignee"`
	DueAt                *string                   `json:"due_at"`
	CompletionSuggested  bool                      `json:"completion_suggested"`
	CompletionConfidence *float64                  `json:"completion_confidence"`
	CompletionEvidence   string                    `json:"completion_evidence"`
	CompletionTargets    []domain.CompletionTarget `json:"completion_targets"`
	Subtasks             []rawTask                 `json:"subtasks"`
}

type rawAnalysis struct {
	AllTaskLevels struct {
		Light    []rawTask `json:"light"`
		Medium   []rawTask `json:"medium"`
		Detailed []rawTask `json:"detailed"`
	} `json:"all_task_levels"`
}

// DecodeAnalysis parses analyzer output and normalizes every level.
func DecodeAnalysis(data []byte) (Analysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal(data, &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	var a Analysis
	var err error
	if a.Light, err = normalizeTasks(raw.AllTaskLevels.Light, "light"); err != nil {
		return Analysis{}, err
	}
	if a.Medium, err = normalizeTasks(raw.AllTaskLevels.Medium, "medium"); err != nil {
		return Analysis{}, err
	}
	if a.Detailed, err = normalizeTasks(raw.AllTaskLevels.Detailed, "detailed"); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

// DecodeTasks parses a bare task list (completion-suggestion output).
func DecodeTasks(data []byte) ([]domain.Task, error) {
	var raw []rawTask
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return normalizeTasks(raw, "suggestions")
}

func normalizeTasks(raw []rawTask, where string) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(raw))
	for i, rt := range raw {
		t, err := normalizeTask(rt, fmt.Sprintf("%s[%d]", where, i))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func normalizeTask(rt rawTask, where string) (domain.Task, error) {
	title := strings.TrimSpace(rt.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("%s: task title is required", where)
	}
	t := domain.Task{
		ID:                  rt.ID,
		Title:               title,
		Description:         strings.TrimSpace(rt.Description),
		Status:              normalizeStatus(rt.Status),
		Priority:            strings.ToLower(strings.TrimSpace(rt.Priority)),
		Assignee:            rt.Assignee,
		DueAt:               rt.DueAt,
		CompletionSuggested: rt.CompletionSuggested,
		CompletionEvidence:  rt.CompletionEvidence,
	}
	if rt.CompletionConfidence != nil {
		c := clamp01(*rt.CompletionConfidence)
		t.CompletionConfidence = &c
	}
	for j, target := range rt.CompletionTargets {
		if target.TaskID == "" || target.SourceSessionID == "" {
			return domain.Task{}, fmt.Errorf("%s: completion target %d missing task or session id", where, j)
		}
		switch target.SourceType {
		case domain.SourceMeeting, domain.SourceChat:
		default:
			return domain.Task{}, fmt.Errorf("%s: completion target %d has unknown source type %q", where, j, target.SourceType)
		}
		t.CompletionTargets = append(t.CompletionTargets, target)
	}
	for j, sub := range rt.Subtasks {
		st, err := normalizeTask(sub, fmt.Sprintf("%s.subtasks[%d]", where, j))
		if err != nil {
			return domain.Task{}, err
		}
		t.Subtasks = append(t.Subtasks, st)
	}
	return t, nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "inprogress", "in progress", "doing":
		return domain.StatusInProgress
	case "done", "completed", "complete":
		return domain.StatusDone
	case "recurring":
		return domain.StatusRecurring
	default:
		return domain.StatusTodo
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
