package engine

import (
	"context"
	"time"

	"actionline/internal/domain"
	"actionline/internal/repo"
)

// SyncFlatTasks projects a session's task tree into the flat per-user task
// store. The write is strictly scoped to the session's own id so a fan-out
// for one session can never clobber rows that belong to another. Subtasks
// are flattened alongside their parents; the flat store has no nesting.
func (e Engine) SyncFlatTasks(ctx context.Context, session domain.Session) (repo.BulkUpsertResult, error) {
	now := e.now().UTC().Format(time.RFC3339)
	var rows []domain.FlatTask
	domain.WalkTasks(session.Tasks, func(t domain.Task) {
		rows = append(rows, flatten(t, session, now))
	})
	return e.Repo.BulkUpsertFlatTasks(ctx, session.UserID, session.ID, rows)
}

func flatten(t domain.Task, session domain.Session, now string) domain.FlatTask {
	row := domain.FlatTask{
		ID:                   t.ID,
		SourceTaskID:         t.ID,
		UserID:               session.UserID,
		SourceSessionID:      session.ID,
		SourceType:           session.Kind,
		Title:                t.Title,
		Description:          t.Description,
		Status:               t.Status,
		Priority:             t.Priority,
		DueAt:                t.DueAt,
		CompletionSuggested:  t.CompletionSuggested,
		CompletionConfidence: t.CompletionConfidence,
		UpdatedAt:            now,
	}
	if t.Assignee != nil {
		row.AssigneeEmail = t.Assignee.Email
		row.AssigneeName = t.Assignee.Name
	}
	return row
}
