package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"actionline/internal/domain"
)

// BulkUpsertResult reports how an unordered bulk write fared. A failing row
// never blocks the rest of the batch.
type BulkUpsertResult struct {
	Matched  int
	Inserted int
	Failed   []string
}

// BulkUpsertFlatTasks writes flat task rows scoped to one user and one source
// session. Each row is matched on id, legacy_id or source_task_id; rows that
// match are updated in place, the rest are inserted. Writes are unordered:
// an error on one row is recorded in Failed and the loop continues.
func (r Repo) BulkUpsertFlatTasks(ctx context.Context, userID, sourceSessionID string, tasks []domain.FlatTask) (BulkUpsertResult, error) {
	var res BulkUpsertResult
	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range tasks {
		if t.UpdatedAt == "" {
			t.UpdatedAt = now
		}
		matched, err := r.upsertFlatTask(ctx, userID, sourceSessionID, t)
		if err != nil {
			res.Failed = append(res.Failed, t.ID)
			continue
		}
		if matched {
			res.Matched++
		} else {
			res.Inserted++
		}
	}
	return res, nil
}

func (r Repo) upsertFlatTask(ctx context.Context, userID, sourceSessionID string, t domain.FlatTask) (bool, error) {
	upd, err := r.DB.ExecContext(ctx, `UPDATE flat_tasks SET
		title=?, description=?, status=?, priority=?, assignee_email=?, assignee_name=?, due_at=?,
		completion_suggested=?, completion_confidence=?, updated_at=?
		WHERE user_id=? AND source_session_id=? AND (id=? OR legacy_id=? OR source_task_id=?)`,
		t.Title, nullable(t.Description), t.Status, nullable(t.Priority),
		nullable(t.AssigneeEmail), nullable(t.AssigneeName), nullableStringPtr(t.DueAt),
		boolInt(t.CompletionSuggested), nullableFloatPtr(t.CompletionConfidence), t.UpdatedAt,
		userID, sourceSessionID, t.ID, t.ID, t.SourceTaskID)
	if err != nil {
		return false, err
	}
	if n, _ := upd.RowsAffected(); n > 0 {
		return true, nil
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO flat_tasks(
		id, legacy_id, source_task_id, user_id, source_session_id, source_type,
		title, description, status, priority, assignee_email, assignee_name, due_at,
		completion_suggested, completion_confidence, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullable(t.LegacyID), nullable(t.SourceTaskID), userID, sourceSessionID, t.SourceType,
		t.Title, nullable(t.Description), t.Status, nullable(t.Priority),
		nullable(t.AssigneeEmail), nullable(t.AssigneeName), nullableStringPtr(t.DueAt),
		boolInt(t.CompletionSuggested), nullableFloatPtr(t.CompletionConfidence), t.UpdatedAt)
	return false, err
}

type FlatTaskFilters struct {
	UserID          string
	SourceSessionID string
	Status          string
	AssigneeEmail   string
	Limit           int
}

func (r Repo) ListFlatTasks(ctx context.Context, f FlatTaskFilters) ([]domain.FlatTask, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.SourceSessionID != "" {
		clauses = append(clauses, "source_session_id=?")
		args = append(args, f.SourceSessionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeEmail != "" {
		clauses = append(clauses, "assignee_email=?")
		args = append(args, f.AssigneeEmail)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id, legacy_id, source_task_id, user_id, source_session_id, source_type,
		title, description, status, priority, assignee_email, assignee_name, due_at,
		completion_suggested, completion_confidence, updated_at FROM flat_tasks ` + where + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FlatTask
	for rows.Next() {
		var t domain.FlatTask
		var legacyID, sourceTaskID, description, priority, assigneeEmail, assigneeName, dueAt sql.NullString
		var suggested int
		var confidence sql.NullFloat64
		if err := rows.Scan(&t.ID, &legacyID, &sourceTaskID, &t.UserID, &t.SourceSessionID, &t.SourceType,
			&t.Title, &description, &t.Status, &priority, &assigneeEmail, &assigneeName, &dueAt,
			&suggested, &confidence, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.LegacyID = legacyID.String
		t.SourceTaskID = sourceTaskID.String
		t.Description = description.String
		t.Priority = priority.String
		t.AssigneeEmail = assigneeEmail.String
		t.AssigneeName = assigneeName.String
		if dueAt.Valid {
			t.DueAt = &dueAt.String
		}
		t.CompletionSuggested = suggested != 0
		if confidence.Valid {
			t.CompletionConfidence = &confidence.Float64
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
