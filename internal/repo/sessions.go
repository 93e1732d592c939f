package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"actionline/internal/domain"
)

const sessionColumns = `id,alias,kind,user_id,workspace_id,title,transcript,source_meeting_id,chat_session_id,tasks_json,created_at,updated_at`

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	if s.ID == "" {
		return errors.New("session id required")
	}
	tasksJSON, err := marshalTasks(s.Tasks)
	if err != nil {
		return err
	}
	exec := r.execer(tx)
	_, err = exec(ctx, `INSERT INTO sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, nullable(s.Alias), s.Kind, s.UserID, nullable(s.WorkspaceID), nullable(s.Title), nullable(s.Transcript),
		nullable(s.SourceMeetingID), nullable(s.ChatSessionID), tasksJSON, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetSession resolves a session by its ID or its alias.
func (r Repo) GetSession(ctx context.Context, idOrAlias string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=? OR alias=? LIMIT 1`, idOrAlias, idOrAlias)
	return scanSession(row)
}

// GetSessionByKind resolves a session by ID or alias and verifies its kind.
func (r Repo) GetSessionByKind(ctx context.Context, idOrAlias, kind string) (domain.Session, error) {
	s, err := r.GetSession(ctx, idOrAlias)
	if err != nil {
		return s, err
	}
	if s.Kind != kind {
		return s, ErrNotFound
	}
	return s, nil
}

// UpdateSessionTasks replaces a session's task tree and bumps updated_at.
func (r Repo) UpdateSessionTasks(ctx context.Context, tx *sql.Tx, sessionID string, tasks []domain.Task, updatedAt string) error {
	tasksJSON, err := marshalTasks(tasks)
	if err != nil {
		return err
	}
	exec := r.execer(tx)
	res, err := exec(ctx, `UPDATE sessions SET tasks_json=?, updated_at=? WHERE id=?`, tasksJSON, updatedAt, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionTranscript stores a (re)captured transcript.
func (r Repo) UpdateSessionTranscript(ctx context.Context, sessionID, transcript, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET transcript=?, updated_at=? WHERE id=?`, nullable(transcript), updatedAt, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkChatSession records the meeting -> chat back-reference.
func (r Repo) LinkChatSession(ctx context.Context, tx *sql.Tx, meetingID, chatSessionID, updatedAt string) error {
	exec := r.execer(tx)
	_, err := exec(ctx, `UPDATE sessions SET chat_session_id=?, updated_at=? WHERE id=?`, nullable(chatSessionID), updatedAt, meetingID)
	return err
}

type SessionFilters struct {
	UserID      string
	WorkspaceID string
	Kind        string
	Limit       int
}

func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.WorkspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, f.WorkspaceID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func marshalTasks(tasks []domain.Task) (string, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	b, err := json.Marshal(tasks)
	if err != nil {
		return "", fmt.Errorf("marshal task tree: %w", err)
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (domain.Session, error) {
	s, err := scanSessionFrom(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func scanSessionRow(rows *sql.Rows) (domain.Session, error) {
	return scanSessionFrom(rows)
}

func scanSessionFrom(sc rowScanner) (domain.Session, error) {
	var s domain.Session
	var alias, workspaceID, title, transcript, sourceMeetingID, chatSessionID sql.NullString
	var tasksJSON string
	err := sc.Scan(&s.ID, &alias, &s.Kind, &s.UserID, &workspaceID, &title, &transcript,
		&sourceMeetingID, &chatSessionID, &tasksJSON, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Alias = alias.String
	s.WorkspaceID = workspaceID.String
	s.Title = title.String
	s.Transcript = transcript.String
	s.SourceMeetingID = sourceMeetingID.String
	s.ChatSessionID = chatSessionID.String
	if err := json.Unmarshal([]byte(tasksJSON), &s.Tasks); err != nil {
		return s, fmt.Errorf("session %s: decode task tree: %w", s.ID, err)
	}
	return s, nil
}
