package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"actionline/internal/domain"
	"actionline/internal/events"
	"actionline/internal/repo"
)

// ImportSessionOptions describe a meeting or chat record to register.
type ImportSessionOptions struct {
	ID              string
	Alias           string
	Kind            string
	UserID          string
	WorkspaceID     string
	Title           string
	Transcript      string
	SourceMeetingID string
	Tasks           []domain.Task
}

// ImportSession registers a session record, creating the owning user and
// workspace rows on first contact. A missing workspace id defaults to the
// user's personal workspace, which also gets a default board with the three
// standard columns. A chat session naming its source meeting is linked back
// from the meeting record so later rescans can mirror into it.
func (e Engine) ImportSession(ctx context.Context, opts ImportSessionOptions) (domain.Session, error) {
	if opts.UserID == "" {
		return domain.Session{}, errors.New("user id required")
	}
	kind := opts.Kind
	if kind == "" {
		kind = domain.SourceMeeting
	}
	if kind != domain.SourceMeeting && kind != domain.SourceChat {
		return domain.Session{}, fmt.Errorf("unknown session kind %q", kind)
	}
	if kind == domain.SourceChat && opts.SourceMeetingID != "" {
		if _, err := e.Repo.GetSessionByKind(ctx, opts.SourceMeetingID, domain.SourceMeeting); err != nil {
			return domain.Session{}, fmt.Errorf("source meeting %s: %w", opts.SourceMeetingID, err)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Session{
		ID:              opts.ID,
		Alias:           opts.Alias,
		Kind:            kind,
		UserID:          opts.UserID,
		WorkspaceID:     opts.WorkspaceID,
		Title:           opts.Title,
		Transcript:      opts.Transcript,
		SourceMeetingID: opts.SourceMeetingID,
		Tasks:           opts.Tasks,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.WorkspaceID == "" {
		s.WorkspaceID = "ws-" + opts.UserID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, domain.User{ID: s.UserID, CreatedAt: now}); err != nil {
		return domain.Session{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := e.Repo.EnsureWorkspace(ctx, tx, domain.Workspace{ID: s.WorkspaceID, CreatedAt: now}); err != nil {
		return domain.Session{}, fmt.Errorf("ensure workspace: %w", err)
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if s.Kind == domain.SourceChat && s.SourceMeetingID != "" {
		if err := e.Repo.LinkChatSession(ctx, tx, s.SourceMeetingID, s.ID, now); err != nil {
			return domain.Session{}, fmt.Errorf("link chat session: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "session.imported", s.ID, "session", s.ID, s.UserID, events.EventPayload{
		"kind":  s.Kind,
		"tasks": domain.CountTasks(s.Tasks),
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	if err := e.ensureDefaultBoard(ctx, s.WorkspaceID, s.UserID); err != nil {
		return domain.Session{}, err
	}
	if len(s.Tasks) > 0 {
		if _, err := e.SyncFlatTasks(ctx, s); err != nil {
			return domain.Session{}, fmt.Errorf("flat task sync for session %s: %w", s.ID, err)
		}
	}
	return s, nil
}

// ensureDefaultBoard creates the workspace's default board with the three
// standard columns if it does not exist yet.
func (e Engine) ensureDefaultBoard(ctx context.Context, workspaceID, actorID string) error {
	if _, err := e.Repo.DefaultBoard(ctx, workspaceID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	board := domain.Board{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        "Tasks",
		IsDefault:   true,
		CreatedAt:   now,
	}
	columns := []domain.BoardStatus{
		{ID: uuid.New().String(), BoardID: board.ID, Name: "To do", Category: domain.StatusTodo, Position: 0},
		{ID: uuid.New().String(), BoardID: board.ID, Name: "In progress", Category: domain.StatusInProgress, Position: 1},
		{ID: uuid.New().String(), BoardID: board.ID, Name: "Done", Category: domain.StatusDone, Position: 2},
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBoard(ctx, tx, board); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	for _, col := range columns {
		if err := e.Repo.InsertBoardStatus(ctx, tx, col); err != nil {
			return fmt.Errorf("insert board column %s: %w", col.Name, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "board.created", "", "board", board.ID, actorID, events.EventPayload{
		"workspace_id": workspaceID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
