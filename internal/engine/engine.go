package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"actionline/internal/analyzer"
	"actionline/internal/config"
	"actionline/internal/domain"
	"actionline/internal/events"
	"actionline/internal/repo"
)

// Engine is the task reconciliation core: it merges freshly extracted tasks
// into session trees, applies detected completions, fans them out to every
// session that references the same tasks and keeps the flat task store and
// kanban boards in step.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Analyzer  analyzer.Analyzer
	Suggester analyzer.Suggester
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InvalidStateError marks a job that cannot run against the current record,
// e.g. a meeting whose transcript was never captured. Raised before any store
// is touched.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string { return "invalid state: " + e.Reason }

// Rescan modes.
const (
	ModeNew       = "new"
	ModeCompleted = "completed"
	ModeBoth      = "both"
)

// RescanOptions identify one reconciliation job: one user, one meeting, and
// which halves of the pipeline to run.
type RescanOptions struct {
	UserID    string
	MeetingID string
	Mode      string
}

type RescanResult struct {
	Meeting domain.Session
	Stats   domain.RescanStats
}

// Rescan re-analyzes a meeting transcript and reconciles the outcome across
// every store that references its tasks. The local session is always settled
// before any fan-out so a crash mid-run leaves a consistent meeting with a
// pending propagation that the next rescan recomputes. Safe to re-run: both
// the merge and the completion application are idempotent.
func (e Engine) Rescan(ctx context.Context, opts RescanOptions) (RescanResult, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeBoth
	}
	if mode != ModeNew && mode != ModeCompleted && mode != ModeBoth {
		return RescanResult{}, fmt.Errorf("unknown rescan mode %q", mode)
	}
	if _, err := e.Repo.GetUser(ctx, opts.UserID); err != nil {
		return RescanResult{}, fmt.Errorf("user %s: %w", opts.UserID, err)
	}
	meeting, err := e.Repo.GetSessionByKind(ctx, opts.MeetingID, domain.SourceMeeting)
	if err != nil {
		return RescanResult{}, fmt.Errorf("meeting %s: %w", opts.MeetingID, err)
	}
	if meeting.UserID != opts.UserID {
		return RescanResult{}, fmt.Errorf("meeting %s: %w", opts.MeetingID, repo.ErrNotFound)
	}
	if meeting.Transcript == "" {
		return RescanResult{}, InvalidStateError{Reason: fmt.Sprintf("meeting %s has no transcript", meeting.ID)}
	}

	stats := domain.RescanStats{Mode: mode}

	if mode == ModeNew || mode == ModeBoth {
		meeting, stats.NewTasksAdded, err = e.ingestNewTasks(ctx, meeting)
		if err != nil {
			return RescanResult{}, err
		}
	}

	if mode == ModeCompleted || mode == ModeBoth {
		meeting, err = e.reconcileCompletions(ctx, meeting, &stats)
		if err != nil {
			return RescanResult{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RescanResult{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "rescan.completed", meeting.ID, "session", meeting.ID, opts.UserID, events.EventPayload{
		"mode":               stats.Mode,
		"new_tasks_added":    stats.NewTasksAdded,
		"completion_updates": stats.CompletionUpdates,
		"auto_approved":      stats.AutoApproved,
	}); err != nil {
		return RescanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RescanResult{}, err
	}
	return RescanResult{Meeting: meeting, Stats: stats}, nil
}

// ingestNewTasks runs the analyzer and merges its output into the meeting
// tree, persisting only when the merge actually added something.
func (e Engine) ingestNewTasks(ctx context.Context, meeting domain.Session) (domain.Session, int, error) {
	if e.Analyzer == nil {
		return meeting, 0, errors.New("analyzer not configured")
	}
	analysis, err := e.Analyzer.Analyze(ctx, meeting.Transcript, e.detailLevel())
	if err != nil {
		return meeting, 0, fmt.Errorf("analyze transcript: %w", err)
	}
	incoming := analysis.Level(e.detailLevel())
	merged, added := MergeTasks(meeting.Tasks, incoming, e.overlapThreshold())
	if added == 0 {
		return meeting, 0, nil
	}
	meeting.Tasks = merged
	if err := e.persistSessionTasks(ctx, &meeting, "tasks.merged", events.EventPayload{"added": added}); err != nil {
		return meeting, 0, err
	}
	if _, err := e.SyncFlatTasks(ctx, meeting); err != nil {
		return meeting, 0, fmt.Errorf("flat task sync for session %s: %w", meeting.ID, err)
	}
	return meeting, added, nil
}

// reconcileCompletions runs the suggestion generator, applies the resulting
// updates to the local meeting first, then fans out to every other session a
// completion target references. appliedIDs spans the whole run so a task id
// is only counted once no matter how many stores mention it.
func (e Engine) reconcileCompletions(ctx context.Context, meeting domain.Session, stats *domain.RescanStats) (domain.Session, error) {
	if e.Suggester == nil {
		return meeting, errors.New("completion suggester not configured")
	}
	candidates, err := e.Suggester.SuggestCompletions(ctx, meeting.UserID, meeting.Transcript, e.matchThreshold())
	if err != nil {
		return meeting, fmt.Errorf("suggest completions: %w", err)
	}
	if len(candidates) == 0 {
		return meeting, nil
	}
	updates := BuildCompletionUpdateMap(candidates, e.autoApprove(), e.matchThreshold())
	appliedIDs := map[string]bool{}

	local, changed := ApplyCompletionUpdates(meeting.Tasks, updates, appliedIDs)
	if changed {
		meeting.Tasks = local
		if err := e.persistSessionTasks(ctx, &meeting, "completion.applied", events.EventPayload{"updates": len(appliedIDs)}); err != nil {
			return meeting, err
		}
		if _, err := e.SyncFlatTasks(ctx, meeting); err != nil {
			return meeting, fmt.Errorf("flat task sync for session %s: %w", meeting.ID, err)
		}
		if err := e.mirrorToChatSession(ctx, meeting); err != nil {
			return meeting, err
		}
		if _, err := e.SyncBoardsForDoneTasks(ctx, meeting.WorkspaceID, doneIDs(updates, appliedIDs), meeting.UserID); err != nil {
			return meeting, fmt.Errorf("board sync for workspace %s: %w", meeting.WorkspaceID, err)
		}
	}

	if err := e.PropagateCompletions(ctx, meeting, updates, appliedIDs); err != nil {
		return meeting, err
	}

	stats.CompletionUpdates = len(appliedIDs)
	for id := range appliedIDs {
		if update, ok := updates[id]; ok && !update.Suggested {
			stats.AutoApproved++
		}
	}
	return meeting, nil
}

// persistSessionTasks writes a session's tree and the describing event in one
// transaction.
func (e Engine) persistSessionTasks(ctx context.Context, s *domain.Session, evtType string, payload events.EventPayload) error {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSessionTasks(ctx, tx, s.ID, s.Tasks, now); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	if err := e.Events.Append(ctx, tx, evtType, s.ID, "session", s.ID, s.UserID, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.UpdatedAt = now
	return nil
}

// mirrorToChatSession copies a meeting's tree onto its linked chat session.
// Chat sessions are read-through views of their source meeting, so the copy
// is wholesale. A dangling link is tolerated like any missing propagation
// target.
func (e Engine) mirrorToChatSession(ctx context.Context, meeting domain.Session) error {
	if meeting.ChatSessionID == "" {
		return nil
	}
	chat, err := e.Repo.GetSession(ctx, meeting.ChatSessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	chat.Tasks = meeting.Tasks
	return e.persistSessionTasks(ctx, &chat, "session.mirrored", events.EventPayload{"source_session_id": meeting.ID})
}

// doneIDs lists the applied task ids whose update auto-confirmed completion.
func doneIDs(updates map[string]CompletionUpdate, appliedIDs map[string]bool) []string {
	var ids []string
	for id := range appliedIDs {
		if update, ok := updates[id]; ok && !update.Suggested {
			ids = append(ids, id)
		}
	}
	return ids
}

// --- config accessors with safe defaults ---

func (e Engine) overlapThreshold() float64 {
	if e.Config != nil && e.Config.Reconcile.OverlapThreshold > 0 {
		return e.Config.Reconcile.OverlapThreshold
	}
	return 0.65
}

func (e Engine) matchThreshold() float64 {
	if e.Config != nil && e.Config.Reconcile.MatchThreshold > 0 {
		return e.Config.Reconcile.MatchThreshold
	}
	return 0.6
}

func (e Engine) autoApprove() bool {
	return e.Config != nil && e.Config.Reconcile.AutoApprove
}

func (e Engine) detailLevel() string {
	if e.Config != nil && e.Config.Reconcile.DetailLevel != "" {
		return e.Config.Reconcile.DetailLevel
	}
	return analyzer.DetailMedium
}

func (e Engine) rankStep() float64 {
	if e.Config != nil && e.Config.Board.RankStep > 0 {
		return e.Config.Board.RankStep
	}
	return 1000
}

func (e Engine) minRankGap() float64 {
	if e.Config != nil && e.Config.Board.MinRankGap > 0 {
		return e.Config.Board.MinRankGap
	}
	return 0.0001
}
