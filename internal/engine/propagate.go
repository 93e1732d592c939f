package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"actionline/internal/domain"
	"actionline/internal/events"
	"actionline/internal/repo"
)

// sessionRef keys one propagation group.
type sessionRef struct {
	SourceType string
	SessionID  string
}

// PropagateCompletions re-applies the completion updates of one rescan to
// every other session its completion targets reference. Groups are processed
// sequentially so appliedIDs bookkeeping stays race-free; a group whose
// session no longer exists is skipped and the rest of the fan-out proceeds.
// Each step is an idempotent "ensure task X in session Y reflects state Z"
// message, safe to replay on a retried job.
func (e Engine) PropagateCompletions(ctx context.Context, trigger domain.Session, updates map[string]CompletionUpdate, appliedIDs map[string]bool) error {
	groups := groupTargets(updates, trigger.ID)
	refs := make([]sessionRef, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	// Deterministic fan-out order keeps retries and tests stable.
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].SourceType != refs[j].SourceType {
			return refs[i].SourceType < refs[j].SourceType
		}
		return refs[i].SessionID < refs[j].SessionID
	})

	for _, ref := range refs {
		if err := e.propagateToSession(ctx, trigger, ref, groups[ref], updates, appliedIDs); err != nil {
			return err
		}
	}
	return nil
}

// groupTargets collects target task ids per referenced session, excluding the
// session that triggered the rescan (already reconciled locally).
func groupTargets(updates map[string]CompletionUpdate, triggerID string) map[sessionRef]map[string]bool {
	groups := map[sessionRef]map[string]bool{}
	for _, update := range updates {
		for _, target := range update.Targets {
			if target.SourceSessionID == triggerID {
				continue
			}
			ref := sessionRef{SourceType: target.SourceType, SessionID: target.SourceSessionID}
			if groups[ref] == nil {
				groups[ref] = map[string]bool{}
			}
			groups[ref][target.TaskID] = true
		}
	}
	return groups
}

func (e Engine) propagateToSession(ctx context.Context, trigger domain.Session, ref sessionRef, taskIDs map[string]bool, updates map[string]CompletionUpdate, appliedIDs map[string]bool) error {
	session, err := e.Repo.GetSessionByKind(ctx, ref.SessionID, ref.SourceType)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.recordSkippedTarget(ctx, trigger, ref, "session not found")
		}
		return err
	}

	// Chat sessions spawned from a meeting are read-through views; the
	// meeting stays the canonical store, so the update is redirected there.
	if session.Kind == domain.SourceChat && session.SourceMeetingID != "" {
		if session.SourceMeetingID == trigger.ID {
			return nil // canonical copy already reconciled locally
		}
		source, err := e.Repo.GetSessionByKind(ctx, session.SourceMeetingID, domain.SourceMeeting)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return e.recordSkippedTarget(ctx, trigger, ref, "source meeting not found")
			}
			return err
		}
		session = source
	}

	scoped := make(map[string]CompletionUpdate, len(taskIDs))
	for id := range taskIDs {
		if update, ok := updates[id]; ok {
			scoped[id] = update
		}
	}

	tasks, changed := ApplyCompletionUpdates(session.Tasks, scoped, appliedIDs)
	if !changed {
		return nil
	}
	session.Tasks = tasks
	if err := e.persistSessionTasks(ctx, &session, "propagation.applied", events.EventPayload{
		"trigger_session_id": trigger.ID,
		"task_ids":           len(scoped),
	}); err != nil {
		return err
	}
	// Flat sync stays scoped to this session's id; other sessions' rows are
	// untouchable from here.
	if _, err := e.SyncFlatTasks(ctx, session); err != nil {
		return fmt.Errorf("flat task sync for session %s: %w", session.ID, err)
	}
	if err := e.mirrorToChatSession(ctx, session); err != nil {
		return err
	}
	if _, err := e.SyncBoardsForDoneTasks(ctx, session.WorkspaceID, doneIDs(scoped, appliedIDs), session.UserID); err != nil {
		return fmt.Errorf("board sync for workspace %s: %w", session.WorkspaceID, err)
	}
	return nil
}

// recordSkippedTarget logs a tolerated propagation miss. Partial propagation
// is acceptable; a deleted session must not abort the whole job.
func (e Engine) recordSkippedTarget(ctx context.Context, trigger domain.Session, ref sessionRef, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "propagation.skipped", trigger.ID, "session", ref.SessionID, trigger.UserID, events.EventPayload{
		"source_type": ref.SourceType,
		"reason":      reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
