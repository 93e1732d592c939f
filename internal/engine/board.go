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

// RankBetween computes the rank for inserting an item between two neighbors.
// Appending and prepending step by rankStep; in-between insertions take the
// midpoint. When neighbors are squeezed closer than minGap the midpoint is no
// longer distinguishable and the rank falls back to before+minGap; a column
// can only absorb a bounded number of such squeezes before ranks compress
// below floating-point resolution. There is no renumbering pass; known
// limitation.
func RankBetween(before, after *float64, rankStep, minGap float64) float64 {
	switch {
	case before == nil && after == nil:
		return 0
	case before == nil:
		return *after - rankStep
	case after == nil:
		return *before + rankStep
	}
	if *after-*before < minGap {
		return *before + minGap
	}
	return (*before + *after) / 2
}

// rankAtEnd places an item after the current maximum of a column.
func (e Engine) rankAtEnd(ctx context.Context, boardStatusID string) (float64, error) {
	max, ok, err := e.Repo.MaxRank(ctx, boardStatusID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return RankBetween(nil, nil, e.rankStep(), e.minRankGap()), nil
	}
	return RankBetween(&max, nil, e.rankStep(), e.minRankGap()), nil
}

// SyncBoardsForDoneTasks reflects newly completed tasks on every board of the
// workspace. Items are looked up by task id and re-placed at the end of each
// board's done-category column. Items are never created here; a task without
// board visibility stays off the board until EnsureBoardPlacement is called
// for it. Individual item failures are skipped so one bad row cannot stall
// the rest of the sync.
func (e Engine) SyncBoardsForDoneTasks(ctx context.Context, workspaceID string, doneTaskIDs []string, actorID string) (int, error) {
	if workspaceID == "" || len(doneTaskIDs) == 0 {
		return 0, nil
	}
	items, err := e.Repo.ItemsByTaskIDs(ctx, workspaceID, doneTaskIDs)
	if err != nil {
		return 0, err
	}
	moved := 0
	doneColumns := map[string]string{} // board id -> done status id
	for _, item := range items {
		doneStatusID, ok := doneColumns[item.BoardID]
		if !ok {
			status, err := e.Repo.StatusForCategory(ctx, item.BoardID, domain.StatusDone)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					// Board has no done column; leave its items alone.
					doneColumns[item.BoardID] = ""
					continue
				}
				return moved, err
			}
			doneStatusID = status.ID
			doneColumns[item.BoardID] = doneStatusID
		}
		if doneStatusID == "" || item.BoardStatusID == doneStatusID {
			continue
		}
		rank, err := e.rankAtEnd(ctx, doneStatusID)
		if err != nil {
			return moved, err
		}
		now := e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.MoveBoardItem(ctx, nil, item.ID, doneStatusID, rank, now); err != nil {
			continue
		}
		moved++
	}
	if moved > 0 {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return moved, err
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, "board.synced", "", "workspace", workspaceID, actorID, events.EventPayload{"moved": moved}); err != nil {
			return moved, err
		}
		if err := tx.Commit(); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// EnsureBoardPlacement creates the board item for a task on the workspace's
// default board, appended to the column matching the task's status. This is
// the only path that synthesizes items; routine syncs never do.
func (e Engine) EnsureBoardPlacement(ctx context.Context, workspaceID string, task domain.Task, actorID string) (domain.BoardItem, error) {
	board, err := e.Repo.DefaultBoard(ctx, workspaceID)
	if err != nil {
		return domain.BoardItem{}, fmt.Errorf("default board for workspace %s: %w", workspaceID, err)
	}
	existing, err := e.Repo.ItemsByTaskIDs(ctx, workspaceID, []string{task.ID})
	if err != nil {
		return domain.BoardItem{}, err
	}
	for _, item := range existing {
		if item.BoardID == board.ID {
			return item, nil
		}
	}
	status, err := e.Repo.StatusForCategory(ctx, board.ID, boardCategoryFor(task.Status))
	if err != nil {
		return domain.BoardItem{}, fmt.Errorf("board %s has no %s column: %w", board.ID, boardCategoryFor(task.Status), err)
	}
	rank, err := e.rankAtEnd(ctx, status.ID)
	if err != nil {
		return domain.BoardItem{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	item := domain.BoardItem{
		ID:            uuid.New().String(),
		BoardID:       board.ID,
		BoardStatusID: status.ID,
		TaskID:        task.ID,
		Rank:          rank,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BoardItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBoardItem(ctx, tx, item); err != nil {
		return domain.BoardItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "board.item.created", "", "board_item", item.ID, actorID, events.EventPayload{
		"board_id": board.ID,
		"task_id":  task.ID,
		"rank":     rank,
	}); err != nil {
		return domain.BoardItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.BoardItem{}, err
	}
	return item, nil
}

// boardCategoryFor maps a task status onto a board column category.
// Recurring tasks sit in the todo column between occurrences.
func boardCategoryFor(status string) string {
	switch status {
	case domain.StatusDone:
		return domain.StatusDone
	case domain.StatusInProgress:
		return domain.StatusInProgress
	default:
		return domain.StatusTodo
	}
}
