package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"actionline/internal/domain"
)

func (r Repo) InsertBoard(ctx context.Context, tx *sql.Tx, b domain.Board) error {
	if b.ID == "" {
		return errors.New("board id required")
	}
	if b.CreatedAt == "" {
		b.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	exec := r.execer(tx)
	_, err := exec(ctx, `INSERT INTO boards(id,workspace_id,name,is_default,created_at) VALUES (?,?,?,?,?)`,
		b.ID, b.WorkspaceID, b.Name, boolInt(b.IsDefault), b.CreatedAt)
	return err
}

func (r Repo) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	var b domain.Board
	var isDefault int
	err := r.DB.QueryRowContext(ctx, `SELECT id,workspace_id,name,is_default,created_at FROM boards WHERE id=?`, id).
		Scan(&b.ID, &b.WorkspaceID, &b.Name, &isDefault, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.IsDefault = isDefault != 0
	return b, err
}

// DefaultBoard returns the workspace's default board.
func (r Repo) DefaultBoard(ctx context.Context, workspaceID string) (domain.Board, error) {
	var b domain.Board
	var isDefault int
	err := r.DB.QueryRowContext(ctx, `SELECT id,workspace_id,name,is_default,created_at FROM boards WHERE workspace_id=? AND is_default=1 LIMIT 1`, workspaceID).
		Scan(&b.ID, &b.WorkspaceID, &b.Name, &isDefault, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.IsDefault = isDefault != 0
	return b, err
}

func (r Repo) ListBoards(ctx context.Context, workspaceID string) ([]domain.Board, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workspace_id,name,is_default,created_at FROM boards WHERE workspace_id=? ORDER BY created_at ASC, id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Board
	for rows.Next() {
		var b domain.Board
		var isDefault int
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.Name, &isDefault, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.IsDefault = isDefault != 0
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) InsertBoardStatus(ctx context.Context, tx *sql.Tx, s domain.BoardStatus) error {
	if s.ID == "" || s.BoardID == "" {
		return errors.New("board status id and board_id required")
	}
	exec := r.execer(tx)
	_, err := exec(ctx, `INSERT INTO board_statuses(id,board_id,name,category,position) VALUES (?,?,?,?,?)`,
		s.ID, s.BoardID, s.Name, s.Category, s.Position)
	return err
}

func (r Repo) ListBoardStatuses(ctx context.Context, boardID string) ([]domain.BoardStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,board_id,name,category,position FROM board_statuses WHERE board_id=? ORDER BY position ASC, id ASC`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BoardStatus
	for rows.Next() {
		var s domain.BoardStatus
		if err := rows.Scan(&s.ID, &s.BoardID, &s.Name, &s.Category, &s.Position); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// StatusForCategory returns the first column of a board in the given
// category, lowest position first.
func (r Repo) StatusForCategory(ctx context.Context, boardID, category string) (domain.BoardStatus, error) {
	var s domain.BoardStatus
	err := r.DB.QueryRowContext(ctx, `SELECT id,board_id,name,category,position FROM board_statuses WHERE board_id=? AND category=? ORDER BY position ASC, id ASC LIMIT 1`, boardID, category).
		Scan(&s.ID, &s.BoardID, &s.Name, &s.Category, &s.Position)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ItemsByTaskIDs returns every board item projecting one of the given tasks,
// restricted to boards of one workspace.
func (r Repo) ItemsByTaskIDs(ctx context.Context, workspaceID string, taskIDs []string) ([]domain.BoardItem, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, 2*len(taskIDs))
	args := []any{workspaceID}
	for i, id := range taskIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := `SELECT i.id,i.board_id,i.board_status_id,i.task_id,i.rank,i.created_at,i.updated_at
		FROM board_items i JOIN boards b ON b.id=i.board_id
		WHERE b.workspace_id=? AND i.task_id IN (` + string(placeholders) + `) ORDER BY i.rank ASC, i.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBoardItems(rows)
}

func (r Repo) ListBoardItems(ctx context.Context, boardStatusID string) ([]domain.BoardItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,board_id,board_status_id,task_id,rank,created_at,updated_at FROM board_items WHERE board_status_id=? ORDER BY rank ASC, id ASC`, boardStatusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBoardItems(rows)
}

// MaxRank returns the highest rank in a column, with ok=false for an empty
// column.
func (r Repo) MaxRank(ctx context.Context, boardStatusID string) (float64, bool, error) {
	var rank sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(rank) FROM board_items WHERE board_status_id=?`, boardStatusID).Scan(&rank)
	if err != nil {
		return 0, false, err
	}
	return rank.Float64, rank.Valid, nil
}

func (r Repo) InsertBoardItem(ctx context.Context, tx *sql.Tx, item domain.BoardItem) error {
	if item.ID == "" {
		return errors.New("board item id required")
	}
	exec := r.execer(tx)
	_, err := exec(ctx, `INSERT INTO board_items(id,board_id,board_status_id,task_id,rank,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		item.ID, item.BoardID, item.BoardStatusID, item.TaskID, item.Rank, item.CreatedAt, item.UpdatedAt)
	return err
}

// MoveBoardItem re-places an item into a column at the given rank.
func (r Repo) MoveBoardItem(ctx context.Context, tx *sql.Tx, itemID, boardStatusID string, rank float64, updatedAt string) error {
	exec := r.execer(tx)
	res, err := exec(ctx, `UPDATE board_items SET board_status_id=?, rank=?, updated_at=? WHERE id=?`, boardStatusID, rank, updatedAt, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBoardItems(rows *sql.Rows) ([]domain.BoardItem, error) {
	var res []domain.BoardItem
	for rows.Next() {
		var it domain.BoardItem
		if err := rows.Scan(&it.ID, &it.BoardID, &it.BoardStatusID, &it.TaskID, &it.Rank, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
