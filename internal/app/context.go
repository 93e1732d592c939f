package app

import (
	"context"
	"errors"
	"fmt"

	"actionline/internal/config"
	"actionline/internal/domain"
	"actionline/internal/repo"
)

// DefaultUserID is the identity used by local CLI invocations when none is
// given.
const DefaultUserID = "local-user"

// ResolveUserAndConfig picks the acting user, ensures the user and their
// personal workspace exist in the DB, and returns the effective config. The
// workspace config stored in the DB wins; a file config (if any) seeds it on
// first use; otherwise defaults are seeded.
func ResolveUserAndConfig(ctx context.Context, workspace, userOverride string, r repo.Repo) (string, string, *config.Config, error) {
	userID := userOverride
	if userID == "" {
		userID = DefaultUserID
	}
	workspaceID := "ws-" + userID

	if _, err := r.GetUser(ctx, userID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", "", nil, err
		}
		if err := createUserAndWorkspace(ctx, r, userID, workspaceID); err != nil {
			return "", "", nil, err
		}
	}

	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err == nil {
		return userID, workspaceID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", "", nil, err
	}

	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return "", "", nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertWorkspaceConfig(ctx, workspaceID, seed); err != nil {
		return "", "", nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return userID, workspaceID, seed, nil
}

func createUserAndWorkspace(ctx context.Context, r repo.Repo, userID, workspaceID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureUser(ctx, tx, domain.User{ID: userID}); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if err := r.EnsureWorkspace(ctx, tx, domain.Workspace{ID: workspaceID}); err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}
	return tx.Commit()
}
