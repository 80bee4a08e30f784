package repository

import (
	"context"
	"fmt"

	"github.com/fntb/stac-repository/internal/backend"
)

// Rollback restores the catalog to the state of an earlier revision by
// writing a new revision with that state. History is append-only: the rolled
// back revisions stay reachable and a rollback can itself be rolled back.
func (r *Repository) Rollback(ctx context.Context, ref string) (backend.Revision, error) {
	target, err := r.GetCommit(ctx, ref)
	if err != nil {
		return "", err
	}

	message := fmt.Sprintf("Roll back to %s", target.Revision)
	revision, err := r.store.Revert(ctx, target.Revision, message)
	if err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "rolled back",
		"target", string(target.Revision),
		"revision", string(revision))
	return revision, nil
}
