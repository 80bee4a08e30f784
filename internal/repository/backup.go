package repository

import (
	"context"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/backend/gitstore"
	"github.com/fntb/stac-repository/internal/config"
)

// Backup mirrors the repository history to a remote location. A remote that
// already holds history is reconciled first with a pull, so a backup target
// shared by several repository copies stays consistent; a fresh target is
// simply seeded with a push.
func (r *Repository) Backup(ctx context.Context, remote string) error {
	remote, err := r.resolveRemote(remote)
	if err != nil {
		return err
	}

	if gitstore.HasRemoteRevisions(remote) {
		if err := r.store.Sync(ctx, remote, backend.SyncPull); err != nil {
			return err
		}
	}
	return r.store.Sync(ctx, remote, backend.SyncPush)
}

// Restore pulls history from a remote location into the repository.
func (r *Repository) Restore(ctx context.Context, remote string) error {
	remote, err := r.resolveRemote(remote)
	if err != nil {
		return err
	}
	return r.store.Sync(ctx, remote, backend.SyncPull)
}

// resolveRemote falls back to the configured remote when none is given.
func (r *Repository) resolveRemote(remote string) (string, error) {
	if remote == "" {
		remote = r.cfg.Remote
	}
	if remote == "" {
		return "", apperrors.ErrRemoteNotConfigured
	}
	if r.cfg.Backend != config.BackendGit {
		return "", apperrors.Unsupported("backup requires the git backend")
	}
	return remote, nil
}
