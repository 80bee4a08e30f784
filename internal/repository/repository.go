// Package repository ties a storage backend, its configuration and the
// transaction machinery together into the catalog repository the CLI and the
// ingestion runner operate on.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/backend/filestore"
	"github.com/fntb/stac-repository/internal/backend/gitstore"
	"github.com/fntb/stac-repository/internal/config"
	"github.com/fntb/stac-repository/internal/history"
	"github.com/fntb/stac-repository/internal/stac"
)

// Repository is an opened catalog repository.
type Repository struct {
	rootPath string
	cfg      *config.Config
	store    backend.Store
	logger   *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger, defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// Init creates a new repository at path with the given configuration and root
// document, and returns it opened. The root document must be a Catalog or a
// Collection with a valid id.
func Init(path string, cfg *config.Config, rootDoc []byte, opts ...Option) (*Repository, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateRootDocument(rootDoc); err != nil {
		return nil, err
	}

	repo := &Repository{rootPath: path, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(repo)
	}

	switch cfg.Backend {
	case config.BackendGit:
		cfgContent, err := cfg.Encode()
		if err != nil {
			return nil, err
		}
		store, err := gitstore.Init(path, rootDoc, map[string][]byte{
			config.FileName: cfgContent,
		},
			gitstore.WithLogger(repo.logger),
			gitstore.WithAuthor(cfg.Author.Name, cfg.Author.Email),
			gitstore.WithRemoteConfig(gitstore.LoadRemoteConfigFromEnv()),
		)
		if err != nil {
			return nil, err
		}
		repo.store = store
	case config.BackendFile:
		store, err := filestore.Init(path, rootDoc, filestore.WithLogger(repo.logger))
		if err != nil {
			return nil, err
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		repo.store = store
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown backend %q", cfg.Backend))
	}

	repo.logger.Info("repository initialized", "path", path, "backend", string(cfg.Backend))
	return repo, nil
}

// Open opens an existing repository at path. The backend is selected by the
// configuration file written at init time.
func Open(path string, opts ...Option) (*Repository, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	repo := &Repository{rootPath: path, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(repo)
	}

	switch cfg.Backend {
	case config.BackendGit:
		store, err := gitstore.Open(path,
			gitstore.WithLogger(repo.logger),
			gitstore.WithAuthor(cfg.Author.Name, cfg.Author.Email),
			gitstore.WithRemoteConfig(gitstore.LoadRemoteConfigFromEnv()),
		)
		if err != nil {
			return nil, err
		}
		repo.store = store
	case config.BackendFile:
		store, err := filestore.Open(path, filestore.WithLogger(repo.logger))
		if err != nil {
			return nil, err
		}
		repo.store = store
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown backend %q", cfg.Backend))
	}

	return repo, nil
}

func validateRootDocument(doc []byte) error {
	kind, err := stac.KindOfDocument(doc)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("root document: %v", err))
	}
	if !kind.CanHaveChildren() {
		return apperrors.Validation("root document must be a Catalog or a Collection")
	}
	id, err := stac.IDOfDocument(doc)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("root document: %v", err))
	}
	if err := stac.ValidateID(id); err != nil {
		return apperrors.ValidationObject(err.Error(), id)
	}
	return nil
}

// Path returns the repository root path.
func (r *Repository) Path() string {
	return r.rootPath
}

// Config returns the loaded configuration.
func (r *Repository) Config() *config.Config {
	return r.cfg
}

// Store exposes the underlying backend.
func (r *Repository) Store() backend.Store {
	return r.store
}

// Head returns the current revision.
func (r *Repository) Head(ctx context.Context) (backend.Revision, error) {
	return r.store.Current(ctx)
}

// Tree returns the catalog tree at a revision, or at the current revision for
// a zero revision.
func (r *Repository) Tree(ctx context.Context, revision backend.Revision) (*stac.Tree, error) {
	if revision == "" {
		current, err := r.store.Current(ctx)
		if err != nil {
			return nil, err
		}
		revision = current
	}
	return r.store.ReadTree(ctx, revision)
}

// Commits lists all revisions newest first.
func (r *Repository) Commits(ctx context.Context) ([]backend.RevisionInfo, error) {
	return r.store.Revisions(ctx)
}

// GetCommit resolves a revision reference to a concrete revision. Accepted
// forms, tried in order:
//
//   - "" or "current": the newest revision
//   - a negative index: -1 is the newest revision, -2 its parent, and so on
//   - a timestamp (RFC 3339 or "2006-01-02"): the newest revision at or
//     before that instant
//   - a revision id or unique id prefix
func (r *Repository) GetCommit(ctx context.Context, ref string) (backend.RevisionInfo, error) {
	revisions, err := r.store.Revisions(ctx)
	if err != nil {
		return backend.RevisionInfo{}, err
	}
	if len(revisions) == 0 {
		return backend.RevisionInfo{}, apperrors.NotFoundRevision(ref)
	}

	if ref == "" || ref == string(backend.RevisionCurrent) {
		return revisions[0], nil
	}

	if index, err := strconv.Atoi(ref); err == nil && index < 0 {
		offset := -index - 1
		if offset >= len(revisions) {
			return backend.RevisionInfo{}, apperrors.NotFoundRevision(ref)
		}
		return revisions[offset], nil
	}

	if at, ok := parseRefTime(ref); ok {
		// Revisions are newest first, so the first one at or before the
		// instant is the wanted one.
		for _, info := range revisions {
			if !info.Time.After(at) {
				return info, nil
			}
		}
		return backend.RevisionInfo{}, apperrors.NotFoundRevision(ref)
	}

	var matched []backend.RevisionInfo
	for _, info := range revisions {
		if strings.HasPrefix(string(info.Revision), ref) {
			matched = append(matched, info)
		}
	}
	switch len(matched) {
	case 1:
		return matched[0], nil
	case 0:
		return backend.RevisionInfo{}, apperrors.NotFoundRevision(ref)
	default:
		return backend.RevisionInfo{}, apperrors.Validation(fmt.Sprintf("revision reference %q is ambiguous", ref))
	}
}

func parseRefTime(ref string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if at, err := time.Parse(layout, ref); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

// History lists the object-level changes over (from, to], both ends given as
// revision references. A zero from starts at the initial revision and a zero
// to ends at the newest one.
func (r *Repository) History(ctx context.Context, fromRef, toRef string, order history.Order) ([]history.Entry, error) {
	var from backend.Revision
	if fromRef != "" {
		info, err := r.GetCommit(ctx, fromRef)
		if err != nil {
			return nil, err
		}
		from = info.Revision
	}

	to, err := r.GetCommit(ctx, toRef)
	if err != nil {
		return nil, err
	}
	return history.Log(ctx, r.store, from, to.Revision, order)
}

// ObjectHistory lists the history entries touching one object id.
func (r *Repository) ObjectHistory(ctx context.Context, id, fromRef, toRef string, order history.Order) ([]history.Entry, error) {
	entries, err := r.History(ctx, fromRef, toRef, order)
	if err != nil {
		return nil, err
	}
	return history.ForObject(entries, id), nil
}

// VerifyHistory replays the object-level history from the initial revision up
// to a revision reference and checks that the replayed tree reproduces the
// stored one, confirming the history is a faithful account of the catalog.
func (r *Repository) VerifyHistory(ctx context.Context, toRef string) error {
	to, err := r.GetCommit(ctx, toRef)
	if err != nil {
		return err
	}

	entries, err := history.Log(ctx, r.store, "", to.Revision, history.OldestFirst)
	if err != nil {
		return err
	}
	replayed, err := history.Replay(ctx, r.store, entries)
	if err != nil {
		return err
	}

	want, err := r.store.ReadTree(ctx, to.Revision)
	if err != nil {
		return err
	}

	if replayed.Len() != want.Len() || replayed.RootID() != want.RootID() {
		return apperrors.Validation(fmt.Sprintf(
			"replayed history diverges at %s: %d objects under %q, stored tree has %d under %q",
			to.Revision, replayed.Len(), replayed.RootID(), want.Len(), want.RootID()))
	}
	return want.Walk(func(obj *stac.Object, _ []string) error {
		got := replayed.Get(obj.ID)
		if got == nil {
			return apperrors.ValidationObject("object missing from replayed history", obj.ID)
		}
		if string(got.Document) != string(obj.Document) || len(got.Assets) != len(obj.Assets) {
			return apperrors.ValidationObject("object state diverges from replayed history", obj.ID)
		}
		return nil
	})
}
