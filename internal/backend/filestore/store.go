// Package filestore implements the versioned store contract over a plain
// directory. No history is retained: writes mutate in place behind a
// tmp/bck staging pass and the current state is the only revision. This
// trades rollback and audit away for operational simplicity.
package filestore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

const (
	tmpSuffix = ".tmp"
	bckSuffix = ".bck"
	lockName  = ".lock"

	dirPerm  = 0750
	filePerm = 0600
)

// Store is the filesystem backend.
type Store struct {
	rootPath string
	mu       sync.RWMutex
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Init creates a new repository at path with the given root catalog document.
func Init(path string, rootDoc []byte, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, apperrors.BackendIO("create repository directory", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, apperrors.BackendIO("read repository directory", err)
	}
	if len(entries) > 0 {
		return nil, fmt.Errorf("%s is not empty: %w", path, apperrors.ErrRepositoryExists)
	}
	if err := os.WriteFile(filepath.Join(path, stac.CatalogDocName), rootDoc, filePerm); err != nil {
		return nil, apperrors.BackendIO("write root catalog", err)
	}
	return Open(path, opts...)
}

// Open opens an existing repository at path.
func Open(path string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(filepath.Join(path, stac.CatalogDocName)); err != nil {
		return nil, fmt.Errorf("%s has no root catalog: %w", path, apperrors.ErrRepositoryNotFound)
	}

	store := &Store{
		rootPath: path,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Current returns the sentinel revision: this backend has no history.
func (s *Store) Current(_ context.Context) (backend.Revision, error) {
	return backend.RevisionCurrent, nil
}

// ReadTree reconstructs the catalog tree from the working directory.
func (s *Store) ReadTree(ctx context.Context, revision backend.Revision) (*stac.Tree, error) {
	if revision != backend.RevisionCurrent {
		return nil, apperrors.NotFoundRevision(string(revision))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.DebugContext(ctx, "reading tree", "dir", s.rootPath)

	tree, err := s.readTree()
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "read tree complete", "objects", tree.Len())
	return tree, nil
}

// readTree walks the working directory without taking the store lock.
func (s *Store) readTree() (*stac.Tree, error) {
	var files []backend.TreeFile
	err := filepath.WalkDir(s.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if isStagingFile(name) || name == lockName {
			return nil
		}
		rel, err := filepath.Rel(s.rootPath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, backend.TreeFile{
			Path: rel,
			Size: info.Size(),
			Read: func() ([]byte, error) { return os.ReadFile(p) }, //nolint:gosec // path is repository controlled
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.BackendIO("walk repository", err)
	}

	return backend.BuildTree(files)
}

// Write applies a change set in place. The staging pass writes new content
// under .tmp names and parks removals under .bck names, so a failure at any
// point restores the previous state before returning.
func (s *Store) Write(ctx context.Context, source backend.Revision, changes *stac.ChangeSet, _ string) (backend.Revision, error) {
	if source != backend.RevisionCurrent {
		return "", apperrors.Conflict(string(source), string(backend.RevisionCurrent))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.unlock(ctx)

	cur, err := s.readTree()
	if err != nil {
		return "", err
	}

	plan, err := backend.Plan(cur, changes)
	if err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "applying change set",
		"operations", changes.Len(),
		"writes", len(plan.Writes),
		"deletes", len(plan.Deletes))

	if err := s.stage(plan); err != nil {
		s.restore(ctx)
		return "", err
	}

	s.promote(ctx, plan)
	s.removeEmptyDirs()

	s.logger.InfoContext(ctx, "change set applied", "operations", changes.Len())
	return backend.RevisionCurrent, nil
}

// Revisions describes the only revision this backend has: the current state.
func (s *Store) Revisions(_ context.Context) ([]backend.RevisionInfo, error) {
	info := backend.RevisionInfo{Revision: backend.RevisionCurrent}
	if stat, err := os.Stat(s.rootPath); err == nil {
		info.Time = stat.ModTime()
	}
	return []backend.RevisionInfo{info}, nil
}

// Revert is not available: past states are not retained.
func (s *Store) Revert(_ context.Context, _ backend.Revision, _ string) (backend.Revision, error) {
	return "", apperrors.Unsupported("filesystem backend retains no history to revert to")
}

// Log always returns an empty history: state is mutated in place.
func (s *Store) Log(_ context.Context, _, _ backend.Revision) ([]backend.RevisionDiff, error) {
	return nil, nil
}

// ReadDocument returns the content of a document file.
func (s *Store) ReadDocument(_ context.Context, revision backend.Revision, path string) ([]byte, error) {
	if revision != backend.RevisionCurrent {
		return nil, apperrors.NotFoundRevision(string(revision))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.rootPath, filepath.FromSlash(path))) //nolint:gosec // path is repository controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(fmt.Sprintf("document %s", path), err)
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("read document %s", path), err)
	}
	return data, nil
}

// OpenAsset opens an asset file.
func (s *Store) OpenAsset(_ context.Context, revision backend.Revision, path string) (io.ReadCloser, error) {
	if revision != backend.RevisionCurrent {
		return nil, apperrors.NotFoundRevision(string(revision))
	}

	f, err := os.Open(filepath.Join(s.rootPath, filepath.FromSlash(path))) //nolint:gosec // path is repository controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(fmt.Sprintf("asset %s", path), err)
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("open asset %s", path), err)
	}
	return f, nil
}

// Sync is not available: a plain directory has no notion of remote.
func (s *Store) Sync(_ context.Context, _ string, _ backend.SyncDirection) error {
	return apperrors.Unsupported("filesystem backend has no remote sync")
}

// lock takes the repository-level lock file guarding against a second writer
// process.
func (s *Store) lock() error {
	lockPath := filepath.Join(s.rootPath, lockName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm) //nolint:gosec // path is repository controlled
	if err != nil {
		if os.IsExist(err) {
			return apperrors.Conflict(string(backend.RevisionCurrent), "another transaction holds the repository lock")
		}
		return apperrors.BackendIO("take repository lock", err)
	}
	return f.Close()
}

func (s *Store) unlock(ctx context.Context) {
	if err := os.Remove(filepath.Join(s.rootPath, lockName)); err != nil {
		s.logger.DebugContext(ctx, "release repository lock failed", "error", err)
	}
}

// stage materializes the plan without touching any live path.
func (s *Store) stage(plan *backend.WritePlan) error {
	for _, del := range plan.Deletes {
		full := filepath.Join(s.rootPath, filepath.FromSlash(del))
		if err := os.Rename(full, full+bckSuffix); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return apperrors.BackendIO(fmt.Sprintf("stage delete %s", del), err)
		}
	}

	for _, write := range plan.Writes {
		full := filepath.Join(s.rootPath, filepath.FromSlash(write.Path))
		if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
			return apperrors.BackendIO(fmt.Sprintf("create parent dir for %s", write.Path), err)
		}
		if write.Asset != nil {
			if err := stageAsset(full+tmpSuffix, write.Asset); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(full+tmpSuffix, write.Content, filePerm); err != nil {
			return apperrors.BackendIO(fmt.Sprintf("stage write %s", write.Path), err)
		}
	}
	return nil
}

func stageAsset(tmpPath string, asset *stac.AssetSource) error {
	src, err := asset.Open()
	if err != nil {
		return apperrors.BackendIO(fmt.Sprintf("open asset source %s", asset.Ref.Path), err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm) //nolint:gosec // path is repository controlled
	if err != nil {
		return apperrors.BackendIO(fmt.Sprintf("stage asset %s", asset.Ref.Path), err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return apperrors.BackendIO(fmt.Sprintf("copy asset %s", asset.Ref.Path), err)
	}
	if err := dst.Close(); err != nil {
		return apperrors.BackendIO(fmt.Sprintf("flush asset %s", asset.Ref.Path), err)
	}
	return nil
}

// promote renames staged files into place and drops parked removals.
func (s *Store) promote(ctx context.Context, plan *backend.WritePlan) {
	for _, write := range plan.Writes {
		full := filepath.Join(s.rootPath, filepath.FromSlash(write.Path))
		if err := os.Rename(full+tmpSuffix, full); err != nil {
			s.logger.ErrorContext(ctx, "promote staged file failed", "path", write.Path, "error", err)
		}
	}
	for _, del := range plan.Deletes {
		full := filepath.Join(s.rootPath, filepath.FromSlash(del))
		if err := os.Remove(full + bckSuffix); err != nil && !os.IsNotExist(err) {
			s.logger.DebugContext(ctx, "drop parked removal failed", "path", del, "error", err)
		}
	}
}

// restore undoes a partially staged plan: staged files are removed, parked
// removals are renamed back.
func (s *Store) restore(ctx context.Context) {
	_ = filepath.WalkDir(s.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch {
		case strings.HasSuffix(d.Name(), tmpSuffix):
			if rmErr := os.Remove(p); rmErr != nil {
				s.logger.DebugContext(ctx, "remove staged file failed", "path", p, "error", rmErr)
			}
		case strings.HasSuffix(d.Name(), bckSuffix):
			if mvErr := os.Rename(p, strings.TrimSuffix(p, bckSuffix)); mvErr != nil {
				s.logger.DebugContext(ctx, "restore parked file failed", "path", p, "error", mvErr)
			}
		}
		return nil
	})
	s.removeEmptyDirs()
}

func isStagingFile(name string) bool {
	return strings.HasSuffix(name, tmpSuffix) || strings.HasSuffix(name, bckSuffix)
}

// removeEmptyDirs prunes directories left empty by removals, bottom-up.
func (s *Store) removeEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(s.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != s.rootPath && d.Name() != ".git" {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
}
