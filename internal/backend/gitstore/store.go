// Package gitstore implements the versioned store contract over a git
// repository. Each write is one commit, the commit hash is the revision, and
// large assets are kept out of the object database through LFS pointer
// substitution.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

const (
	dirPerm  = 0750
	filePerm = 0600

	defaultAuthorName  = "stac-repository"
	defaultAuthorEmail = "stac-repository@localhost"

	initialCommitMessage = "Initialize repository"
)

// gitattributes mirrors what git-lfs would configure: every asset goes
// through the lfs filter, documents and scaffolding stay plain text.
const gitattributes = "* filter=lfs diff=lfs merge=lfs -text\n" +
	"*.json !filter !diff !merge text\n" +
	".gitattributes !filter !diff !merge text\n" +
	".gitignore !filter !diff !merge text\n" +
	".stac-repository.yaml !filter !diff !merge text\n"

// Store is the git-backed versioned store.
type Store struct {
	rootPath    string
	repo        *git.Repository
	lfs         *lfsStore
	mu          sync.RWMutex
	logger      *slog.Logger
	authorName  string
	authorEmail string
	remote      *RemoteConfig
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithAuthor sets the commit author signature.
func WithAuthor(name, email string) Option {
	return func(s *Store) {
		if name != "" {
			s.authorName = name
		}
		if email != "" {
			s.authorEmail = email
		}
	}
}

// WithRemoteConfig sets the remote transfer configuration.
func WithRemoteConfig(cfg *RemoteConfig) Option {
	return func(s *Store) {
		s.remote = cfg
	}
}

// Init creates a new repository at path: a git repository holding the root
// catalog document, the LFS attributes, and any scaffolding files, all
// recorded in a single initial commit.
func Init(path string, rootDoc []byte, scaffold map[string][]byte, opts ...Option) (*Store, error) {
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

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, apperrors.BackendIO("init git repository", err)
	}

	store := newStore(path, repo, opts...)

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, apperrors.BackendIO("get worktree", err)
	}

	files := map[string][]byte{
		".gitattributes":   []byte(gitattributes),
		".gitignore":       []byte(""),
		stac.CatalogDocName: rootDoc,
	}
	for name, content := range scaffold {
		files[name] = content
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(path, name), content, filePerm); err != nil {
			return nil, apperrors.BackendIO(fmt.Sprintf("write %s", name), err)
		}
		if _, err := worktree.Add(name); err != nil {
			return nil, apperrors.BackendIO(fmt.Sprintf("git add %s", name), err)
		}
	}

	if _, err := worktree.Commit(initialCommitMessage, &git.CommitOptions{
		Author: store.signature(),
	}); err != nil {
		return nil, apperrors.BackendIO("initial commit", err)
	}

	return store, nil
}

// Open opens an existing repository at path.
func Open(path string, opts ...Option) (*Store, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s is not a git repository: %w", path, apperrors.ErrRepositoryNotFound)
		}
		return nil, apperrors.BackendIO("open git repository", err)
	}
	return newStore(path, repo, opts...), nil
}

func newStore(path string, repo *git.Repository, opts ...Option) *Store {
	store := &Store{
		rootPath:    path,
		repo:        repo,
		lfs:         newLFSStore(filepath.Join(path, ".git")),
		logger:      slog.Default(),
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) signature() *object.Signature {
	return &object.Signature{
		Name:  s.authorName,
		Email: s.authorEmail,
		When:  time.Now(),
	}
}

// head returns the current commit hash.
func (s *Store) head() (plumbing.Hash, error) {
	ref, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("repository has no commits: %w", apperrors.ErrRepositoryNotFound)
		}
		return plumbing.ZeroHash, apperrors.BackendIO("resolve HEAD", err)
	}
	return ref.Hash(), nil
}

// resolveCommit maps a revision to its commit object.
func (s *Store) resolveCommit(revision backend.Revision) (*object.Commit, error) {
	if !plumbing.IsHash(string(revision)) {
		return nil, apperrors.NotFoundRevision(string(revision))
	}
	commit, err := s.repo.CommitObject(plumbing.NewHash(string(revision)))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, apperrors.NotFoundRevision(string(revision))
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("resolve revision %s", revision), err)
	}
	return commit, nil
}

// Current returns the commit hash at HEAD.
func (s *Store) Current(_ context.Context) (backend.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, err := s.head()
	if err != nil {
		return "", err
	}
	return backend.Revision(head.String()), nil
}

// ReadTree reconstructs the catalog tree at a revision. Content is read from
// the commit's tree, never the worktree, so concurrent writers are invisible.
func (s *Store) ReadTree(ctx context.Context, revision backend.Revision) (*stac.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.DebugContext(ctx, "reading tree", "revision", revision)

	commit, err := s.resolveCommit(revision)
	if err != nil {
		return nil, err
	}

	files, err := s.treeFiles(commit)
	if err != nil {
		return nil, err
	}

	tree, err := backend.BuildTree(files)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "read tree complete", "revision", revision, "objects", tree.Len())
	return tree, nil
}

// treeFiles enumerates a commit's files, substituting LFS pointer metadata
// for asset sizes and hashes so asset content is never loaded.
func (s *Store) treeFiles(commit *object.Commit) ([]backend.TreeFile, error) {
	gitTree, err := commit.Tree()
	if err != nil {
		return nil, apperrors.BackendIO("resolve commit tree", err)
	}

	var files []backend.TreeFile
	err = gitTree.Files().ForEach(func(f *object.File) error {
		tf := backend.TreeFile{
			Path: f.Name,
			Size: f.Blob.Size,
		}
		file := f
		tf.Read = func() ([]byte, error) {
			content, err := file.Contents()
			if err != nil {
				return nil, err
			}
			return []byte(content), nil
		}

		if stac.ParsePath(f.Name).Class == stac.PathAsset {
			content, err := file.Contents()
			if err != nil {
				return err
			}
			if pointer, ok := decodeLFSPointer([]byte(content)); ok {
				tf.Size = pointer.Size
				tf.SHA256 = pointer.OID
			}
		}

		files = append(files, tf)
		return nil
	})
	if err != nil {
		return nil, apperrors.BackendIO("enumerate commit files", err)
	}
	return files, nil
}

// Write applies a change set on top of source as a single commit. The commit
// is a compare-and-swap on HEAD: a stale source fails with a conflict before
// anything is touched, and a failure while materializing files hard-resets
// the worktree to source so no partial state survives. Readers are unaffected
// either way, they only see committed trees.
func (s *Store) Write(ctx context.Context, source backend.Revision, changes *stac.ChangeSet, message string) (backend.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head()
	if err != nil {
		return "", err
	}
	if string(source) != head.String() {
		return "", apperrors.Conflict(string(source), head.String())
	}

	sourceCommit, err := s.resolveCommit(source)
	if err != nil {
		return "", err
	}
	files, err := s.treeFiles(sourceCommit)
	if err != nil {
		return "", err
	}
	cur, err := backend.BuildTree(files)
	if err != nil {
		return "", err
	}

	plan, err := backend.Plan(cur, changes)
	if err != nil {
		return "", err
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", apperrors.BackendIO("get worktree", err)
	}

	s.logger.DebugContext(ctx, "applying change set",
		"source", source,
		"operations", changes.Len(),
		"writes", len(plan.Writes),
		"deletes", len(plan.Deletes))

	revision, err := s.applyAndCommit(worktree, plan, message)
	if err != nil {
		s.resetWorktree(ctx, worktree, head)
		return "", err
	}

	s.logger.InfoContext(ctx, "change set committed",
		"revision", revision,
		"operations", changes.Len())
	return revision, nil
}

func (s *Store) applyAndCommit(worktree *git.Worktree, plan *backend.WritePlan, message string) (backend.Revision, error) {
	for _, del := range plan.Deletes {
		full := filepath.Join(s.rootPath, filepath.FromSlash(del))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return "", apperrors.BackendIO(fmt.Sprintf("delete %s", del), err)
		}
		// Untracked paths are fine to miss here.
		_, _ = worktree.Remove(del)
	}

	for _, write := range plan.Writes {
		if err := s.applyWrite(worktree, write); err != nil {
			return "", err
		}
	}

	commit, err := worktree.Commit(message, &git.CommitOptions{
		Author:            s.signature(),
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", apperrors.BackendIO("commit", err)
	}

	s.pruneEmptyDirs()
	return backend.Revision(commit.String()), nil
}

func (s *Store) applyWrite(worktree *git.Worktree, write backend.FileWrite) error {
	full := filepath.Join(s.rootPath, filepath.FromSlash(write.Path))
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return apperrors.BackendIO(fmt.Sprintf("create parent dir for %s", write.Path), err)
	}

	content := write.Content
	if write.Asset != nil {
		src, err := write.Asset.Open()
		if err != nil {
			return apperrors.BackendIO(fmt.Sprintf("open asset source %s", write.Asset.Ref.Path), err)
		}
		pointer, putErr := s.lfs.Put(src)
		_ = src.Close()
		if putErr != nil {
			return putErr
		}
		content = pointer.encode()
	}

	if err := os.WriteFile(full, content, filePerm); err != nil {
		return apperrors.BackendIO(fmt.Sprintf("write %s", write.Path), err)
	}
	if _, err := worktree.Add(write.Path); err != nil {
		return apperrors.BackendIO(fmt.Sprintf("git add %s", write.Path), err)
	}
	return nil
}

// resetWorktree discards everything staged since source, restoring the
// worktree byte-identical to the source revision.
func (s *Store) resetWorktree(ctx context.Context, worktree *git.Worktree, source plumbing.Hash) {
	if err := worktree.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: source,
	}); err != nil {
		s.logger.ErrorContext(ctx, "worktree reset failed", "revision", source.String(), "error", err)
		return
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		s.logger.DebugContext(ctx, "worktree clean failed", "error", err)
	}
	s.pruneEmptyDirs()
}

// pruneEmptyDirs removes worktree directories git no longer tracks.
func (s *Store) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(s.rootPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if p != s.rootPath {
				dirs = append(dirs, p)
			}
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

// Revisions walks the commit chain from HEAD, newest first.
func (s *Store) Revisions(_ context.Context) ([]backend.RevisionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, err := s.head()
	if err != nil {
		return nil, err
	}

	var infos []backend.RevisionInfo
	commit, err := s.resolveCommit(backend.Revision(head.String()))
	if err != nil {
		return nil, err
	}
	for commit != nil {
		info, parent, err := s.describeCommit(commit)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
		commit = parent
	}
	return infos, nil
}

// describeCommit builds the revision metadata and returns the single parent,
// enforcing linear history.
func (s *Store) describeCommit(commit *object.Commit) (backend.RevisionInfo, *object.Commit, error) {
	info := backend.RevisionInfo{
		Revision: backend.Revision(commit.Hash.String()),
		Time:     commit.Author.When,
		Author:   commit.Author.Name,
		Message:  strings.TrimSpace(commit.Message),
	}

	switch commit.NumParents() {
	case 0:
		return info, nil, nil
	case 1:
		parent, err := commit.Parent(0)
		if err != nil {
			return info, nil, apperrors.BackendIO("resolve parent commit", err)
		}
		info.Parent = backend.Revision(parent.Hash.String())
		return info, parent, nil
	default:
		return info, nil, apperrors.BackendIO(
			fmt.Sprintf("revision %s is a merge commit, history must stay linear", commit.Hash),
			nil,
		)
	}
}

// Log walks the ancestry chain from to back to from and returns per-revision
// file-level tree diffs, oldest first. A zero from walks back to the initial
// commit, which diffs against the empty tree.
func (s *Store) Log(ctx context.Context, from, to backend.Revision) ([]backend.RevisionDiff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if to == "" {
		head, err := s.head()
		if err != nil {
			return nil, err
		}
		to = backend.Revision(head.String())
	}

	commit, err := s.resolveCommit(to)
	if err != nil {
		return nil, err
	}

	var chain []*object.Commit
	for commit != nil {
		if from != "" && commit.Hash.String() == string(from) {
			break
		}
		chain = append(chain, commit)
		_, parent, err := s.describeCommit(commit)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			if from != "" {
				return nil, &apperrors.Error{
					Kind:     apperrors.KindNotFound,
					Msg:      "revision is not an ancestor",
					Revision: string(from),
					Target:   string(to),
				}
			}
			break
		}
		commit = parent
	}

	diffs := make([]backend.RevisionDiff, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		diff, err := s.diffAgainstParent(ctx, chain[i])
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, diff)
	}
	return diffs, nil
}

func (s *Store) diffAgainstParent(ctx context.Context, commit *object.Commit) (backend.RevisionDiff, error) {
	info, parent, err := s.describeCommit(commit)
	if err != nil {
		return backend.RevisionDiff{}, err
	}

	tree, err := commit.Tree()
	if err != nil {
		return backend.RevisionDiff{}, apperrors.BackendIO("resolve commit tree", err)
	}
	var parentTree *object.Tree
	if parent != nil {
		parentTree, err = parent.Tree()
		if err != nil {
			return backend.RevisionDiff{}, apperrors.BackendIO("resolve parent tree", err)
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return backend.RevisionDiff{}, apperrors.BackendIO("diff trees", err)
	}

	diff := backend.RevisionDiff{Info: info}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return backend.RevisionDiff{}, apperrors.BackendIO("classify change", err)
		}
		switch action {
		case merkletrie.Insert:
			diff.Files = append(diff.Files, backend.FileChange{Path: change.To.Name, Action: backend.FileAdded})
		case merkletrie.Delete:
			diff.Files = append(diff.Files, backend.FileChange{Path: change.From.Name, Action: backend.FileDeleted})
		case merkletrie.Modify:
			diff.Files = append(diff.Files, backend.FileChange{Path: change.To.Name, Action: backend.FileModified})
		}
	}
	return diff, nil
}

// ReadDocument returns a document's content at a revision.
func (s *Store) ReadDocument(_ context.Context, revision backend.Revision, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commit, err := s.resolveCommit(revision)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("document %s", path), err)
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("read document %s", path), err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, apperrors.BackendIO(fmt.Sprintf("read document %s", path), err)
	}
	return []byte(content), nil
}

// OpenAsset opens an asset's content at a revision, smudging the LFS pointer.
func (s *Store) OpenAsset(_ context.Context, revision backend.Revision, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commit, err := s.resolveCommit(revision)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("asset %s", path), err)
		}
		return nil, apperrors.BackendIO(fmt.Sprintf("open asset %s", path), err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, apperrors.BackendIO(fmt.Sprintf("open asset %s", path), err)
	}
	if pointer, ok := decodeLFSPointer([]byte(content)); ok {
		return s.lfs.Open(pointer)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// Revert records a new commit whose tree equals target's tree, with HEAD as
// parent. The ref moves forward, never back: history in a shared repository
// stays append-only.
func (s *Store) Revert(ctx context.Context, target backend.Revision, message string) (backend.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head()
	if err != nil {
		return "", err
	}
	if string(target) == head.String() {
		return "", apperrors.Validation("target already is the current revision")
	}

	targetCommit, err := s.resolveCommit(target)
	if err != nil {
		return "", err
	}

	ancestor, err := s.isAncestor(targetCommit.Hash, head)
	if err != nil {
		return "", err
	}
	if !ancestor {
		return "", &apperrors.Error{
			Kind:     apperrors.KindValidation,
			Msg:      "rollback target is not an ancestor of the current revision",
			Revision: head.String(),
			Target:   string(target),
		}
	}

	commit := &object.Commit{
		Author:       *s.signature(),
		Committer:    *s.signature(),
		Message:      message,
		TreeHash:     targetCommit.TreeHash,
		ParentHashes: []plumbing.Hash{head},
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", apperrors.BackendIO("encode revert commit", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", apperrors.BackendIO("store revert commit", err)
	}

	headRef, err := s.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", apperrors.BackendIO("resolve HEAD reference", err)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(headRef.Target(), hash)); err != nil {
		return "", apperrors.BackendIO("advance branch reference", err)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", apperrors.BackendIO("get worktree", err)
	}
	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: hash}); err != nil {
		return "", apperrors.BackendIO("reset worktree to revert commit", err)
	}
	s.pruneEmptyDirs()

	s.logger.InfoContext(ctx, "rolled back",
		"target", target,
		"revision", hash.String())
	return backend.Revision(hash.String()), nil
}

// isAncestor walks the linear parent chain from descendant looking for
// ancestor, excluding descendant itself.
func (s *Store) isAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	commit, err := s.resolveCommit(backend.Revision(descendant.String()))
	if err != nil {
		return false, err
	}
	for {
		_, parent, err := s.describeCommit(commit)
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, nil
		}
		if parent.Hash == ancestor {
			return true, nil
		}
		commit = parent
	}
}
