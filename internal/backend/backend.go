// Package backend defines the versioned store contract every catalog backend
// implements, plus the revision and file-level diff types exchanged with the
// history engine.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/fntb/stac-repository/internal/stac"
)

// Revision is an immutable, opaque revision identifier produced by a backend
// after a committed write. For the git backend it is the commit hash; for
// history-less backends it is RevisionCurrent.
type Revision string

// RevisionCurrent is the sentinel revision of backends that retain no
// history: it always denotes "the current state".
const RevisionCurrent Revision = "current"

// RevisionInfo is the display metadata a backend records per revision.
type RevisionInfo struct {
	Revision Revision
	Parent   Revision // empty for the initial revision
	Time     time.Time
	Author   string
	Message  string
}

// FileAction is the raw per-path change kind in a revision diff.
type FileAction int

const (
	// FileAdded means the path did not exist in the parent revision.
	FileAdded FileAction = iota
	// FileModified means the path exists in both revisions with different content.
	FileModified
	// FileDeleted means the path existed in the parent revision only.
	FileDeleted
)

func (a FileAction) String() string {
	switch a {
	case FileAdded:
		return "added"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	}
	return "unknown"
}

// FileChange is one changed path in a revision, relative to the repository root.
type FileChange struct {
	Path   string
	Action FileAction
}

// RevisionDiff is the backend-native, file-level description of one revision
// against its single parent. It is the raw input of the history engine and is
// not yet object-identity aware.
type RevisionDiff struct {
	Info  RevisionInfo
	Files []FileChange
}

// SyncDirection selects the transfer direction of Store.Sync.
type SyncDirection int

const (
	// SyncPush transfers local history to the remote location.
	SyncPush SyncDirection = iota
	// SyncPull transfers remote history into the local store.
	SyncPull
)

func (d SyncDirection) String() string {
	if d == SyncPull {
		return "pull"
	}
	return "push"
}

// Store is the contract every backend satisfies.
//
// Write is atomic: either the whole change set is durably applied and a new
// revision returned, or no state changes. It fails with a conflict error when
// source is no longer the current revision (commit is a compare-and-swap on
// the revision pointer) and with a validation error when the change set
// violates the catalog invariants. Reads observe committed revisions only and
// never block a writer.
type Store interface {
	// Current returns the backend's current revision.
	Current(ctx context.Context) (Revision, error)

	// ReadTree returns the full catalog tree at a revision, including the
	// asset index. Fails with a not-found error for unknown revisions.
	ReadTree(ctx context.Context, revision Revision) (*stac.Tree, error)

	// Write atomically applies a change set on top of source and returns the
	// new revision.
	Write(ctx context.Context, source Revision, changes *stac.ChangeSet, message string) (Revision, error)

	// Revisions returns the metadata of every revision, newest first.
	// History-less backends return a single entry for the current state.
	Revisions(ctx context.Context) ([]RevisionInfo, error)

	// Revert makes target the current catalog state again by recording a new
	// revision whose tree equals target's tree. History stays append-only.
	// Fails with a validation error when target is not a strict ancestor of
	// the current revision, and with an unsupported error on history-less
	// backends.
	Revert(ctx context.Context, target Revision, message string) (Revision, error)

	// Log returns the raw file-level diffs of every revision in (from, to],
	// oldest to newest. A zero from means "from the initial revision,
	// inclusive". History-less backends return an empty slice.
	Log(ctx context.Context, from, to Revision) ([]RevisionDiff, error)

	// ReadDocument returns the content of a document file at a revision.
	ReadDocument(ctx context.Context, revision Revision, path string) ([]byte, error)

	// OpenAsset opens the content of an asset file at a revision, resolving
	// any large-file indirection the backend applies.
	OpenAsset(ctx context.Context, revision Revision, path string) (io.ReadCloser, error)

	// Sync transfers history between the store and a remote location. Fails
	// with an unsupported error on backends without a notion of remote.
	Sync(ctx context.Context, remote string, direction SyncDirection) error
}
