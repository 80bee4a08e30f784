package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

// Purpose restricts which operations a transaction may stage. Ingestion
// inserts and updates, pruning deletes, administrative transactions do both.
type Purpose int

const (
	// PurposeIngest allows inserts and updates.
	PurposeIngest Purpose = iota
	// PurposePrune allows deletes.
	PurposePrune
	// PurposeAdmin allows every operation kind.
	PurposeAdmin
)

func (p Purpose) String() string {
	switch p {
	case PurposeIngest:
		return "ingest"
	case PurposePrune:
		return "prune"
	case PurposeAdmin:
		return "admin"
	}
	return "unknown"
}

func (p Purpose) allows(kind stac.OpKind) bool {
	switch p {
	case PurposeIngest:
		return kind == stac.OpInsert || kind == stac.OpUpdate
	case PurposePrune:
		return kind == stac.OpDelete
	case PurposeAdmin:
		return true
	}
	return false
}

type txState int

const (
	txOpen txState = iota
	txCommitted
	txAborted
)

// Transaction stages a batch of catalog mutations against a snapshot of the
// current revision and commits them atomically. Staging validates eagerly, so
// a transaction that reaches Commit can only fail on a concurrent write or a
// backend failure, never on its own content.
type Transaction struct {
	id      string
	repo    *Repository
	purpose Purpose

	mu      sync.Mutex
	state   txState
	source  backend.Revision
	tree    *stac.Tree
	changes *stac.ChangeSet
}

// Begin opens a transaction pinned to the current revision.
func (r *Repository) Begin(ctx context.Context, purpose Purpose) (*Transaction, error) {
	source, err := r.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := r.store.ReadTree(ctx, source)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		id:      uuid.NewString(),
		repo:    r,
		purpose: purpose,
		source:  source,
		tree:    tree,
		changes: stac.NewChangeSet(),
	}
	r.logger.DebugContext(ctx, "transaction opened",
		"transaction", tx.id,
		"purpose", purpose.String(),
		"source", string(source))
	return tx, nil
}

// ID returns the transaction id.
func (t *Transaction) ID() string {
	return t.id
}

// Source returns the revision the transaction is pinned to.
func (t *Transaction) Source() backend.Revision {
	return t.source
}

// SourceTree returns the catalog tree at the source revision. Callers must
// not mutate it.
func (t *Transaction) SourceTree() *stac.Tree {
	return t.tree
}

// Len returns the number of staged operations.
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changes.Len()
}

// Insert stages the creation of a new object.
func (t *Transaction) Insert(obj *stac.Object, assets []stac.AssetSource) error {
	return t.stage(stac.Operation{
		Kind:   stac.OpInsert,
		Object: obj,
		Assets: assets,
	})
}

// Update stages the replacement of an object's document and asset set.
func (t *Transaction) Update(id string, document []byte, assets []stac.AssetSource) error {
	return t.stage(stac.Operation{
		Kind:     stac.OpUpdate,
		ID:       id,
		Document: document,
		Assets:   assets,
	})
}

// Delete stages the removal of an object and its descendant subtree. The
// catalog root cannot be deleted: a repository always holds a root document.
func (t *Transaction) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return apperrors.ErrTransactionClosed
	}
	if id == t.tree.RootID() {
		return apperrors.ValidationObject("the catalog root cannot be deleted", id)
	}
	return t.stageLocked(stac.Operation{Kind: stac.OpDelete, ID: id})
}

func (t *Transaction) stage(op stac.Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return apperrors.ErrTransactionClosed
	}
	return t.stageLocked(op)
}

func (t *Transaction) stageLocked(op stac.Operation) error {
	if !t.purpose.allows(op.Kind) {
		return apperrors.Validation(
			fmt.Sprintf("%s operation not allowed in a %s transaction", op.Kind, t.purpose))
	}
	return t.changes.Stage(t.tree, op)
}

// Commit writes the staged operations as one new revision and closes the
// transaction. An empty transaction commits to its source revision without
// writing. On a conflict with a concurrent writer the error matches
// apperrors.ErrConflict and nothing is written; the caller decides whether to
// retry with a fresh transaction.
func (t *Transaction) Commit(ctx context.Context, message string) (backend.Revision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return "", apperrors.ErrTransactionClosed
	}

	if t.changes.Len() == 0 {
		t.state = txCommitted
		t.repo.logger.DebugContext(ctx, "transaction empty, nothing to commit", "transaction", t.id)
		return t.source, nil
	}

	revision, err := t.repo.store.Write(ctx, t.source, t.changes, message)
	if err != nil {
		return "", fmt.Errorf("commit transaction %s: %w", t.id, err)
	}

	t.state = txCommitted
	t.repo.logger.InfoContext(ctx, "transaction committed",
		"transaction", t.id,
		"operations", t.changes.Len(),
		"revision", string(revision))
	return revision, nil
}

// Abort discards the staged operations and closes the transaction. Aborting a
// closed transaction is a no-op.
func (t *Transaction) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return
	}
	t.state = txAborted
}
