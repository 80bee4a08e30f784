package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/stac"
)

func TestTransactionCommit(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx, PurposeIngest)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = tx.Insert(&stac.Object{
		ID: "item-1", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-1"}`),
	}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	revision, err := tx.Commit(ctx, "add item-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if revision == tx.Source() {
		t.Error("commit did not advance the revision")
	}

	tree, err := repo.Tree(ctx, revision)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if !tree.Has("item-1") {
		t.Error("item-1 missing after commit")
	}

	// The transaction is closed now.
	if _, err := tx.Commit(ctx, "again"); !errors.Is(err, apperrors.ErrTransactionClosed) {
		t.Errorf("second commit err = %v, want ErrTransactionClosed", err)
	}
	if err := tx.Update("item-1", []byte(`{}`), nil); !errors.Is(err, apperrors.ErrTransactionClosed) {
		t.Errorf("stage after commit err = %v, want ErrTransactionClosed", err)
	}
}

func TestTransactionEmptyCommit(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	before, err := repo.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	tx, err := repo.Begin(ctx, PurposeIngest)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	revision, err := tx.Commit(ctx, "nothing staged")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if revision != before {
		t.Errorf("empty commit moved the head: %s", revision)
	}

	commits, err := repo.Commits(ctx)
	if err != nil {
		t.Fatalf("commits: %v", err)
	}
	if len(commits) != 1 {
		t.Errorf("revisions = %d, want 1", len(commits))
	}
}

func TestTransactionAbort(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx, PurposeIngest)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = tx.Insert(&stac.Object{
		ID: "item-1", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-1"}`),
	}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	tx.Abort()
	tx.Abort() // idempotent

	if _, err := tx.Commit(ctx, ""); !errors.Is(err, apperrors.ErrTransactionClosed) {
		t.Fatalf("commit after abort err = %v, want ErrTransactionClosed", err)
	}

	tree, err := repo.Tree(ctx, "")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if tree.Has("item-1") {
		t.Error("aborted insert reached the catalog")
	}
}

func TestTransactionPurposeGating(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seedRevisions(t, repo)
	ctx := context.Background()

	t.Run("ingest rejects delete", func(t *testing.T) {
		t.Parallel()
		tx, err := repo.Begin(ctx, PurposeIngest)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Abort()
		if err := tx.Delete("item-1"); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("prune rejects insert", func(t *testing.T) {
		t.Parallel()
		tx, err := repo.Begin(ctx, PurposePrune)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Abort()
		err = tx.Insert(&stac.Object{
			ID: "item-x", Kind: stac.KindItem, ParentID: "root",
			Document: []byte(`{"type":"Feature","id":"item-x"}`),
		}, nil)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("admin allows everything", func(t *testing.T) {
		t.Parallel()
		tx, err := repo.Begin(ctx, PurposeAdmin)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Abort()
		if err := tx.Delete("item-1"); err != nil {
			t.Errorf("delete: %v", err)
		}
		err = tx.Insert(&stac.Object{
			ID: "item-x", Kind: stac.KindItem, ParentID: "root",
			Document: []byte(`{"type":"Feature","id":"item-x"}`),
		}, nil)
		if err != nil {
			t.Errorf("insert: %v", err)
		}
	})

	t.Run("root deletion always rejected", func(t *testing.T) {
		t.Parallel()
		tx, err := repo.Begin(ctx, PurposeAdmin)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Abort()
		if err := tx.Delete("root"); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})
}

func TestTransactionConflict(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Begin(ctx, PurposeIngest)
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	second, err := repo.Begin(ctx, PurposeIngest)
	if err != nil {
		t.Fatalf("begin second: %v", err)
	}

	err = first.Insert(&stac.Object{
		ID: "item-a", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-a"}`),
	}, nil)
	if err != nil {
		t.Fatalf("insert into first: %v", err)
	}
	err = second.Insert(&stac.Object{
		ID: "item-b", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-b"}`),
	}, nil)
	if err != nil {
		t.Fatalf("insert into second: %v", err)
	}

	if _, err := first.Commit(ctx, "first wins"); err != nil {
		t.Fatalf("commit first: %v", err)
	}
	if _, err := second.Commit(ctx, "second loses"); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("commit second err = %v, want conflict", err)
	}

	// The losing transaction left nothing behind.
	tree, err := repo.Tree(ctx, "")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if !tree.Has("item-a") || tree.Has("item-b") {
		t.Error("head tree does not reflect the winning transaction alone")
	}
}
