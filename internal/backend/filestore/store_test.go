package filestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

const testRootDoc = `{"type":"Catalog","id":"root","description":"test"}`

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Init(t.TempDir(), []byte(testRootDoc))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func memAsset(rel, content string) stac.AssetSource {
	return stac.AssetSource{
		Ref: stac.AssetRef{Path: rel},
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func stageInsert(t *testing.T, tree *stac.Tree, changes *stac.ChangeSet, obj *stac.Object, assets ...stac.AssetSource) {
	t.Helper()
	if err := changes.Stage(tree, stac.Operation{Kind: stac.OpInsert, Object: obj, Assets: assets}); err != nil {
		t.Fatalf("stage insert %s: %v", obj.ID, err)
	}
}

func TestInit(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-empty directory", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "leftover"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Init(dir, []byte(testRootDoc)); !errors.Is(err, apperrors.ErrRepositoryExists) {
			t.Fatalf("err = %v, want ErrRepositoryExists", err)
		}
	})

	t.Run("open requires a root catalog", func(t *testing.T) {
		t.Parallel()
		if _, err := Open(t.TempDir()); !errors.Is(err, apperrors.ErrRepositoryNotFound) {
			t.Fatalf("err = %v, want ErrRepositoryNotFound", err)
		}
	})
}

func TestWriteAndReadTree(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	tree, err := store.ReadTree(ctx, backend.RevisionCurrent)
	if err != nil {
		t.Fatalf("read tree: %v", err)
	}
	if tree.RootID() != "root" || tree.Len() != 1 {
		t.Fatalf("initial tree: root %q len %d", tree.RootID(), tree.Len())
	}

	changes := stac.NewChangeSet()
	stageInsert(t, tree, changes, &stac.Object{
		ID: "col-1", Kind: stac.KindCollection, ParentID: "root",
		Document: []byte(`{"type":"Collection","id":"col-1"}`),
	})
	stageInsert(t, tree, changes, &stac.Object{
		ID: "item-1", Kind: stac.KindItem, ParentID: "col-1",
		Document: []byte(`{"type":"Feature","id":"item-1"}`),
		Assets:   []stac.AssetRef{{Path: "b01.tif"}},
	}, memAsset("b01.tif", "pixels"))

	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, "ingest"); err != nil {
		t.Fatalf("write: %v", err)
	}

	tree, err = store.ReadTree(ctx, backend.RevisionCurrent)
	if err != nil {
		t.Fatalf("read tree after write: %v", err)
	}
	if tree.Len() != 3 {
		t.Errorf("len = %d, want 3", tree.Len())
	}
	item := tree.Get("item-1")
	if item == nil || item.ParentID != "col-1" {
		t.Fatalf("item-1 = %+v", item)
	}
	if len(item.Assets) != 1 || item.Assets[0].Path != "b01.tif" {
		t.Errorf("item-1 assets = %+v", item.Assets)
	}

	reader, err := store.OpenAsset(ctx, backend.RevisionCurrent, "col-1/item-1/assets/b01.tif")
	if err != nil {
		t.Fatalf("open asset: %v", err)
	}
	content, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil || string(content) != "pixels" {
		t.Errorf("asset content = %q, err %v", content, err)
	}
}

func TestWriteDeleteRemovesSubtree(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	tree, _ := store.ReadTree(ctx, backend.RevisionCurrent)
	changes := stac.NewChangeSet()
	stageInsert(t, tree, changes, &stac.Object{
		ID: "col-1", Kind: stac.KindCollection, ParentID: "root",
		Document: []byte(`{"type":"Collection","id":"col-1"}`),
	})
	stageInsert(t, tree, changes, &stac.Object{
		ID: "item-1", Kind: stac.KindItem, ParentID: "col-1",
		Document: []byte(`{"type":"Feature","id":"item-1"}`),
		Assets:   []stac.AssetRef{{Path: "b01.tif"}},
	}, memAsset("b01.tif", "pixels"))
	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	tree, _ = store.ReadTree(ctx, backend.RevisionCurrent)
	changes = stac.NewChangeSet()
	if err := changes.Stage(tree, stac.Operation{Kind: stac.OpDelete, ID: "col-1"}); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); err != nil {
		t.Fatalf("delete write: %v", err)
	}

	tree, _ = store.ReadTree(ctx, backend.RevisionCurrent)
	if tree.Len() != 1 {
		t.Errorf("len after delete = %d, want 1", tree.Len())
	}
	if _, err := os.Stat(filepath.Join(store.rootPath, "col-1")); !os.IsNotExist(err) {
		t.Error("col-1 directory still present after subtree delete")
	}
}

func TestWriteRestoresOnFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	tree, _ := store.ReadTree(ctx, backend.RevisionCurrent)
	changes := stac.NewChangeSet()
	stageInsert(t, tree, changes, &stac.Object{
		ID: "item-1", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-1"}`),
	})
	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	// A change set whose asset source fails mid-stage: the delete is parked
	// first, then the failing asset aborts the write.
	tree, _ = store.ReadTree(ctx, backend.RevisionCurrent)
	changes = stac.NewChangeSet()
	if err := changes.Stage(tree, stac.Operation{Kind: stac.OpDelete, ID: "item-1"}); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	stageInsert(t, tree, changes, &stac.Object{
		ID: "item-2", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-2"}`),
		Assets:   []stac.AssetRef{{Path: "broken.tif"}},
	}, stac.AssetSource{
		Ref:  stac.AssetRef{Path: "broken.tif"},
		Open: func() (io.ReadCloser, error) { return nil, errors.New("source unavailable") },
	})

	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); err == nil {
		t.Fatal("expected write to fail")
	}

	// Previous state is fully restored.
	tree, err := store.ReadTree(ctx, backend.RevisionCurrent)
	if err != nil {
		t.Fatalf("read tree after failed write: %v", err)
	}
	if !tree.Has("item-1") {
		t.Error("item-1 lost by failed write")
	}
	if tree.Has("item-2") {
		t.Error("item-2 partially applied by failed write")
	}

	// And the lock is released: a follow-up write succeeds.
	changes = stac.NewChangeSet()
	stageInsert(t, tree, changes, &stac.Object{
		ID: "item-3", Kind: stac.KindItem, ParentID: "root",
		Document: []byte(`{"type":"Feature","id":"item-3"}`),
	})
	if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); err != nil {
		t.Fatalf("write after recovery: %v", err)
	}
}

func TestWriteConflicts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	t.Run("stale source revision", func(t *testing.T) {
		t.Parallel()
		_, err := store.Write(ctx, backend.Revision("something-else"), stac.NewChangeSet(), "")
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})

	t.Run("held lock file", func(t *testing.T) {
		lockPath := filepath.Join(store.rootPath, lockName)
		if err := os.WriteFile(lockPath, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Remove(lockPath) })

		tree, _ := store.ReadTree(ctx, backend.RevisionCurrent)
		changes := stac.NewChangeSet()
		stageInsert(t, tree, changes, &stac.Object{
			ID: "item-x", Kind: stac.KindItem, ParentID: "root",
			Document: []byte(`{"type":"Feature","id":"item-x"}`),
		})
		if _, err := store.Write(ctx, backend.RevisionCurrent, changes, ""); !errors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})
}

func TestHistoryUnsupported(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Revert(ctx, backend.RevisionCurrent, ""); !errors.Is(err, apperrors.ErrUnsupported) {
		t.Errorf("Revert err = %v, want unsupported", err)
	}
	if err := store.Sync(ctx, "somewhere", backend.SyncPush); !errors.Is(err, apperrors.ErrUnsupported) {
		t.Errorf("Sync err = %v, want unsupported", err)
	}

	diffs, err := store.Log(ctx, "", backend.RevisionCurrent)
	if err != nil || diffs != nil {
		t.Errorf("Log = %v, %v, want empty", diffs, err)
	}

	revisions, err := store.Revisions(ctx)
	if err != nil || len(revisions) != 1 || revisions[0].Revision != backend.RevisionCurrent {
		t.Errorf("Revisions = %+v, %v", revisions, err)
	}
}
