package stac

import (
	"errors"
	"testing"

	"github.com/fntb/stac-repository/internal/apperrors"
)

func TestChangeSetStage(t *testing.T) {
	t.Parallel()

	t.Run("insert of existing id rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "col-1", Kind: KindCollection, ParentID: "root"},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("update of missing id rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{Kind: OpUpdate, ID: "ghost"})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("delete of missing id rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{Kind: OpDelete, ID: "ghost"})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("id staged twice rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		if err := cs.Stage(newTestTree(t), Operation{Kind: OpUpdate, ID: "item-1"}); err != nil {
			t.Fatalf("first stage: %v", err)
		}
		err := cs.Stage(newTestTree(t), Operation{Kind: OpUpdate, ID: "item-1"})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("insert under staged parent allowed", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "col-new", Kind: KindCollection, ParentID: "root"},
		}); err != nil {
			t.Fatalf("stage parent: %v", err)
		}
		if err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "item-new", Kind: KindItem, ParentID: "col-new"},
		}); err != nil {
			t.Fatalf("stage child under staged parent: %v", err)
		}
	})

	t.Run("asset path climbing out of the repository rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{
			Kind: OpInsert,
			Object: &Object{
				ID: "item-new", Kind: KindItem, ParentID: "col-1",
				Document: []byte(`{"id":"item-new"}`),
				Assets:   []AssetRef{{Path: "../../../escaped.txt"}},
			},
			Assets: []AssetSource{{Ref: AssetRef{Path: "../../../escaped.txt"}}},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("absolute asset path rejected on update", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{
			Kind: OpUpdate, ID: "item-1",
			Assets: []AssetSource{{Ref: AssetRef{Path: "/etc/passwd"}}},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("invalid id rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		err := cs.Stage(newTestTree(t), Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "has space", Kind: KindItem, ParentID: "col-1"},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})
}

func TestChangeSetStagedDeleteCoversSubtree(t *testing.T) {
	t.Parallel()

	t.Run("insert under a parent staged for deletion rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "col-1"}); err != nil {
			t.Fatalf("stage delete: %v", err)
		}
		err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "item-new", Kind: KindItem, ParentID: "col-1"},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("insert under a descendant of a staged deletion rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "root"}); err != nil {
			t.Fatalf("stage delete: %v", err)
		}
		err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "item-new", Kind: KindItem, ParentID: "col-1"},
		})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("update inside a staged deletion rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "col-1"}); err != nil {
			t.Fatalf("stage delete: %v", err)
		}
		err := cs.Stage(tree, Operation{Kind: OpUpdate, ID: "item-1"})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("delete inside a staged deletion rejected", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "col-1"}); err != nil {
			t.Fatalf("stage delete: %v", err)
		}
		err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "item-1"})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})

	t.Run("child delete before parent delete still allowed", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "item-1"}); err != nil {
			t.Fatalf("stage child delete: %v", err)
		}
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "col-1"}); err != nil {
			t.Fatalf("stage parent delete: %v", err)
		}
	})

	t.Run("reinsert of the deleted id itself still collapses", func(t *testing.T) {
		t.Parallel()
		cs := NewChangeSet()
		tree := newTestTree(t)
		if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "col-1"}); err != nil {
			t.Fatalf("stage delete: %v", err)
		}
		if err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "col-1", Kind: KindCollection, ParentID: "root"},
		}); err != nil {
			t.Fatalf("stage reinsert: %v", err)
		}
		// The collapse lifted the deletion, so children of col-1 are
		// reachable again.
		if err := cs.Stage(tree, Operation{
			Kind:   OpInsert,
			Object: &Object{ID: "item-new", Kind: KindItem, ParentID: "col-1"},
		}); err != nil {
			t.Fatalf("stage insert after collapse: %v", err)
		}
	})
}

func TestChangeSetDeleteInsertCollapsesToUpdate(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t)
	cs := NewChangeSet()

	if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "item-1"}); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	if err := cs.Stage(tree, Operation{
		Kind:   OpInsert,
		Object: &Object{ID: "item-1", Kind: KindItem, ParentID: "col-1", Document: []byte(`{"id":"item-1"}`)},
	}); err != nil {
		t.Fatalf("stage reinsert: %v", err)
	}

	ops := cs.Operations()
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(ops))
	}
	if ops[0].Kind != OpUpdate {
		t.Errorf("collapsed kind = %s, want update", ops[0].Kind)
	}
	if string(ops[0].Document) != `{"id":"item-1"}` {
		t.Errorf("collapsed document = %s", ops[0].Document)
	}
}

func TestChangeSetReinsertUnderDifferentParentRejected(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t)
	cs := NewChangeSet()

	if err := cs.Stage(tree, Operation{Kind: OpDelete, ID: "item-1"}); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	err := cs.Stage(tree, Operation{
		Kind:   OpInsert,
		Object: &Object{ID: "item-1", Kind: KindItem, ParentID: "col-2"},
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestChangeSetApply(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t)
	cs := NewChangeSet()

	ops := []Operation{
		{Kind: OpDelete, ID: "col-2"},
		{Kind: OpUpdate, ID: "item-1", Document: []byte(`{"id":"item-1","v":2}`), Assets: []AssetSource{
			{Ref: AssetRef{Path: "b01.tif", Size: 3}},
		}},
		{Kind: OpInsert, Object: &Object{ID: "item-3", Kind: KindItem, ParentID: "col-1"}},
	}
	for _, op := range ops {
		if err := cs.Stage(tree, op); err != nil {
			t.Fatalf("stage %s %s: %v", op.Kind, op.ID, err)
		}
	}

	next, err := cs.Apply(tree)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if next.Has("col-2") {
		t.Error("col-2 still present after apply")
	}
	if !next.Has("item-3") {
		t.Error("item-3 missing after apply")
	}
	updated := next.Get("item-1")
	if string(updated.Document) != `{"id":"item-1","v":2}` {
		t.Errorf("item-1 document = %s", updated.Document)
	}
	if len(updated.Assets) != 1 || updated.Assets[0].Path != "b01.tif" {
		t.Errorf("item-1 assets = %+v", updated.Assets)
	}

	// The source tree stays untouched: Apply works on a clone.
	if !tree.Has("col-2") || tree.Has("item-3") {
		t.Error("apply mutated the source tree")
	}
}
