package stac

import (
	"fmt"
	"io"
	"os"

	"github.com/fntb/stac-repository/internal/apperrors"
)

// OpKind is the kind of one staged operation.
type OpKind int

const (
	// OpInsert creates an object that does not exist in the source revision.
	OpInsert OpKind = iota
	// OpUpdate replaces the document and asset set of an existing object.
	OpUpdate
	// OpDelete removes an existing object and its descendant subtree.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// AssetSource is one asset payload staged for upload: the declared reference
// plus a way to open its bytes. Open is called exactly once per write attempt.
type AssetSource struct {
	Ref  AssetRef
	Open func() (io.ReadCloser, error)
}

// FileAssetSource builds an AssetSource backed by a local file.
func FileAssetSource(rel, localPath string) AssetSource {
	return AssetSource{
		Ref:  AssetRef{Path: rel},
		Open: func() (io.ReadCloser, error) { return os.Open(localPath) },
	}
}

// Operation is one staged mutation. The populated fields depend on Kind:
// Insert carries Object (with ParentID set) and Assets; Update carries ID,
// Document and Assets (the new canonical asset set); Delete carries ID only.
type Operation struct {
	Kind     OpKind
	ID       string
	Object   *Object
	Document []byte
	Assets   []AssetSource
}

// ChangeSet is the ordered batch of operations one transaction stages.
// Within one change set an id appears in at most one surviving operation;
// a Delete followed by an Insert of the same id folds into an Update, which
// the history engine later reports as such.
type ChangeSet struct {
	ops     []Operation
	byID    map[string]int
	staged  map[string]struct{} // ids inserted earlier in this change set
	deleted map[string]struct{} // ids deleted earlier in this change set
}

// NewChangeSet creates an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		byID:    make(map[string]int),
		staged:  make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// Len returns the number of staged operations.
func (cs *ChangeSet) Len() int {
	return len(cs.ops)
}

// Operations returns the staged operations in order.
func (cs *ChangeSet) Operations() []Operation {
	return cs.ops
}

// HasStaged reports whether an Insert for the id was staged in this change
// set, used for parent-existence checks when a catalog and its children are
// created together.
func (cs *ChangeSet) HasStaged(id string) bool {
	_, ok := cs.staged[id]
	return ok
}

// Stage validates one operation against the source tree and the operations
// already staged, then appends it. source may be nil for a repository that is
// still empty.
func (cs *ChangeSet) Stage(source *Tree, op Operation) error {
	id := op.ID
	if op.Kind == OpInsert {
		if op.Object == nil {
			return apperrors.Validation("insert without object")
		}
		id = op.Object.ID
	}
	if err := ValidateID(id); err != nil {
		return apperrors.ValidationObject(err.Error(), id)
	}
	// Asset paths land on disk below the object's assets directory, so a
	// traversal in one would place the file outside the repository.
	for _, src := range op.Assets {
		if err := ValidateAssetPath(src.Ref.Path); err != nil {
			return apperrors.ValidationObject(err.Error(), id)
		}
	}
	if op.Kind == OpInsert {
		for _, ref := range op.Object.Assets {
			if err := ValidateAssetPath(ref.Path); err != nil {
				return apperrors.ValidationObject(err.Error(), id)
			}
		}
	}

	inSource := source != nil && source.Has(id)

	switch op.Kind {
	case OpInsert:
		if prev, dup := cs.byID[id]; dup {
			// Delete+Insert of one id folds into an Update so the history
			// presents it as the single logical change it is.
			if cs.ops[prev].Kind == OpDelete {
				if source != nil {
					if existing := source.Get(id); existing != nil && existing.ParentID != op.Object.ParentID {
						return apperrors.ValidationObject("reinsert under a different parent", id)
					}
				}
				cs.ops[prev] = Operation{
					Kind:     OpUpdate,
					ID:       id,
					Document: op.Object.Document,
					Assets:   op.Assets,
				}
				delete(cs.deleted, id)
				return nil
			}
			return apperrors.ValidationObject("id staged twice in one change set", id)
		}
		if inSource {
			return apperrors.ValidationObject("insert of an id that exists in the source revision", id)
		}
		if err := cs.checkParent(source, op.Object); err != nil {
			return err
		}
		cs.staged[id] = struct{}{}
	case OpUpdate:
		if _, dup := cs.byID[id]; dup {
			return apperrors.ValidationObject("id staged twice in one change set", id)
		}
		if !inSource {
			return apperrors.ValidationObject("update of an id missing from the source revision", id)
		}
		if cs.coveredByDelete(source, id) {
			return apperrors.ValidationObject("update of an object staged for deletion in this change set", id)
		}
	case OpDelete:
		if _, dup := cs.byID[id]; dup {
			return apperrors.ValidationObject("id staged twice in one change set", id)
		}
		if !inSource {
			return apperrors.ValidationObject("delete of an id missing from the source revision", id)
		}
		if cs.coveredByDelete(source, id) {
			return apperrors.ValidationObject("delete already covered by a staged deletion", id)
		}
		cs.deleted[id] = struct{}{}
	default:
		return apperrors.Validation(fmt.Sprintf("unknown operation kind %d", op.Kind))
	}

	op.ID = id
	cs.byID[id] = len(cs.ops)
	cs.ops = append(cs.ops, op)
	return nil
}

func (cs *ChangeSet) checkParent(source *Tree, obj *Object) error {
	if obj.ParentID == "" {
		if source != nil && source.RootID() != "" {
			return apperrors.ValidationObject("insert without parent but the catalog already has a root", obj.ID)
		}
		return nil
	}
	if source != nil && source.Has(obj.ParentID) {
		// A delete staged earlier takes the parent (or its whole subtree)
		// away before the insert applies.
		if cs.coveredByDelete(source, obj.ParentID) {
			return apperrors.ValidationObject(
				fmt.Sprintf("parent %s is staged for deletion in this change set", obj.ParentID),
				obj.ID,
			)
		}
		return nil
	}
	if cs.HasStaged(obj.ParentID) {
		return nil
	}
	return apperrors.ValidationObject(
		fmt.Sprintf("parent %s neither in the source revision nor staged earlier", obj.ParentID),
		obj.ID,
	)
}

// coveredByDelete reports whether the id or one of its ancestors in source is
// staged for deletion earlier in this change set. Deletes take the whole
// descendant subtree with them, so anything below a staged delete is gone too.
func (cs *ChangeSet) coveredByDelete(source *Tree, id string) bool {
	if len(cs.deleted) == 0 || source == nil {
		return false
	}
	chain, err := source.Chain(id)
	if err != nil {
		return false
	}
	for _, ancestor := range chain {
		if _, ok := cs.deleted[ancestor]; ok {
			return true
		}
	}
	return false
}

// Apply replays the change set onto a clone of source and returns the
// resulting tree. Backends use it to derive file-level changes; it performs
// the same invariant checks as Stage so a hand-built change set cannot
// bypass validation.
func (cs *ChangeSet) Apply(source *Tree) (*Tree, error) {
	var next *Tree
	if source == nil {
		next = NewTree()
	} else {
		next = source.Clone()
	}

	for i := range cs.ops {
		op := &cs.ops[i]
		switch op.Kind {
		case OpInsert:
			if err := next.Insert(op.Object.Clone()); err != nil {
				return nil, apperrors.ValidationObject(err.Error(), op.ID)
			}
		case OpUpdate:
			obj := next.Get(op.ID)
			if obj == nil {
				return nil, apperrors.ValidationObject("update of an id missing from the source revision", op.ID)
			}
			obj.Document = append([]byte(nil), op.Document...)
			obj.Assets = nil
			for _, asset := range op.Assets {
				obj.Assets = append(obj.Assets, asset.Ref)
			}
		case OpDelete:
			if _, err := next.Remove(op.ID); err != nil {
				return nil, apperrors.ValidationObject(err.Error(), op.ID)
			}
		}
	}
	return next, nil
}
