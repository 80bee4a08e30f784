package stac

import (
	"fmt"
	"sort"
)

// Tree is the arena of catalog objects at one revision, indexed by id.
// Hierarchy is stored as id references; an object attaches only under an
// already-present parent, which keeps the structure a tree.
type Tree struct {
	rootID  string
	objects map[string]*Object
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{objects: make(map[string]*Object)}
}

// RootID returns the root object id, or "" for an empty tree.
func (t *Tree) RootID() string {
	return t.rootID
}

// Root returns the root object, or nil for an empty tree.
func (t *Tree) Root() *Object {
	if t.rootID == "" {
		return nil
	}
	return t.objects[t.rootID]
}

// Len returns the number of objects in the tree.
func (t *Tree) Len() int {
	return len(t.objects)
}

// Get returns the object with the given id, or nil.
func (t *Tree) Get(id string) *Object {
	return t.objects[id]
}

// Has reports whether an object with the given id exists.
func (t *Tree) Has(id string) bool {
	_, ok := t.objects[id]
	return ok
}

// Insert adds an object under its ParentID. The first inserted object becomes
// the root and must have no parent.
func (t *Tree) Insert(obj *Object) error {
	if err := ValidateID(obj.ID); err != nil {
		return err
	}
	if t.Has(obj.ID) {
		return fmt.Errorf("object %s already in tree", obj.ID)
	}

	if t.rootID == "" {
		if obj.ParentID != "" {
			return fmt.Errorf("first object %s must be the root but has parent %s", obj.ID, obj.ParentID)
		}
		if obj.Kind == KindItem {
			return fmt.Errorf("root object %s cannot be an Item", obj.ID)
		}
		t.rootID = obj.ID
		t.objects[obj.ID] = obj
		return nil
	}

	if obj.ParentID == "" {
		return fmt.Errorf("object %s has no parent but root %s already exists", obj.ID, t.rootID)
	}
	parent := t.objects[obj.ParentID]
	if parent == nil {
		return fmt.Errorf("parent %s of object %s not in tree", obj.ParentID, obj.ID)
	}
	if !parent.Kind.CanHaveChildren() {
		return fmt.Errorf("parent %s of object %s is an Item", obj.ParentID, obj.ID)
	}

	parent.Children = append(parent.Children, obj.ID)
	t.objects[obj.ID] = obj
	return nil
}

// Remove detaches the object and its whole descendant subtree from the arena
// and returns the removed ids in depth-first order, the object itself first.
func (t *Tree) Remove(id string) ([]string, error) {
	obj := t.objects[id]
	if obj == nil {
		return nil, fmt.Errorf("object %s not in tree", id)
	}

	removed := t.collect(id)
	for _, rid := range removed {
		delete(t.objects, rid)
	}

	if id == t.rootID {
		t.rootID = ""
		return removed, nil
	}

	parent := t.objects[obj.ParentID]
	if parent != nil {
		children := parent.Children[:0]
		for _, cid := range parent.Children {
			if cid != id {
				children = append(children, cid)
			}
		}
		parent.Children = children
	}
	return removed, nil
}

func (t *Tree) collect(id string) []string {
	ids := []string{id}
	if obj := t.objects[id]; obj != nil {
		for _, cid := range obj.Children {
			ids = append(ids, t.collect(cid)...)
		}
	}
	return ids
}

// Chain returns the chain of ids from the root down to the object, both ends
// included. This is the input of the canonical path scheme.
func (t *Tree) Chain(id string) ([]string, error) {
	var chain []string
	for cursor := id; ; {
		obj := t.objects[cursor]
		if obj == nil {
			return nil, fmt.Errorf("object %s not in tree", cursor)
		}
		chain = append([]string{cursor}, chain...)
		if obj.ParentID == "" {
			break
		}
		cursor = obj.ParentID
	}
	if chain[0] != t.rootID {
		return nil, fmt.Errorf("object %s is not attached to root %s", id, t.rootID)
	}
	return chain, nil
}

// Walk visits every object depth-first from the root, children in insertion
// order, so traversal is deterministic for a given tree.
func (t *Tree) Walk(visit func(obj *Object, chain []string) error) error {
	if t.rootID == "" {
		return nil
	}
	return t.walk(t.rootID, []string{t.rootID}, visit)
}

func (t *Tree) walk(id string, chain []string, visit func(obj *Object, chain []string) error) error {
	obj := t.objects[id]
	if err := visit(obj, chain); err != nil {
		return err
	}
	for _, cid := range obj.Children {
		if err := t.walk(cid, append(chain, cid), visit); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns all object ids sorted lexicographically.
func (t *Tree) IDs() []string {
	ids := make([]string, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		rootID:  t.rootID,
		objects: make(map[string]*Object, len(t.objects)),
	}
	for id, obj := range t.objects {
		clone.objects[id] = obj.Clone()
	}
	return clone
}
