// Package history reinterprets a backend's raw file-level revision log as
// STAC-object-identity-level change sets: which object ids each revision
// inserted, updated, or deleted, independent of which backend produced it.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wI2L/jsondiff"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

// Order selects the presentation order of a history listing.
type Order int

const (
	// OldestFirst yields entries oldest to newest.
	OldestFirst Order = iota
	// NewestFirst yields entries newest to oldest.
	NewestFirst
)

// Update describes one updated object within an entry.
type Update struct {
	ID string
	// AssetsOnly is true when only asset files changed and the document
	// itself is untouched.
	AssetsOnly bool
	// DocumentPatch is the JSON patch transforming the parent revision's
	// document into this revision's, empty for asset-only updates.
	DocumentPatch jsondiff.Patch
}

// Entry is the object-identity-level description of what one revision changed
// relative to its parent. Groups are each sorted by object id, and deletions
// are presented before updates before insertions, so the rendering is stable
// regardless of backend-internal diff ordering.
type Entry struct {
	Revision backend.Revision
	Parent   backend.Revision
	Time     time.Time
	Author   string
	Message  string

	Deleted  []string
	Updated  []Update
	Inserted []string
}

// Touches reports whether the entry changed the given object id.
func (e *Entry) Touches(id string) bool {
	for _, did := range e.Deleted {
		if did == id {
			return true
		}
	}
	for _, u := range e.Updated {
		if u.ID == id {
			return true
		}
	}
	for _, iid := range e.Inserted {
		if iid == id {
			return true
		}
	}
	return false
}

// objectChange accumulates the raw file changes touching one object id.
type objectChange struct {
	docAdded     bool
	docDeleted   bool
	docModified  bool
	docOldPath   string
	docNewPath   string
	assetTouched bool
}

// Log walks the backend's revision log over (from, to] and reduces each
// revision to an Entry. A zero from starts at the initial revision.
func Log(ctx context.Context, store backend.Store, from, to backend.Revision, order Order) ([]Entry, error) {
	diffs, err := store.Log(ctx, from, to)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(diffs))
	for i := range diffs {
		entry, err := Reduce(ctx, store, &diffs[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if order == NewestFirst {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

// ForObject filters a history down to the entries touching one object id.
func ForObject(entries []Entry, id string) []Entry {
	var filtered []Entry
	for i := range entries {
		if entries[i].Touches(id) {
			filtered = append(filtered, entries[i])
		}
	}
	return filtered
}

// Reduce turns one raw file-level revision diff into an object-identity-level
// entry. Classification is per object id, not per path: a document added
// where none existed is an insertion, a document removed is a deletion, and
// everything else (document edits, asset-only changes, a document removed
// and re-added under a new path in the same revision) is an update.
func Reduce(ctx context.Context, store backend.Store, diff *backend.RevisionDiff) (Entry, error) {
	entry := Entry{
		Revision: diff.Info.Revision,
		Parent:   diff.Info.Parent,
		Time:     diff.Info.Time,
		Author:   diff.Info.Author,
		Message:  diff.Info.Message,
	}

	changes := make(map[string]*objectChange)
	resolver := newRootResolver(store, diff)

	for _, file := range diff.Files {
		parsed := stac.ParsePath(file.Path)
		if parsed.Class == stac.PathOther {
			continue
		}

		id := parsed.ObjectID
		if parsed.IsRoot {
			rootID, err := resolver.rootID(ctx, file.Action == backend.FileDeleted)
			if err != nil {
				return Entry{}, err
			}
			id = rootID
		}

		change := changes[id]
		if change == nil {
			change = &objectChange{}
			changes[id] = change
		}

		if parsed.Class == stac.PathAsset {
			change.assetTouched = true
			continue
		}

		switch file.Action {
		case backend.FileAdded:
			change.docAdded = true
			change.docNewPath = file.Path
		case backend.FileDeleted:
			change.docDeleted = true
			change.docOldPath = file.Path
		case backend.FileModified:
			change.docModified = true
			change.docOldPath = file.Path
			change.docNewPath = file.Path
		}
	}

	for id, change := range changes {
		switch {
		case change.docAdded && !change.docDeleted:
			entry.Inserted = append(entry.Inserted, id)
		case change.docDeleted && !change.docAdded:
			entry.Deleted = append(entry.Deleted, id)
		default:
			update, err := describeUpdate(ctx, store, diff, id, change)
			if err != nil {
				return Entry{}, err
			}
			entry.Updated = append(entry.Updated, update)
		}
	}

	sort.Strings(entry.Deleted)
	sort.Strings(entry.Inserted)
	sort.Slice(entry.Updated, func(i, j int) bool { return entry.Updated[i].ID < entry.Updated[j].ID })
	return entry, nil
}

// describeUpdate builds the update detail, comparing the document across the
// revision boundary when it was touched.
func describeUpdate(ctx context.Context, store backend.Store, diff *backend.RevisionDiff, id string, change *objectChange) (Update, error) {
	update := Update{ID: id}

	docTouched := change.docModified || (change.docAdded && change.docDeleted)
	if !docTouched {
		update.AssetsOnly = true
		return update, nil
	}
	if diff.Info.Parent == "" {
		// No parent to compare against, leave the patch empty.
		return update, nil
	}

	oldDoc, err := store.ReadDocument(ctx, diff.Info.Parent, change.docOldPath)
	if err != nil {
		return Update{}, fmt.Errorf("read previous document of %s: %w", id, err)
	}
	newDoc, err := store.ReadDocument(ctx, diff.Info.Revision, change.docNewPath)
	if err != nil {
		return Update{}, fmt.Errorf("read current document of %s: %w", id, err)
	}

	patch, err := jsondiff.CompareJSON(oldDoc, newDoc)
	if err != nil {
		return Update{}, apperrors.BackendIO(fmt.Sprintf("diff documents of %s", id), err)
	}
	update.DocumentPatch = patch
	return update, nil
}

// rootResolver resolves the root object's id lazily: the id only lives inside
// the root document, so changes to root-owned paths need one blob read at the
// revision (or its parent, when the root itself was deleted).
type rootResolver struct {
	store   backend.Store
	diff    *backend.RevisionDiff
	current string
	parent  string
}

func newRootResolver(store backend.Store, diff *backend.RevisionDiff) *rootResolver {
	return &rootResolver{store: store, diff: diff}
}

func (r *rootResolver) rootID(ctx context.Context, fromParent bool) (string, error) {
	if fromParent {
		if r.parent != "" {
			return r.parent, nil
		}
		if r.diff.Info.Parent == "" {
			return "", apperrors.Validation("root document deleted in the initial revision")
		}
		doc, err := r.store.ReadDocument(ctx, r.diff.Info.Parent, stac.CatalogDocName)
		if err != nil {
			return "", fmt.Errorf("read parent root document: %w", err)
		}
		id, err := stac.IDOfDocument(doc)
		if err != nil {
			return "", apperrors.Validation(fmt.Sprintf("parent root document: %v", err))
		}
		r.parent = id
		return id, nil
	}

	if r.current != "" {
		return r.current, nil
	}
	doc, err := r.store.ReadDocument(ctx, r.diff.Info.Revision, stac.CatalogDocName)
	if err != nil {
		return "", fmt.Errorf("read root document: %w", err)
	}
	id, err := stac.IDOfDocument(doc)
	if err != nil {
		return "", apperrors.Validation(fmt.Sprintf("root document: %v", err))
	}
	r.current = id
	return id, nil
}
