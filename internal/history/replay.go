package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/stac"
)

// Replay rebuilds the catalog tree by applying entries oldest first on top of
// an empty tree. Object state is taken from the entry's own revision, so the
// result after replaying a full history matches ReadTree of the last entry's
// revision. Useful to audit that the object-level history is a faithful
// account of the file-level one.
func Replay(ctx context.Context, store backend.Store, entries []Entry) (*stac.Tree, error) {
	tree := stac.NewTree()

	for i := range entries {
		entry := &entries[i]

		revTree, err := store.ReadTree(ctx, entry.Revision)
		if err != nil {
			return nil, fmt.Errorf("read tree at %s: %w", entry.Revision, err)
		}

		// Deletions list every object of a removed subtree, so descendants
		// may already be gone once their ancestor is removed.
		for _, id := range entry.Deleted {
			if !tree.Has(id) {
				continue
			}
			if _, err := tree.Remove(id); err != nil {
				return nil, fmt.Errorf("replay delete of %s at %s: %w", id, entry.Revision, err)
			}
		}

		for _, update := range entry.Updated {
			cur := tree.Get(update.ID)
			next := revTree.Get(update.ID)
			if cur == nil || next == nil {
				return nil, apperrors.NotFoundObject(update.ID)
			}
			cur.Document = next.Clone().Document
			cur.Assets = next.Clone().Assets
		}

		// Parents before children: order insertions by depth at the
		// entry's revision.
		inserted := make([]string, len(entry.Inserted))
		copy(inserted, entry.Inserted)
		depths := make(map[string]int, len(inserted))
		for _, id := range inserted {
			chain, err := revTree.Chain(id)
			if err != nil {
				return nil, fmt.Errorf("replay insert of %s at %s: %w", id, entry.Revision, err)
			}
			depths[id] = len(chain)
		}
		sort.Slice(inserted, func(i, j int) bool {
			if depths[inserted[i]] != depths[inserted[j]] {
				return depths[inserted[i]] < depths[inserted[j]]
			}
			return inserted[i] < inserted[j]
		})
		for _, id := range inserted {
			obj := revTree.Get(id)
			if obj == nil {
				return nil, apperrors.NotFoundObject(id)
			}
			clone := obj.Clone()
			clone.Children = nil
			if err := tree.Insert(clone); err != nil {
				return nil, fmt.Errorf("replay insert of %s at %s: %w", id, entry.Revision, err)
			}
		}
	}
	return tree, nil
}
