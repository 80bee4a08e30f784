package backend

import (
	"fmt"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/stac"
)

// FileWrite is one file to materialize. Exactly one of Content or Asset is
// set: documents carry their bytes, assets are opened from their source at
// write time so large payloads stream instead of loading into memory.
type FileWrite struct {
	Path    string
	Content []byte
	Asset   *stac.AssetSource
}

// WritePlan is the file-level projection of a change set: the paths to remove
// and the files to write, in apply order (removals first).
type WritePlan struct {
	Next    *stac.Tree
	Deletes []string
	Writes  []FileWrite
}

// Plan projects a change set onto file-level operations using the canonical
// path scheme. cur is the tree at the source revision (nil for an empty
// repository); the returned plan carries the resulting tree so backends can
// validate and callers can avoid a re-read.
func Plan(cur *stac.Tree, changes *stac.ChangeSet) (*WritePlan, error) {
	next, err := changes.Apply(cur)
	if err != nil {
		return nil, err
	}

	plan := &WritePlan{Next: next}

	for _, op := range changes.Operations() {
		switch op.Kind {
		case stac.OpDelete:
			if err := plan.planDelete(cur, op.ID); err != nil {
				return nil, err
			}
		case stac.OpInsert:
			if err := plan.planWrite(next, op.ID, op.Object.Document, op.Assets, nil); err != nil {
				return nil, err
			}
		case stac.OpUpdate:
			var curAssets []stac.AssetRef
			if cur != nil {
				if existing := cur.Get(op.ID); existing != nil {
					curAssets = existing.Assets
				}
			}
			if err := plan.planWrite(next, op.ID, op.Document, op.Assets, curAssets); err != nil {
				return nil, err
			}
		}
	}

	return plan, nil
}

// planDelete removes the object's document and assets along with those of its
// whole descendant subtree, per the owning-object lifetime rule.
func (p *WritePlan) planDelete(cur *stac.Tree, id string) error {
	obj := cur.Get(id)
	if obj == nil {
		return apperrors.NotFoundObject(id)
	}

	var walk func(oid string) error
	walk = func(oid string) error {
		chain, err := cur.Chain(oid)
		if err != nil {
			return apperrors.ValidationObject(err.Error(), oid)
		}
		o := cur.Get(oid)
		p.Deletes = append(p.Deletes, stac.DocumentPath(chain, o.Kind))
		for _, asset := range o.Assets {
			p.Deletes = append(p.Deletes, stac.AssetPath(chain, asset.Path))
		}
		for _, cid := range o.Children {
			if err := walk(cid); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(id)
}

func (p *WritePlan) planWrite(next *stac.Tree, id string, doc []byte, assets []stac.AssetSource, prevAssets []stac.AssetRef) error {
	chain, err := next.Chain(id)
	if err != nil {
		return apperrors.ValidationObject(err.Error(), id)
	}
	obj := next.Get(id)

	// Assets dropped from the declared set go away with the update.
	if prevAssets != nil {
		keep := make(map[string]struct{}, len(assets))
		for _, a := range assets {
			keep[a.Ref.Path] = struct{}{}
		}
		for _, prev := range prevAssets {
			if _, ok := keep[prev.Path]; !ok {
				p.Deletes = append(p.Deletes, stac.AssetPath(chain, prev.Path))
			}
		}
	}

	p.Writes = append(p.Writes, FileWrite{
		Path:    stac.DocumentPath(chain, obj.Kind),
		Content: doc,
	})

	for i := range assets {
		asset := assets[i]
		if err := stac.ValidateAssetPath(asset.Ref.Path); err != nil {
			return apperrors.ValidationObject(err.Error(), id)
		}
		if asset.Open == nil {
			return apperrors.ValidationObject(
				fmt.Sprintf("asset %s has no source", asset.Ref.Path), id)
		}
		p.Writes = append(p.Writes, FileWrite{
			Path:  stac.AssetPath(chain, asset.Ref.Path),
			Asset: &asset,
		})
	}
	return nil
}
