package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/stac"
)

// TreeFile is one file of a revision as enumerated by a backend. Document
// content is loaded lazily; asset metadata (size, optional hash) is resolved
// by the backend up front, e.g. from an LFS pointer, so building the asset
// index never loads asset content.
type TreeFile struct {
	Path   string
	Size   int64
	SHA256 string
	Read   func() ([]byte, error)
}

// BuildTree reconstructs the catalog tree from the files of one revision laid
// out per the canonical path scheme. Hierarchy is derived from the layout
// alone: the chain of directory names below the root is the chain of object
// ids. Children end up ordered lexicographically, which keeps traversal
// deterministic for a given revision.
func BuildTree(files []TreeFile) (*stac.Tree, error) {
	type docFile struct {
		file   TreeFile
		parsed stac.ParsedPath
		depth  int
	}

	var docs []docFile
	var assets []TreeFile

	for _, f := range files {
		parsed := stac.ParsePath(f.Path)
		switch parsed.Class {
		case stac.PathDocument:
			docs = append(docs, docFile{
				file:   f,
				parsed: parsed,
				depth:  strings.Count(f.Path, "/"),
			})
		case stac.PathAsset:
			assets = append(assets, f)
		case stac.PathOther:
			// Repository scaffolding, not part of the catalog.
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].depth != docs[j].depth {
			return docs[i].depth < docs[j].depth
		}
		return docs[i].file.Path < docs[j].file.Path
	})

	tree := stac.NewTree()

	for _, doc := range docs {
		content, err := doc.file.Read()
		if err != nil {
			return nil, apperrors.BackendIO(fmt.Sprintf("read document %s", doc.file.Path), err)
		}

		obj := &stac.Object{
			Document: content,
		}

		if doc.parsed.IsRoot {
			id, err := stac.IDOfDocument(content)
			if err != nil {
				return nil, apperrors.BackendIO(fmt.Sprintf("root document %s", doc.file.Path), err)
			}
			obj.ID = id
			obj.Kind = stac.KindCatalog
			if kind, err := stac.KindOfDocument(content); err == nil {
				obj.Kind = kind
			}
		} else {
			obj.ID = doc.parsed.ObjectID
			obj.Kind = kindOfDocPath(doc.file.Path)
			obj.ParentID = parentOfDocPath(doc.file.Path, tree)
			if docID, err := stac.IDOfDocument(content); err == nil && docID != obj.ID {
				return nil, apperrors.ValidationObject(
					fmt.Sprintf("document at %s declares id %q", doc.file.Path, docID),
					obj.ID,
				)
			}
		}

		if err := tree.Insert(obj); err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("inconsistent layout at %s: %v", doc.file.Path, err))
		}
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })

	for _, f := range assets {
		parsed := stac.ParsePath(f.Path)
		var owner *stac.Object
		if parsed.IsRoot {
			owner = tree.Root()
		} else {
			owner = tree.Get(parsed.ObjectID)
		}
		if owner == nil {
			return nil, apperrors.Validation(fmt.Sprintf("asset %s has no owning object", f.Path))
		}
		owner.Assets = append(owner.Assets, stac.AssetRef{
			Path:   parsed.AssetRel,
			Size:   f.Size,
			SHA256: f.SHA256,
		})
	}

	return tree, nil
}

// kindOfDocPath derives the object kind from the document file name.
func kindOfDocPath(p string) stac.Kind {
	base := p[strings.LastIndex(p, "/")+1:]
	switch base {
	case stac.CatalogDocName:
		return stac.KindCatalog
	case stac.CollectionDocName:
		return stac.KindCollection
	}
	return stac.KindItem
}

// parentOfDocPath derives the parent id from the directory chain: the segment
// above the object's own directory, or the root when the object sits directly
// below it.
func parentOfDocPath(p string, tree *stac.Tree) string {
	segments := strings.Split(p, "/")
	// segments = [a ... parent id own-id docname]
	if len(segments) >= 3 {
		return segments[len(segments)-3]
	}
	return tree.RootID()
}
