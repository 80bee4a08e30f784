package stac

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Canonical persisted layout. This is a durable on-disk contract: the history
// engine depends on recovering an object id from a changed path alone.
//
//	catalog.json                        root document
//	<a>/.../<id>/catalog.json           nested Catalog document
//	<a>/.../<id>/collection.json        Collection document
//	<a>/.../<id>/<id>.json              Item document
//	<a>/.../<id>/assets/<rel>           asset files of <id>
//	assets/<rel>                        asset files of the root
//
// <a>/.../<id> is the chain of ancestor ids below the root, so the mapping
// from id chain to path is deterministic and invertible.
const (
	// CatalogDocName is the document file name for Catalog objects.
	CatalogDocName = "catalog.json"
	// CollectionDocName is the document file name for Collection objects.
	CollectionDocName = "collection.json"
	// AssetsDirName is the reserved directory name holding an object's assets.
	AssetsDirName = "assets"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// reservedIDs are path segments with a fixed meaning in the layout.
var reservedIDs = map[string]struct{}{
	AssetsDirName:     {},
	CatalogDocName:    {},
	CollectionDocName: {},
}

// ValidateID checks that an object id is usable as a path segment.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty object id")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("object id %q contains characters outside [A-Za-z0-9._-]", id)
	}
	if _, reserved := reservedIDs[strings.ToLower(id)]; reserved {
		return fmt.Errorf("object id %q is a reserved name", id)
	}
	return nil
}

// ValidateAssetPath checks that an asset path is usable below an object's
// assets directory. The path must be relative, already in clean form, and must
// not climb out of the directory; clean form keeps the stored reference
// identical to the on-disk path, so ParsePath inverts it.
func ValidateAssetPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty asset path")
	}
	if strings.HasPrefix(rel, "/") {
		return fmt.Errorf("asset path %q is absolute", rel)
	}
	if strings.Contains(rel, `\`) {
		return fmt.Errorf("asset path %q contains a backslash", rel)
	}
	if path.Clean(rel) != rel {
		return fmt.Errorf("asset path %q is not a clean relative path", rel)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("asset path %q climbs out of the assets directory", rel)
	}
	return nil
}

// ObjectDir returns the repo-relative directory of an object given the chain
// of ids from the root to the object, root included. The root maps to "".
func ObjectDir(chain []string) string {
	if len(chain) <= 1 {
		return ""
	}
	return path.Join(chain[1:]...)
}

// DocumentPath returns the repo-relative document path of an object.
func DocumentPath(chain []string, kind Kind) string {
	dir := ObjectDir(chain)
	var name string
	switch kind {
	case KindCollection:
		name = CollectionDocName
	case KindItem:
		name = chain[len(chain)-1] + ".json"
	default:
		name = CatalogDocName
	}
	return path.Join(dir, name)
}

// AssetPath returns the repo-relative path of one asset of an object.
func AssetPath(chain []string, rel string) string {
	return path.Join(ObjectDir(chain), AssetsDirName, rel)
}

// PathClass tells what role a repo-relative path plays in the layout.
type PathClass int

const (
	// PathDocument is an object document file.
	PathDocument PathClass = iota
	// PathAsset is a file under an object's assets directory.
	PathAsset
	// PathOther is repository scaffolding (.gitattributes, config, ...).
	PathOther
)

// ParsedPath is the inversion of the canonical layout for one path.
type ParsedPath struct {
	Class PathClass
	// ObjectID is the owning object's id. Empty for PathOther and for paths
	// owned by the root (the root id only exists inside its document).
	ObjectID string
	// IsRoot marks paths owned by the root object.
	IsRoot bool
	// AssetRel is the asset path relative to the assets directory, PathAsset only.
	AssetRel string
}

// ParsePath recovers the owning object from a repo-relative path without any
// tree reads. Paths outside the canonical layout classify as PathOther.
func ParsePath(p string) ParsedPath {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." || p == "" {
		return ParsedPath{Class: PathOther}
	}

	segments := strings.Split(p, "/")

	// Asset files: everything after the first reserved "assets" segment.
	for i, segment := range segments {
		if segment != AssetsDirName || i == len(segments)-1 {
			continue
		}
		parsed := ParsedPath{
			Class:    PathAsset,
			AssetRel: path.Join(segments[i+1:]...),
		}
		if i == 0 {
			parsed.IsRoot = true
		} else {
			parsed.ObjectID = segments[i-1]
		}
		return parsed
	}

	base := segments[len(segments)-1]
	if !strings.HasSuffix(base, ".json") {
		return ParsedPath{Class: PathOther}
	}

	if len(segments) == 1 {
		if base == CatalogDocName {
			return ParsedPath{Class: PathDocument, IsRoot: true}
		}
		// A bare "<id>.json" at the root is not part of the layout.
		return ParsedPath{Class: PathOther}
	}

	dir := segments[len(segments)-2]
	switch base {
	case CatalogDocName, CollectionDocName:
		return ParsedPath{Class: PathDocument, ObjectID: dir}
	case dir + ".json":
		return ParsedPath{Class: PathDocument, ObjectID: dir}
	}
	return ParsedPath{Class: PathOther}
}
