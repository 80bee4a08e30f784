// Package stac provides the in-memory catalog object model: STAC objects,
// their tree arena, change sets, and the canonical on-disk path scheme.
package stac

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the STAC object type.
type Kind string

const (
	// KindCatalog is a STAC Catalog node.
	KindCatalog Kind = "Catalog"
	// KindCollection is a STAC Collection node.
	KindCollection Kind = "Collection"
	// KindItem is a STAC Item leaf.
	KindItem Kind = "Item"
)

// CanHaveChildren reports whether objects of this kind may own child objects.
func (k Kind) CanHaveChildren() bool {
	return k == KindCatalog || k == KindCollection
}

// AssetRef describes one asset file owned by an object: its path relative to
// the object's asset directory, its size, and an optional sha256 content hash.
type AssetRef struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Object is one node of the catalog tree. Parent/child relationships are id
// references into the owning Tree arena, never pointers, so the model stays
// acyclic by construction.
type Object struct {
	ID       string
	Kind     Kind
	ParentID string   // empty for the root
	Children []string // ordered child ids, Catalog/Collection only
	Document []byte   // serialized JSON document body
	Assets   []AssetRef
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	clone := &Object{
		ID:       o.ID,
		Kind:     o.Kind,
		ParentID: o.ParentID,
	}
	if o.Children != nil {
		clone.Children = append([]string(nil), o.Children...)
	}
	if o.Document != nil {
		clone.Document = append([]byte(nil), o.Document...)
	}
	if o.Assets != nil {
		clone.Assets = append([]AssetRef(nil), o.Assets...)
	}
	return clone
}

// document is the subset of a STAC document the engine inspects.
type document struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Version    string          `json:"version"`
	Properties json.RawMessage `json:"properties"`
}

// KindOfDocument extracts the object kind from a serialized STAC document.
func KindOfDocument(doc []byte) (Kind, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	switch d.Type {
	case "Catalog":
		return KindCatalog, nil
	case "Collection":
		return KindCollection, nil
	case "Feature":
		return KindItem, nil
	}
	return "", fmt.Errorf("unknown STAC document type %q", d.Type)
}

// IDOfDocument extracts the object id from a serialized STAC document.
func IDOfDocument(doc []byte) (string, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	if d.ID == "" {
		return "", fmt.Errorf("document has no id")
	}
	return d.ID, nil
}

// VersionOfDocument extracts the product version of a serialized STAC
// document: "properties.version" for Items, top-level "version" otherwise.
// Returns "" when the document carries no version.
func VersionOfDocument(doc []byte) string {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return ""
	}
	if d.Type == "Feature" && len(d.Properties) > 0 {
		var props struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(d.Properties, &props); err == nil {
			return props.Version
		}
		return ""
	}
	return d.Version
}
