package stac

import (
	"testing"
)

func TestValidateID(t *testing.T) {
	t.Parallel()

	valid := []string{"catalog-1", "S2A_MSIL2A_20240101", "a", "item.v2", "0abc"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", ".hidden", "-dash", "with space", "a/b", "assets", "catalog.json", "Collection.JSON"}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) = nil, want error", id)
		}
	}
}

func TestValidateAssetPath(t *testing.T) {
	t.Parallel()

	valid := []string{"b01.tif", "bands/b01.tif", "a.b/c-d_e.png", "..dots.tif"}
	for _, rel := range valid {
		if err := ValidateAssetPath(rel); err != nil {
			t.Errorf("ValidateAssetPath(%q) = %v, want nil", rel, err)
		}
	}

	invalid := []string{
		"",
		".",
		"..",
		"../sibling.tif",
		"../../../escaped.txt",
		"/etc/passwd",
		"a/../../b.tif",
		"a//b.tif",
		"./a.tif",
		"a/./b.tif",
		"tiles/",
		`a\..\b.tif`,
	}
	for _, rel := range invalid {
		if err := ValidateAssetPath(rel); err == nil {
			t.Errorf("ValidateAssetPath(%q) = nil, want error", rel)
		}
	}
}

func TestDocumentPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		chain []string
		kind  Kind
		want  string
	}{
		{"root catalog", []string{"root"}, KindCatalog, "catalog.json"},
		{"nested catalog", []string{"root", "sub"}, KindCatalog, "sub/catalog.json"},
		{"collection", []string{"root", "col-1"}, KindCollection, "col-1/collection.json"},
		{"item under collection", []string{"root", "col-1", "item-1"}, KindItem, "col-1/item-1/item-1.json"},
		{"item under root", []string{"root", "item-9"}, KindItem, "item-9/item-9.json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DocumentPath(tc.chain, tc.kind); got != tc.want {
				t.Errorf("DocumentPath(%v, %s) = %q, want %q", tc.chain, tc.kind, got, tc.want)
			}
		})
	}
}

func TestAssetPath(t *testing.T) {
	t.Parallel()

	if got := AssetPath([]string{"root"}, "thumb.png"); got != "assets/thumb.png" {
		t.Errorf("root asset path = %q", got)
	}
	if got := AssetPath([]string{"root", "col-1", "item-1"}, "bands/b01.tif"); got != "col-1/item-1/assets/bands/b01.tif" {
		t.Errorf("nested asset path = %q", got)
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want ParsedPath
	}{
		{"catalog.json", ParsedPath{Class: PathDocument, IsRoot: true}},
		{"col-1/collection.json", ParsedPath{Class: PathDocument, ObjectID: "col-1"}},
		{"col-1/sub/catalog.json", ParsedPath{Class: PathDocument, ObjectID: "sub"}},
		{"col-1/item-1/item-1.json", ParsedPath{Class: PathDocument, ObjectID: "item-1"}},
		{"assets/thumb.png", ParsedPath{Class: PathAsset, IsRoot: true, AssetRel: "thumb.png"}},
		{"col-1/assets/a/b.tif", ParsedPath{Class: PathAsset, ObjectID: "col-1", AssetRel: "a/b.tif"}},
		{".gitattributes", ParsedPath{Class: PathOther}},
		{".stac-repository.yaml", ParsedPath{Class: PathOther}},
		{"stray.json", ParsedPath{Class: PathOther}},
		{"col-1/other.json", ParsedPath{Class: PathOther}},
		{"col-1/readme.txt", ParsedPath{Class: PathOther}},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			if got := ParsePath(tc.path); got != tc.want {
				t.Errorf("ParsePath(%q) = %+v, want %+v", tc.path, got, tc.want)
			}
		})
	}
}

// The layout must be invertible: a generated path parses back to the object
// that produced it.
func TestPathRoundTrip(t *testing.T) {
	t.Parallel()

	chain := []string{"root", "col-1", "item-1"}

	doc := DocumentPath(chain, KindItem)
	parsed := ParsePath(doc)
	if parsed.Class != PathDocument || parsed.ObjectID != "item-1" {
		t.Errorf("document round trip failed: %+v", parsed)
	}

	asset := AssetPath(chain, "b01.tif")
	parsed = ParsePath(asset)
	if parsed.Class != PathAsset || parsed.ObjectID != "item-1" || parsed.AssetRel != "b01.tif" {
		t.Errorf("asset round trip failed: %+v", parsed)
	}
}
