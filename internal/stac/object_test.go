package stac

import "testing"

func TestKindOfDocument(t *testing.T) {
	t.Parallel()

	cases := []struct {
		doc  string
		want Kind
	}{
		{`{"type":"Catalog","id":"c"}`, KindCatalog},
		{`{"type":"Collection","id":"c"}`, KindCollection},
		{`{"type":"Feature","id":"i"}`, KindItem},
	}
	for _, tc := range cases {
		kind, err := KindOfDocument([]byte(tc.doc))
		if err != nil || kind != tc.want {
			t.Errorf("KindOfDocument(%s) = %s, %v", tc.doc, kind, err)
		}
	}

	if _, err := KindOfDocument([]byte(`{"type":"FeatureCollection"}`)); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := KindOfDocument([]byte(`not json`)); err == nil {
		t.Error("invalid JSON accepted")
	}
}

func TestIDOfDocument(t *testing.T) {
	t.Parallel()

	id, err := IDOfDocument([]byte(`{"type":"Feature","id":"item-1"}`))
	if err != nil || id != "item-1" {
		t.Errorf("id = %q, err %v", id, err)
	}

	if _, err := IDOfDocument([]byte(`{"type":"Feature"}`)); err == nil {
		t.Error("document without id accepted")
	}
}

func TestVersionOfDocument(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"item from properties", `{"type":"Feature","id":"i","properties":{"version":"v3"}}`, "v3"},
		{"item without version", `{"type":"Feature","id":"i","properties":{}}`, ""},
		{"collection top level", `{"type":"Collection","id":"c","version":"2024.1"}`, "2024.1"},
		{"catalog without version", `{"type":"Catalog","id":"c"}`, ""},
		{"invalid json", `nope`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := VersionOfDocument([]byte(tc.doc)); got != tc.want {
				t.Errorf("version = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestObjectCloneIsDeep(t *testing.T) {
	t.Parallel()

	obj := &Object{
		ID:       "item-1",
		Kind:     KindItem,
		ParentID: "col-1",
		Document: []byte(`{"id":"item-1"}`),
		Assets:   []AssetRef{{Path: "b01.tif", Size: 6}},
	}
	clone := obj.Clone()

	clone.Document[0] = 'X'
	clone.Assets[0].Path = "other.tif"
	if obj.Document[0] == 'X' || obj.Assets[0].Path != "b01.tif" {
		t.Error("mutating the clone leaked into the original")
	}
}
