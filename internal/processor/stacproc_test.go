package processor

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/fntb/stac-repository/internal/apperrors"
)

// writeSourceCatalog lays out a static STAC catalog on disk:
//
//	catalog.json
//	col-1/collection.json
//	col-1/item-1/item-1.json  (one local asset, one remote asset)
//	data/b01.tif
func writeSourceCatalog(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"catalog.json": `{
			"type": "Catalog", "id": "source-cat", "description": "source",
			"links": [
				{"rel": "child", "href": "col-1/collection.json"},
				{"rel": "child", "href": "https://elsewhere.example/remote.json"}
			]
		}`,
		"col-1/collection.json": `{
			"type": "Collection", "id": "col-1", "version": "2024.1",
			"links": [
				{"rel": "root", "href": "../catalog.json"},
				{"rel": "item", "href": "item-1/item-1.json"},
				{"rel": "license", "href": "https://example.com/license"}
			]
		}`,
		"col-1/item-1/item-1.json": `{
			"type": "Feature", "id": "item-1",
			"properties": {"version": "2024.1"},
			"links": [
				{"rel": "parent", "href": "../collection.json"},
				{"rel": "derived_from", "href": "https://example.com/origin"}
			],
			"assets": {
				"b01": {"href": "../../data/b01.tif"},
				"remote": {"href": "https://example.com/far-away.tif"}
			}
		}`,
		"data/b01.tif": "pixels",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStacProcessorDiscover(t *testing.T) {
	t.Parallel()

	dir := writeSourceCatalog(t)
	proc := NewStacProcessor()

	products, err := proc.Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	// The source catalog itself is not a product, its descendants are, parents
	// first. The remote child link is ignored.
	if len(products) != 2 {
		t.Fatalf("products = %+v, want 2", products)
	}
	col := products[0]
	if col.ID != "col-1" || col.Version != "2024.1" || col.ParentID != "" {
		t.Errorf("collection product = %+v", col)
	}
	item := products[1]
	if item.ID != "item-1" || item.Version != "2024.1" || item.ParentID != "col-1" {
		t.Errorf("item product = %+v", item)
	}

	t.Run("collection source is itself a product", func(t *testing.T) {
		t.Parallel()
		products, err := proc.Discover(filepath.Join(dir, "col-1"))
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if len(products) != 2 || products[0].ID != "col-1" || products[0].ParentID != "" {
			t.Errorf("products = %+v", products)
		}
	})

	t.Run("item document source", func(t *testing.T) {
		t.Parallel()
		products, err := proc.Discover(filepath.Join(dir, "col-1", "item-1", "item-1.json"))
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		if len(products) != 1 || products[0].ID != "item-1" {
			t.Errorf("products = %+v", products)
		}
	})

	t.Run("directory without a document", func(t *testing.T) {
		t.Parallel()
		if _, err := proc.Discover(t.TempDir()); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})
}

func TestStacProcessorProcess(t *testing.T) {
	t.Parallel()

	dir := writeSourceCatalog(t)
	proc := NewStacProcessor()

	products, err := proc.Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	result, err := proc.Process(products[1]) // item-1
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// The local asset is rewritten to the canonical layout and its payload
	// collected; the remote asset href is left alone.
	if got := gjson.GetBytes(result.Document, "assets.b01.href").String(); got != "assets/b01.tif" {
		t.Errorf("local asset href = %q", got)
	}
	if got := gjson.GetBytes(result.Document, "assets.remote.href").String(); got != "https://example.com/far-away.tif" {
		t.Errorf("remote asset href = %q", got)
	}
	if len(result.Assets) != 1 || result.Assets[0].Ref.Path != "b01.tif" {
		t.Fatalf("assets = %+v", result.Assets)
	}
	reader, err := result.Assets[0].Open()
	if err != nil {
		t.Fatalf("open asset: %v", err)
	}
	content, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil || string(content) != "pixels" {
		t.Errorf("asset content = %q, err %v", content, err)
	}

	// Structural links are dropped, the rest survive.
	links := gjson.GetBytes(result.Document, "links").Array()
	if len(links) != 1 || links[0].Get("rel").String() != "derived_from" {
		t.Errorf("links = %s", gjson.GetBytes(result.Document, "links").Raw)
	}

	t.Run("missing asset file fails the product", func(t *testing.T) {
		t.Parallel()
		broken := filepath.Join(t.TempDir(), "item-x.json")
		doc := `{"type":"Feature","id":"item-x","assets":{"a":{"href":"gone.tif"}}}`
		if err := os.WriteFile(broken, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := proc.Process(Product{ID: "item-x", Source: broken})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})
}
