package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/stac"
)

// StacProcessor ingests catalogs that are already laid out as static STAC
// documents on disk. Discovery follows child and item links from the source
// document; processing localizes asset references and strips the structural
// links, since the engine derives hierarchy from its own layout.
type StacProcessor struct{}

// NewStacProcessor creates the built-in STAC processor.
func NewStacProcessor() *StacProcessor {
	return &StacProcessor{}
}

// ID implements Processor.
func (p *StacProcessor) ID() string {
	return "stac"
}

// Version implements Processor.
func (p *StacProcessor) Version() string {
	return "1.0.0"
}

// Discover enumerates the source's objects as products. A source pointing at
// a Catalog yields its descendants; the catalog document itself is not a
// product since the repository already has a root. A source pointing at a
// Collection or Item yields that object and, for collections, its
// descendants.
func (p *StacProcessor) Discover(source string) ([]Product, error) {
	docPath, err := resolveSourceDocument(source)
	if err != nil {
		return nil, err
	}

	walker := &stacWalker{visited: make(map[string]struct{})}
	doc, err := os.ReadFile(docPath) //nolint:gosec // source is caller provided
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	kind, err := stac.KindOfDocument(doc)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("source document %s: %v", docPath, err))
	}

	if kind == stac.KindCatalog {
		walker.visited[docPath] = struct{}{}
		if err := walker.walkLinks(doc, docPath, ""); err != nil {
			return nil, err
		}
		return walker.products, nil
	}
	if err := walker.walk(docPath, ""); err != nil {
		return nil, err
	}
	return walker.products, nil
}

// Process renders one discovered product.
func (p *StacProcessor) Process(product Product) (*Result, error) {
	doc, err := os.ReadFile(product.Source) //nolint:gosec // source comes from Discover
	if err != nil {
		return nil, fmt.Errorf("read product document: %w", err)
	}

	doc, assets, err := localizeAssets(doc, filepath.Dir(product.Source))
	if err != nil {
		return nil, err
	}
	doc, err = stripStructuralLinks(doc)
	if err != nil {
		return nil, err
	}
	return &Result{Document: doc, Assets: assets}, nil
}

// resolveSourceDocument accepts a document path or a directory holding one.
func resolveSourceDocument(source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return source, nil
	}
	for _, name := range []string{stac.CatalogDocName, stac.CollectionDocName} {
		candidate := filepath.Join(source, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", apperrors.Validation(fmt.Sprintf("no %s or %s in %s", stac.CatalogDocName, stac.CollectionDocName, source))
}

type stacWalker struct {
	products []Product
	visited  map[string]struct{}
}

// walk records the document at docPath as a product and recurses into its
// structural links.
func (w *stacWalker) walk(docPath, parentID string) error {
	if _, seen := w.visited[docPath]; seen {
		return nil
	}
	w.visited[docPath] = struct{}{}

	doc, err := os.ReadFile(docPath) //nolint:gosec // paths come from link traversal under the source
	if err != nil {
		return fmt.Errorf("read %s: %w", docPath, err)
	}
	id, err := stac.IDOfDocument(doc)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("document %s: %v", docPath, err))
	}

	w.products = append(w.products, Product{
		ID:       id,
		Version:  stac.VersionOfDocument(doc),
		ParentID: parentID,
		Source:   docPath,
	})
	return w.walkLinks(doc, docPath, id)
}

// walkLinks recurses into the child and item links of a document.
func (w *stacWalker) walkLinks(doc []byte, docPath, parentID string) error {
	dir := filepath.Dir(docPath)
	for _, link := range gjson.GetBytes(doc, "links").Array() {
		rel := link.Get("rel").String()
		if rel != "child" && rel != "item" {
			continue
		}
		href := link.Get("href").String()
		if !isLocalHref(href) {
			continue
		}
		if err := w.walk(filepath.Join(dir, filepath.FromSlash(href)), parentID); err != nil {
			return err
		}
	}
	return nil
}

// localizeAssets turns every locally resolvable asset href into a canonical
// assets/<name> reference and collects the payloads to upload.
func localizeAssets(doc []byte, dir string) ([]byte, []stac.AssetSource, error) {
	var sources []stac.AssetSource
	var err error

	gjson.GetBytes(doc, "assets").ForEach(func(key, value gjson.Result) bool {
		href := value.Get("href").String()
		if !isLocalHref(href) {
			return true
		}
		localPath := filepath.Join(dir, filepath.FromSlash(href))
		if _, statErr := os.Stat(localPath); statErr != nil {
			err = apperrors.Validation(fmt.Sprintf("asset %q references missing file %s", key.String(), localPath))
			return false
		}

		rel := filepath.Base(localPath)
		sources = append(sources, stac.FileAssetSource(rel, localPath))
		doc, err = sjson.SetBytes(doc, "assets."+key.String()+".href", "assets/"+rel)
		return err == nil
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, sources, nil
}

// stripStructuralLinks removes the links the engine derives from its own
// layout, keeping everything else (license, derived_from, ...).
func stripStructuralLinks(doc []byte) ([]byte, error) {
	links := gjson.GetBytes(doc, "links")
	if !links.Exists() {
		return doc, nil
	}

	kept := make([]any, 0)
	links.ForEach(func(_, link gjson.Result) bool {
		switch link.Get("rel").String() {
		case "self", "root", "parent", "child", "item", "collection":
			return true
		}
		kept = append(kept, link.Value())
		return true
	})

	doc, err := sjson.SetBytes(doc, "links", kept)
	if err != nil {
		return nil, fmt.Errorf("rewrite links: %w", err)
	}
	return doc, nil
}

func isLocalHref(href string) bool {
	if href == "" {
		return false
	}
	if strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
		return false
	}
	return true
}
