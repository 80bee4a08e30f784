// Package processor turns external data sources into catalog objects. A
// processor discovers products from a source locator, and renders each
// product as a STAC document plus its asset files. The runner drives
// processors against a repository transaction.
package processor

import (
	"sort"
	"sync"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/stac"
)

// Product is one ingestible unit discovered from a source. Version is an
// opaque marker; ingestion skips a product whose version already matches the
// cataloged object.
type Product struct {
	// ID is the catalog object id the product maps to.
	ID string
	// Version is the product's version marker.
	Version string
	// ParentID is the id of the discovered product this one nests under,
	// empty for a top-level product. Parents are always discovered before
	// their children.
	ParentID string
	// Source locates the product for Process, in processor-defined terms.
	Source string
}

// Result is the rendered form of one product.
type Result struct {
	// Document is the STAC document, its id matching the product id and its
	// version matching the product version.
	Document []byte
	// Assets are the asset payloads declared by the document.
	Assets []stac.AssetSource
}

// Processor discovers and renders products of one source family.
type Processor interface {
	// ID names the processor.
	ID() string
	// Version is the processor implementation version, recorded in job
	// reports.
	Version() string
	// Discover enumerates the products available at a source.
	Discover(source string) ([]Product, error)
	// Process renders one product.
	Process(product Product) (*Result, error)
}

// Registry holds the available processors by id.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Processor
}

// NewRegistry creates a registry preloaded with the built-in processors.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Processor)}
	r.Register(NewStacProcessor())
	return r
}

// Register adds or replaces a processor.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID()] = p
}

// Get returns the processor with the given id.
func (r *Registry) Get(id string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrProcessorNotFound
	}
	return p, nil
}

// IDs lists the registered processor ids sorted lexicographically.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
