package processor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/repository"
	"github.com/fntb/stac-repository/internal/stac"
)

// JobStatus is the outcome of one product job.
type JobStatus int

const (
	// JobInserted means the product was added to the catalog.
	JobInserted JobStatus = iota
	// JobUpdated means the cataloged object was replaced.
	JobUpdated
	// JobSkipped means the cataloged object already matches the product
	// version, or the product was absent (prune) or covered by a deleted
	// ancestor.
	JobSkipped
	// JobDeleted means the cataloged object was removed.
	JobDeleted
	// JobFailed means processing the product failed; the run continues.
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobInserted:
		return "inserted"
	case JobUpdated:
		return "updated"
	case JobSkipped:
		return "skipped"
	case JobDeleted:
		return "deleted"
	case JobFailed:
		return "failed"
	}
	return "unknown"
}

// JobReport describes the outcome of one product job, streamed to the caller
// as the run progresses.
type JobReport struct {
	ProductID string
	Status    JobStatus
	Err       error
}

// Summary aggregates a run.
type Summary struct {
	Discovered int
	Inserted   int
	Updated    int
	Deleted    int
	Skipped    int
	Failed     int
}

// Runner drives a processor against a repository transaction. One run is one
// transaction: either every surviving job lands in a single new revision or
// nothing is written.
type Runner struct {
	repo     *repository.Repository
	registry *Registry
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRateLimit caps how many product jobs start per second. A zero limit
// disables the cap.
func WithRateLimit(perSecond float64, burst int) RunnerOption {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRunnerLogger sets the logger, defaults to slog.Default().
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner.
func NewRunner(repo *repository.Repository, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		repo:     repo,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func report(reports func(JobReport), rep JobReport) {
	if reports != nil {
		reports(rep)
	}
}

// Ingest discovers the source's products and stages an insert or update for
// each, skipping products whose version already matches the cataloged object.
// parentID attaches top-level products under a specific object, defaulting to
// the catalog root. Per-product failures are reported and the run continues;
// the revision holds the surviving jobs.
func (r *Runner) Ingest(
	ctx context.Context, processorID, source, parentID string, reports func(JobReport),
) (backend.Revision, *Summary, error) {
	proc, err := r.registry.Get(processorID)
	if err != nil {
		return "", nil, err
	}

	products, err := proc.Discover(source)
	if err != nil {
		return "", nil, fmt.Errorf("discover %s: %w", source, err)
	}

	tx, err := r.repo.Begin(ctx, repository.PurposeIngest)
	if err != nil {
		return "", nil, err
	}
	defer tx.Abort()

	if parentID == "" {
		parentID = tx.SourceTree().RootID()
	}

	summary := &Summary{Discovered: len(products)}
	r.logger.InfoContext(ctx, "ingesting",
		"processor", proc.ID(),
		"processor_version", proc.Version(),
		"source", source,
		"products", len(products))

	for _, product := range products {
		if err := r.wait(ctx); err != nil {
			return "", summary, err
		}

		existing := tx.SourceTree().Get(product.ID)
		if existing != nil && product.Version != "" &&
			stac.VersionOfDocument(existing.Document) == product.Version {
			summary.Skipped++
			report(reports, JobReport{ProductID: product.ID, Status: JobSkipped})
			continue
		}

		if err := r.stageIngest(tx, proc, product, parentID, existing != nil); err != nil {
			summary.Failed++
			report(reports, JobReport{ProductID: product.ID, Status: JobFailed, Err: err})
			r.logger.WarnContext(ctx, "product job failed", "product", product.ID, "error", err)
			continue
		}

		if existing != nil {
			summary.Updated++
			report(reports, JobReport{ProductID: product.ID, Status: JobUpdated})
		} else {
			summary.Inserted++
			report(reports, JobReport{ProductID: product.ID, Status: JobInserted})
		}
	}

	message := fmt.Sprintf("Ingest %s via %s", source, proc.ID())
	revision, err := tx.Commit(ctx, message)
	if err != nil {
		return "", summary, err
	}
	return revision, summary, nil
}

func (r *Runner) stageIngest(
	tx *repository.Transaction, proc Processor, product Product, parentID string, exists bool,
) error {
	result, err := proc.Process(product)
	if err != nil {
		return err
	}

	if exists {
		return tx.Update(product.ID, result.Document, result.Assets)
	}

	kind, err := stac.KindOfDocument(result.Document)
	if err != nil {
		return err
	}
	parent := product.ParentID
	if parent == "" {
		parent = parentID
	}

	obj := &stac.Object{
		ID:       product.ID,
		Kind:     kind,
		ParentID: parent,
		Document: result.Document,
	}
	for _, asset := range result.Assets {
		obj.Assets = append(obj.Assets, asset.Ref)
	}
	return tx.Insert(obj, result.Assets)
}

// Prune discovers the source's products and stages a delete for each one
// present in the catalog. Products nested under an already-deleted product
// are skipped, their subtree removal being implied.
func (r *Runner) Prune(
	ctx context.Context, processorID, source string, reports func(JobReport),
) (backend.Revision, *Summary, error) {
	proc, err := r.registry.Get(processorID)
	if err != nil {
		return "", nil, err
	}

	products, err := proc.Discover(source)
	if err != nil {
		return "", nil, fmt.Errorf("discover %s: %w", source, err)
	}

	tx, err := r.repo.Begin(ctx, repository.PurposePrune)
	if err != nil {
		return "", nil, err
	}
	defer tx.Abort()

	summary := &Summary{Discovered: len(products)}
	r.logger.InfoContext(ctx, "pruning",
		"processor", proc.ID(),
		"source", source,
		"products", len(products))

	// Parents are discovered before children, so a deleted set is enough to
	// recognize products whose removal an ancestor delete already covers.
	deleted := make(map[string]struct{})

	for _, product := range products {
		if err := r.wait(ctx); err != nil {
			return "", summary, err
		}

		if _, covered := deleted[product.ParentID]; covered && product.ParentID != "" {
			deleted[product.ID] = struct{}{}
			summary.Skipped++
			report(reports, JobReport{ProductID: product.ID, Status: JobSkipped})
			continue
		}
		if !tx.SourceTree().Has(product.ID) {
			summary.Skipped++
			report(reports, JobReport{ProductID: product.ID, Status: JobSkipped})
			continue
		}

		if err := tx.Delete(product.ID); err != nil {
			summary.Failed++
			report(reports, JobReport{ProductID: product.ID, Status: JobFailed, Err: err})
			r.logger.WarnContext(ctx, "product job failed", "product", product.ID, "error", err)
			continue
		}
		deleted[product.ID] = struct{}{}
		summary.Deleted++
		report(reports, JobReport{ProductID: product.ID, Status: JobDeleted})
	}

	message := fmt.Sprintf("Prune %s via %s", source, proc.ID())
	revision, err := tx.Commit(ctx, message)
	if err != nil {
		return "", summary, err
	}
	return revision, summary, nil
}
