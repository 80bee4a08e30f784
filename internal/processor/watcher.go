package processor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// Watcher re-runs an ingestion whenever the watched source changes on disk.
// Filesystem events are debounced so a burst of writes triggers one run.
type Watcher struct {
	runner      *Runner
	processorID string
	source      string
	parentID    string
	debounce    time.Duration
	reports     func(JobReport)
	logger      *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after the last event before a run
// starts.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherReports streams per-product job reports of every triggered run.
func WithWatcherReports(reports func(JobReport)) WatcherOption {
	return func(w *Watcher) {
		w.reports = reports
	}
}

// WithWatcherLogger sets the logger, defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher running ingestions through runner.
func NewWatcher(runner *Runner, processorID, source, parentID string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		runner:      runner,
		processorID: processorID,
		source:      source,
		parentID:    parentID,
		debounce:    defaultDebounce,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch ingests once, then blocks re-ingesting on changes until the context
// is canceled. A failing run is logged and watching continues: the next
// change gets another chance.
func (w *Watcher) Watch(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	if err := w.addRecursive(notifier, w.source); err != nil {
		return err
	}

	w.run(ctx)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			w.logger.DebugContext(ctx, "source changed", "path", event.Name, "op", event.Op.String())
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(notifier, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.run(ctx)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	revision, summary, err := w.runner.Ingest(ctx, w.processorID, w.source, w.parentID, w.reports)
	if err != nil {
		w.logger.WarnContext(ctx, "watched ingestion failed", "source", w.source, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "watched ingestion complete",
		"source", w.source,
		"revision", string(revision),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
}

// addRecursive watches a directory tree, or the parent directory of a plain
// file source.
func (w *Watcher) addRecursive(notifier *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return notifier.Add(filepath.Dir(root))
	}
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return notifier.Add(p)
		}
		return nil
	})
}
