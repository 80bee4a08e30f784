package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fntb/stac-repository/internal/backend"
	"github.com/fntb/stac-repository/internal/config"
	"github.com/fntb/stac-repository/internal/history"
	"github.com/fntb/stac-repository/internal/processor"
	"github.com/fntb/stac-repository/internal/repository"
	"github.com/fntb/stac-repository/internal/stac"
)

const shortRevisionLen = 12

// shortRevision abbreviates a revision id for display.
func shortRevision(revision backend.Revision) string {
	s := string(revision)
	if len(s) > shortRevisionLen {
		return s[:shortRevisionLen]
	}
	return s
}

// displayInitialized announces a freshly initialized repository.
//
//nolint:forbidigo // CLI user output function
func displayInitialized(repo *repository.Repository) {
	fmt.Printf("Initialized %s repository at %s\n", repo.Config().Backend, repo.Path())
}

// displayJobReport prints one product job outcome as it happens.
//
//nolint:forbidigo // CLI user output function
func displayJobReport(report processor.JobReport) {
	if report.Err != nil {
		fmt.Printf("  %-10s %s: %v\n", report.Status, report.ProductID, report.Err)
		return
	}
	fmt.Printf("  %-10s %s\n", report.Status, report.ProductID)
}

// displaySummary prints the aggregate outcome of a run.
//
//nolint:forbidigo // CLI user output function
func displaySummary(summary *processor.Summary, revision backend.Revision) {
	fmt.Printf("\n%d products discovered: %d inserted, %d updated, %d deleted, %d skipped, %d failed\n",
		summary.Discovered,
		summary.Inserted,
		summary.Updated,
		summary.Deleted,
		summary.Skipped,
		summary.Failed)

	if summary.Inserted+summary.Updated+summary.Deleted > 0 {
		fmt.Printf("Committed revision %s\n", shortRevision(revision))
	} else {
		fmt.Println("Nothing to commit")
	}
}

// displayHistory prints history entries.
//
//nolint:forbidigo // CLI user output function
func displayHistory(entries []history.Entry, withPatch bool) {
	if len(entries) == 0 {
		fmt.Println("No history")
		return
	}

	for i := range entries {
		entry := &entries[i]
		fmt.Printf("revision %s", shortRevision(entry.Revision))
		if entry.Parent == "" {
			fmt.Print(" (initial)")
		}
		fmt.Println()
		fmt.Printf("  date:    %s\n", entry.Time.Format(time.RFC3339))
		if entry.Author != "" {
			fmt.Printf("  author:  %s\n", entry.Author)
		}
		if entry.Message != "" {
			fmt.Printf("  message: %s\n", entry.Message)
		}

		for _, id := range entry.Deleted {
			fmt.Printf("    deleted  %s\n", id)
		}
		for _, update := range entry.Updated {
			if update.AssetsOnly {
				fmt.Printf("    updated  %s (assets only)\n", update.ID)
			} else {
				fmt.Printf("    updated  %s (%d document changes)\n", update.ID, len(update.DocumentPatch))
			}
			if withPatch {
				for _, op := range update.DocumentPatch {
					fmt.Printf("      %s\n", op.String())
				}
			}
		}
		for _, id := range entry.Inserted {
			fmt.Printf("    inserted %s\n", id)
		}
		fmt.Println()
	}
}

// displayVerified announces a successful history verification.
//
//nolint:forbidigo // CLI user output function
func displayVerified() {
	fmt.Println("History verified: replay reproduces the catalog")
}

// displaySearchResults prints the objects of a tree whose id contains term.
//
//nolint:forbidigo // CLI user output function
func displaySearchResults(tree *stac.Tree, term string) {
	matched := 0
	_ = tree.Walk(func(obj *stac.Object, chain []string) error {
		if term != "" && !strings.Contains(obj.ID, term) {
			return nil
		}
		matched++
		indent := strings.Repeat("  ", len(chain)-1)
		line := fmt.Sprintf("%s%s (%s", indent, obj.ID, obj.Kind)
		if v := stac.VersionOfDocument(obj.Document); v != "" {
			line += ", version " + v
		}
		line += ")"
		if len(obj.Assets) > 0 {
			line += fmt.Sprintf(" [%d assets]", len(obj.Assets))
		}
		fmt.Println(line)
		return nil
	})

	if matched == 0 {
		fmt.Println("No matching objects")
	}
}

// displayRolledBack announces a completed rollback.
//
//nolint:forbidigo // CLI user output function
func displayRolledBack(revision backend.Revision) {
	fmt.Printf("Rolled back, new revision %s\n", shortRevision(revision))
}

// displayConfigValue prints one configuration value.
//
//nolint:forbidigo // CLI user output function
func displayConfigValue(value string) {
	fmt.Println(value)
}

// displayConfigList prints every configuration key and value.
//
//nolint:forbidigo // CLI user output function
func displayConfigList(cfg *config.Config) {
	for _, key := range config.Keys() {
		value, err := cfg.Get(key)
		if err != nil {
			continue
		}
		fmt.Printf("%s = %s\n", key, value)
	}
}
