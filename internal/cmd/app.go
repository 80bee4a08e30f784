// Package cmd provides the CLI commands for stac-repository.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/config"
	"github.com/fntb/stac-repository/internal/history"
	"github.com/fntb/stac-repository/internal/processor"
	"github.com/fntb/stac-repository/internal/repository"
	"github.com/fntb/stac-repository/internal/version"
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// repositoryFlag locates the repository every command operates on.
var repositoryFlag = &cli.StringFlag{
	Name:    "repository",
	Aliases: []string{"C"},
	Usage:   "Path to the repository",
	Value:   ".",
	Sources: cli.EnvVars("STAC_DIR"),
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// getLogFormat returns the configured log format from STAC_LOG_FORMAT.
func getLogFormat() LogFormat {
	val := strings.ToLower(os.Getenv("STAC_LOG_FORMAT"))
	switch val {
	case "json":
		return LogFormatJSON
	case "text", "":
		return LogFormatText
	default:
		// Invalid format - will warn after logger is set up
		return LogFormatText
	}
}

// setupLogging configures the global logger based on the verbose flag and
// STAC_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format := getLogFormat()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	envVal := strings.ToLower(os.Getenv("STAC_LOG_FORMAT"))
	if envVal != "" && envVal != "text" && envVal != "json" {
		slog.Warn("Invalid STAC_LOG_FORMAT value, using text format", "value", envVal)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "stac-repository",
		Usage:   "Versioned transactional storage for STAC catalogs",
		Version: version.Long(),
		Flags: []cli.Flag{
			repositoryFlag,
			verboseFlag,
		},
		Commands: []*cli.Command{
			initCommand(),
			ingestCommand(),
			pruneCommand(),
			historyCommand(),
			searchCommand(),
			rollbackCommand(),
			backupCommand(),
			restoreCommand(),
			configCommand(),
		},
	}
}

// openRepository opens the repository named by the --repository flag.
func openRepository(cmd *cli.Command) (*repository.Repository, error) {
	repo, err := repository.Open(cmd.String("repository"), repository.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// newRunner builds the ingestion runner from the repository configuration.
func newRunner(repo *repository.Repository) *processor.Runner {
	cfg := repo.Config()
	return processor.NewRunner(repo, processor.NewRegistry(),
		processor.WithRateLimit(cfg.Ingest.RateLimit, cfg.Ingest.Burst),
		processor.WithRunnerLogger(slog.Default()),
	)
}

// initCommand creates the init subcommand.
func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new repository",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Storage backend (git or file)",
				Value: string(config.BackendGit),
			},
			&cli.StringFlag{
				Name:  "root-doc",
				Usage: "Path to an existing Catalog or Collection document to use as root",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Root catalog id (when no --root-doc is given)",
				Value: "catalog",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Root catalog title",
			},
			&cli.StringFlag{
				Name:  "description",
				Usage: "Root catalog description",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			rootDoc, err := resolveRootDocument(cmd)
			if err != nil {
				return err
			}

			cfg := config.Default()
			cfg.Backend = config.BackendKind(cmd.String("backend"))

			repo, err := repository.Init(cmd.String("repository"), cfg, rootDoc,
				repository.WithLogger(slog.Default()))
			if err != nil {
				return fmt.Errorf("init repository: %w", err)
			}

			displayInitialized(repo)
			return nil
		},
	}
}

// resolveRootDocument loads --root-doc or renders a minimal catalog from the
// id/title/description flags.
func resolveRootDocument(cmd *cli.Command) ([]byte, error) {
	if path := cmd.String("root-doc"); path != "" {
		doc, err := os.ReadFile(path) //nolint:gosec // path is a user-provided flag
		if err != nil {
			return nil, fmt.Errorf("read root document: %w", err)
		}
		return doc, nil
	}

	description := cmd.String("description")
	if description == "" {
		description = "STAC catalog"
	}
	doc := map[string]any{
		"type":         "Catalog",
		"stac_version": "1.1.0",
		"id":           cmd.String("id"),
		"description":  description,
		"links":        []any{},
	}
	if title := cmd.String("title"); title != "" {
		doc["title"] = title
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ingestCommand creates the ingest subcommand.
func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Discover and catalog the products of a source",
		ArgsUsage: "<source>",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:    "processor",
				Aliases: []string{"p"},
				Usage:   "Processor to run the source through",
				Value:   "stac",
			},
			&cli.StringFlag{
				Name:  "parent",
				Usage: "Object id to attach top-level products under (defaults to the root)",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Keep watching the source and re-ingest on changes",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.Validation("source argument required")
			}
			source := cmd.Args().Get(0)

			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}
			runner := newRunner(repo)

			if cmd.Bool("watch") {
				watcher := processor.NewWatcher(runner,
					cmd.String("processor"), source, cmd.String("parent"),
					processor.WithWatcherReports(displayJobReport),
					processor.WithWatcherLogger(slog.Default()))
				return watcher.Watch(ctx)
			}

			revision, summary, err := runner.Ingest(ctx,
				cmd.String("processor"), source, cmd.String("parent"), displayJobReport)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			displaySummary(summary, revision)
			return nil
		},
	}
}

// pruneCommand creates the prune subcommand.
func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:      "prune",
		Usage:     "Remove the products of a source from the catalog",
		ArgsUsage: "<source>",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:    "processor",
				Aliases: []string{"p"},
				Usage:   "Processor to discover the source through",
				Value:   "stac",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.Validation("source argument required")
			}

			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}
			runner := newRunner(repo)

			revision, summary, err := runner.Prune(ctx,
				cmd.String("processor"), cmd.Args().Get(0), displayJobReport)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}

			displaySummary(summary, revision)
			return nil
		},
	}
}

// historyCommand creates the history subcommand.
func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show the object-level change history",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:  "from",
				Usage: "Oldest revision reference, exclusive (defaults to the initial revision)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Newest revision reference, inclusive (defaults to the current revision)",
			},
			&cli.StringFlag{
				Name:  "object",
				Usage: "Only show entries touching this object id",
			},
			&cli.BoolFlag{
				Name:  "oldest-first",
				Usage: "List oldest entries first",
			},
			&cli.BoolFlag{
				Name:  "patch",
				Usage: "Include document patches for updated objects",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Replay the full history and check it reproduces the catalog",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}

			order := history.NewestFirst
			if cmd.Bool("oldest-first") {
				order = history.OldestFirst
			}

			var entries []history.Entry
			if id := cmd.String("object"); id != "" {
				entries, err = repo.ObjectHistory(ctx, id, cmd.String("from"), cmd.String("to"), order)
			} else {
				entries, err = repo.History(ctx, cmd.String("from"), cmd.String("to"), order)
			}
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			displayHistory(entries, cmd.Bool("patch"))

			if cmd.Bool("verify") {
				if err := repo.VerifyHistory(ctx, cmd.String("to")); err != nil {
					return fmt.Errorf("verify history: %w", err)
				}
				displayVerified()
			}
			return nil
		},
	}
}

// searchCommand creates the search subcommand.
func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "List catalog objects, optionally filtered by an id substring",
		ArgsUsage: "[term]",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:    "revision",
				Aliases: []string{"r"},
				Usage:   "Revision reference to search at (defaults to the current revision)",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}

			info, err := repo.GetCommit(ctx, cmd.String("revision"))
			if err != nil {
				return err
			}
			tree, err := repo.Tree(ctx, info.Revision)
			if err != nil {
				return err
			}

			displaySearchResults(tree, cmd.Args().Get(0))
			return nil
		},
	}
}

// rollbackCommand creates the rollback subcommand.
func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Restore the catalog to the state of an earlier revision",
		ArgsUsage: "<revision>",
		Flags: []cli.Flag{
			repositoryFlag,
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.Validation("revision argument required")
			}

			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}

			revision, err := repo.Rollback(ctx, cmd.Args().Get(0))
			if err != nil {
				return fmt.Errorf("rollback: %w", err)
			}

			displayRolledBack(revision)
			return nil
		},
	}
}

// backupCommand creates the backup subcommand.
func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Mirror the repository history to a remote location",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:  "remote",
				Usage: "Backup location (defaults to the configured remote)",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}
			if err := repo.Backup(ctx, cmd.String("remote")); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			slog.Info("backup complete")
			return nil
		},
	}
}

// restoreCommand creates the restore subcommand.
func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "Pull repository history from a remote location",
		Flags: []cli.Flag{
			repositoryFlag,
			&cli.StringFlag{
				Name:  "remote",
				Usage: "Remote location (defaults to the configured remote)",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := openRepository(cmd)
			if err != nil {
				return err
			}
			if err := repo.Restore(ctx, cmd.String("remote")); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			slog.Info("restore complete")
			return nil
		},
	}
}

// configCommand creates the config subcommand.
func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect and edit the repository configuration",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a configuration value",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{repositoryFlag, verboseFlag},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return apperrors.Validation("key argument required")
					}
					cfg, err := config.Load(cmd.String("repository"))
					if err != nil {
						return err
					}
					value, err := cfg.Get(cmd.Args().Get(0))
					if err != nil {
						return err
					}
					displayConfigValue(value)
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Assign a configuration value",
				ArgsUsage: "<key> <value>",
				Flags:     []cli.Flag{repositoryFlag, verboseFlag},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 2 {
						return apperrors.Validation("key and value arguments required")
					}
					root := cmd.String("repository")
					cfg, err := config.Load(root)
					if err != nil {
						return err
					}
					if err := cfg.Set(cmd.Args().Get(0), cmd.Args().Get(1)); err != nil {
						return err
					}
					return cfg.Save(root)
				},
			},
			{
				Name:  "list",
				Usage: "Print every configuration value",
				Flags: []cli.Flag{repositoryFlag, verboseFlag},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := config.Load(cmd.String("repository"))
					if err != nil {
						return err
					}
					displayConfigList(cfg)
					return nil
				},
			},
		},
	}
}
