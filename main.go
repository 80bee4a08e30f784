// Package main is the entry point for stac-repository.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/cmd"
)

// Exit codes, one per error category, so scripts can react to a failure
// without parsing messages.
const (
	exitOK          = 0
	exitFailure     = 1
	exitValidation  = 2
	exitNotFound    = 3
	exitConflict    = 4
	exitUnsupported = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cmd.NewApp()
	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return exitValidation
	case errors.Is(err, apperrors.ErrNotFound):
		return exitNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return exitConflict
	case errors.Is(err, apperrors.ErrUnsupported):
		return exitUnsupported
	default:
		return exitFailure
	}
}
