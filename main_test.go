package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fntb/stac-repository/internal/apperrors"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.Validation("bad input"), exitValidation},
		{"not found", apperrors.NotFoundObject("item-1"), exitNotFound},
		{"conflict", apperrors.Conflict("a", "b"), exitConflict},
		{"unsupported", apperrors.Unsupported("revert"), exitUnsupported},
		{"wrapped validation", fmt.Errorf("commit: %w", apperrors.Validation("bad")), exitValidation},
		{"plain error", errors.New("boom"), exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
