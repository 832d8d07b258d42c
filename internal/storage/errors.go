package storage

import (
	"errors"
	"fmt"

	"github.com/bull/docs-rag/internal/domain"
)

var (
	// ErrUnknownBackend indicates a backend name with no implementation.
	ErrUnknownBackend = errors.New("unknown index backend")
)

// unavailable wraps a backend failure as domain.ErrIndexUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexUnavailable, op, err)
}

// checkDimension returns domain.ErrDimensionMismatch when got differs from want.
func checkDimension(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s has %d dimensions, expected %d", domain.ErrDimensionMismatch, what, got, want)
	}
	return nil
}
