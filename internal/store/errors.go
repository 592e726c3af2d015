package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// classify maps a low-level driver failure onto an errdefs kind so callers
// never have to inspect SQLite error strings. Anything that is not a clean
// not-found or constraint violation counts as unavailable: the degradation
// gate owns the interpretation of those.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, errdefs.ErrNotFound)
	}
	if isConstraintError(err) {
		return fmt.Errorf("%s: %w", op, errdefs.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w: %v", op, errdefs.ErrUnavailable, err)
}

// isConstraintError checks for a SQLite unique/primary-key violation.
func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "constraint failed")
}

// isRetryableConflict checks for SQLITE_BUSY and "database is locked"
// errors. These are concurrency conflicts that warrant a short retry
// before being treated as unavailability.
func isRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}
