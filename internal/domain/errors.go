package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRetailerNotFound is returned when a retailer id resolves to nothing.
	ErrRetailerNotFound = errors.New("retailer not found")

	// ErrBrandNotFound is returned when a brand lookup misses.
	ErrBrandNotFound = errors.New("brand not found")

	// ErrProductNotFound is returned when a product lookup misses.
	ErrProductNotFound = errors.New("product not found")

	// ErrInventoryNotFound is returned when no current-inventory row exists
	// for a (retailer, product) pair.
	ErrInventoryNotFound = errors.New("inventory row not found")

	// ErrEntryNotFound is returned when a dead-letter entry id resolves to nothing.
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrEntryResolved is returned when mutating a terminal dead-letter entry.
	ErrEntryResolved = errors.New("dead letter entry already resolved")

	// ErrAnalyticsNotFound is returned when no rollup row exists for a period key.
	ErrAnalyticsNotFound = errors.New("analytics row not found")

	// ErrConflict is returned when a same-key write collided with a concurrent
	// writer (uniqueness violation or stale read-modify-write). Callers retry
	// by re-reading; they never create a duplicate canonical record.
	ErrConflict = errors.New("concurrent write conflict")

	// ErrInvalidRequest is returned when request parameters are invalid.
	ErrInvalidRequest = errors.New("invalid request parameters")
)

// NormalizationError indicates a raw identity field that cannot be folded into
// a canonical key. The offending item is diverted to the dead letter handler;
// the batch continues.
type NormalizationError struct {
	Field string // "brand" or "name"
	Raw   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize %s from %q", e.Field, e.Raw)
}

// MaterializationError indicates an inventory upsert that failed after its
// snapshot was durably logged. Materialization can be retried from the log.
type MaterializationError struct {
	SnapshotID string
	Err        error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize snapshot %s: %v", e.SnapshotID, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }
