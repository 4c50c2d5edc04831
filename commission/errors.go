/*
errors.go - Error taxonomy for the distribution engine

ERROR CATEGORIES:
  1. NotFound      - plot, profile or wallet row missing
  2. InvalidState  - plot cannot be distributed as it stands
  3. StoreFailure  - backing store read/write failed
  4. Warnings      - non-fatal consistency drift (clamped balance, duplicate
                     commission key); collected, logged, never returned as errors

PROPAGATION:
  Single-plot operations return these errors to the caller. Batch operations
  record {plotId, error} and move on to the next plot.

USAGE:
  if commission.IsNotFound(err) { ... 404 ... }
  var ise *commission.InvalidStateError
  if errors.As(err, &ise) { ... ise.Reason ... }
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSellerNotFound is returned when a plot's broker has no resolvable profile.
	ErrSellerNotFound = fmt.Errorf("seller profile %w", ErrNotFound)

	// ErrInvalidState is returned when a plot is not in a distributable state.
	ErrInvalidState = errors.New("invalid state")

	// ErrStoreFailure marks failures of the backing store.
	ErrStoreFailure = errors.New("store failure")

	// ErrConcurrentModification is returned when an optimistic wallet update
	// lost a race. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError describes why a plot cannot be distributed.
type InvalidStateError struct {
	PlotID PlotID
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.PlotID == "" {
		return fmt.Sprintf("invalid state: %s", e.Reason)
	}
	return fmt.Sprintf("invalid state for plot %s: %s", e.PlotID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func invalidState(plotID PlotID, format string, args ...any) error {
	return &InvalidStateError{PlotID: plotID, Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps a backing store failure with the operation that failed.
// It matches ErrStoreFailure and unwraps to the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// storeErr wraps err unless it already carries a known category.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStoreFailure) || errors.Is(err, ErrConcurrentModification) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// CONSISTENCY WARNINGS - Non-fatal, observable drift
// =============================================================================

type WarningKind string

const (
	WarnNegativeClamped   WarningKind = "negative_balance_clamped"
	WarnDuplicateKey      WarningKind = "duplicate_commission_key"
	WarnExistingRecords   WarningKind = "existing_records_on_initial"
	WarnRecipientSkipped  WarningKind = "recipient_skipped"
	WarnStaleRecordPurged WarningKind = "stale_commission_removed"
)

type Warning struct {
	Kind    WarningKind
	PlotID  PlotID
	OwnerID ProfileID
	Detail  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s plot=%s owner=%s: %s", w.Kind, w.PlotID, w.OwnerID, w.Detail)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

func IsStoreFailure(err error) bool { return errors.Is(err, ErrStoreFailure) }

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
