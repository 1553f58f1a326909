// Package errs declares the error kinds shared by the planning services.
// Callers classify failures with errors.Is; every package wraps these with
// context using fmt.Errorf("...: %w", err).
package errs

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted from a status
	// that does not permit it.
	ErrInvalidState = errors.New("invalid state")

	// ErrIllegalTransition is returned for a lifecycle edge that does not exist.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNoSpace means no candidate run had enough available platform area.
	ErrNoSpace = errors.New("no space")

	// ErrDeadlineExceeded means every run with enough area ends after the
	// requested delivery date of a part that is not lead-time flexible.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExternalService wraps failures of the estimation or drafting services.
	ErrExternalService = errors.New("external service failure")

	// ErrConflict is returned when a run kept changing underneath an
	// allocation attempt until the attempt budget was spent.
	ErrConflict = errors.New("concurrent modification")

	// ErrValidation is returned for malformed part-requests or runs.
	ErrValidation = errors.New("validation failed")
)
