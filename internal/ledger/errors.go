package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrEntryNotFound       = errors.New("ledger: transaction not found")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")

	// ErrInvariantViolation means a debit or refund tried to release more
	// than is reserved. It is a bug in the caller, not a user error.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)

// InsufficientCreditsError carries the numbers behind an ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Available int
	Required  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("ledger: insufficient credits: available %d, required %d", e.Available, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// IsInsufficientCredits reports whether err maps to a payment-required outcome.
func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) && !errors.Is(err, ErrInvariantViolation)
}
