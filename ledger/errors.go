/*
errors.go - Centralized error types for the entitlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Handler packages wrap these with additional context; the API layer
  maps them onto HTTP statuses.

ERROR CATEGORIES:
  1. Identity errors  - Missing or insufficient caller identity
  2. Validation errors - Unknown targets, malformed requests
  3. Balance errors   - Insufficient funds
  4. Replay guards    - Duplicate reference ids (expected on retries)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) {
      // ib.Required, ib.Current for client display
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when an operation requiring identity is
	// called without a verified user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when an authenticated caller lacks the
	// elevated operator claim required for admin operations.
	ErrForbidden = errors.New("forbidden")

	// ErrTargetNotFound is returned when a referenced episode, series, or
	// coin package does not exist or is not purchasable.
	ErrTargetNotFound = errors.New("target not found")

	// ErrWalletNotFound is returned when a user has no wallet row.
	// Wallets are created at account creation, outside this core.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance is returned when a debit would push the
	// balance below zero. No mutation occurs.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateRef is returned when a transaction with the same RefID
	// already exists. This is expected behavior for webhook redelivery.
	ErrDuplicateRef = errors.New("duplicate reference id")

	// ErrAlreadyUnlocked is returned by store inserts when an unlock grant
	// for the same (user, target) already exists.
	ErrAlreadyUnlocked = errors.New("already unlocked")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError carries the numbers the client needs to show
// a top-up prompt.
type InsufficientBalanceError struct {
	UserID   UserID
	Required int64
	Current  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, current %d", e.Required, e.Current)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid client input
// rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateRef)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrWalletNotFound)
}
