// internal/util/errors.go
package util

import "errors"

// Common application-specific errors.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidInput         = errors.New("invalid input provided")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUserNotFound         = errors.New("user not found")
	ErrDuplicateEntry       = errors.New("duplicate entry")
	ErrRailUnavailable      = errors.New("payment rail unavailable")
	ErrVerificationMismatch = errors.New("settlement does not match expectation")
	ErrAlreadyProcessed     = errors.New("already processed")
	ErrInvalidDestination   = errors.New("invalid destination")
	ErrDepositClosed        = errors.New("deposit is no longer pending")
	ErrPuzzleClosed         = errors.New("puzzle is no longer active")
	ErrStatusConflict       = errors.New("ledger entry status changed concurrently")
	ErrPendingSettlement    = errors.New("settlement not yet final")
	ErrForbidden            = errors.New("not allowed for this account")
)

// Taxonomy aliases used by the payment core.
var (
	ErrValidation        = ErrInvalidInput
	ErrDuplicateResource = ErrDuplicateEntry
)

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// Code maps an error to the stable code returned to API clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDestination):
		return "invalid_destination"
	case errors.Is(err, ErrInvalidInput):
		return "validation_error"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRailUnavailable):
		return "rail_unavailable"
	case errors.Is(err, ErrVerificationMismatch):
		return "verification_mismatch"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate_resource"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPendingSettlement):
		return "pending_settlement"
	case errors.Is(err, ErrDepositClosed), errors.Is(err, ErrPuzzleClosed), errors.Is(err, ErrStatusConflict):
		return "conflict"
	default:
		return "internal"
	}
}
