package services

import (
	"errors"
	"net/http"
)

// Ledger and workflow errors. Handlers map these to HTTP statuses through
// StatusForError; everything else is treated as an internal error.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSenderNotFound    = errors.New("sender account not found")
	ErrRecipientNotFound = errors.New("recipient account not found")
	ErrSelfTransfer      = errors.New("cannot transfer to own account")
	ErrAccountFrozen     = errors.New("account is not active")

	// ErrStoreUnavailable wraps storage failures where the transfer is known
	// NOT to have committed. ErrAmbiguousCommit means the commit itself failed
	// and the outcome is unknown; callers must not retry blindly.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	ErrAmbiguousCommit  = errors.New("transfer outcome unknown")
)

func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSelfTransfer), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrSenderNotFound), errors.Is(err, ErrRecipientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccountFrozen):
		return http.StatusForbidden
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
