package payment

import (
	"errors"
	"fmt"
)

// Input errors are detected locally, before any network call.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAmountTooLarge      = errors.New("amount too large")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRecipient    = errors.New("invalid recipient address")
)

// Precondition errors block a submission before anything is signed.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrReferenceMissing   = errors.New("latest blockhash unavailable")
	ErrReferenceExpired   = errors.New("latest blockhash expired")
)

// ValidationError pairs a sentinel error with the message shown to the user.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Err: err, Message: fmt.Sprintf(format, args...)}
}

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	switch {
	case errors.Is(err, ErrWalletNotConnected):
		return "Please connect your wallet first"
	case errors.Is(err, ErrInvalidAmount):
		return "Please enter a valid amount"
	case errors.Is(err, ErrAmountTooLarge):
		return "Amount is too large"
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, ErrInvalidRecipient):
		return "Invalid recipient address"
	case errors.Is(err, ErrReferenceMissing):
		return "Unable to fetch latest blockhash. Please try again."
	case errors.Is(err, ErrReferenceExpired):
		return "Network data is out of date. Please try again."
	case err != nil && err.Error() != "":
		return err.Error()
	default:
		return genericFailure
	}
}
