package rental

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Registry lifecycle errors
	ErrNotInitialized     = errors.New("rental: registry not initialized")
	ErrAlreadyInitialized = errors.New("rental: registry already initialized")
	ErrInvalidInput       = errors.New("rental: invalid input")

	// Operation rejections
	ErrIndexOutOfRange   = errors.New("rental: asset index out of range")
	ErrNotAvailable      = errors.New("rental: asset is not available")
	ErrAlreadyAvailable  = errors.New("rental: asset is already available")
	ErrUnauthorized      = errors.New("rental: caller does not hold the asset")
	ErrNoCaller          = errors.New("rental: no caller identity in context")
	ErrRateLimited       = errors.New("rental: caller rate limited")
	ErrInvalidTransition = errors.New("rental: invalid state transition")

	// Settlement errors
	ErrExternalTransferFailed = errors.New("rental: external token transfer failed")
	ErrProtocolViolation      = errors.New("rental: settlement protocol violation")
	ErrPrivateCall            = errors.New("rental: privileged entry point called without registry authority")

	// Store errors
	ErrStoreClosed            = errors.New("rental: store is closed")
	ErrAssetNotFound          = errors.New("rental: asset not found")
	ErrRegistryNotFound       = errors.New("rental: registry record not found")
	ErrConcurrentModification = errors.New("rental: asset modified concurrently")
	ErrMigrationFailed        = errors.New("rental: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("rental: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ValidationError against ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsRejection returns true if the error is a synchronous refusal that left
// asset state untouched.
func IsRejection(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrAlreadyAvailable) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNoCaller) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsSettlementError returns true if the error came out of a settlement
// continuation.
func IsSettlementError(err error) bool {
	return errors.Is(err, ErrExternalTransferFailed) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrPrivateCall)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRateLimited)
}
