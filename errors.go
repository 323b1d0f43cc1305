package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Input errors
	ErrInvalidAmount      = errors.New("credits: amount must be positive")
	ErrMissingProfileData = errors.New("credits: missing required profile data")
	ErrMissingCorrelation = errors.New("credits: missing correlation identifier")
	ErrTooManySelections  = errors.New("credits: too many top selections")

	// Record errors
	ErrUserNotFound                  = errors.New("credits: user not found")
	ErrInsufficientCreditsOrNotFound = errors.New("credits: insufficient credits or user not found")
	ErrDuplicateKey                  = errors.New("credits: duplicate key")

	// Billing errors
	ErrUnknownPlan   = errors.New("credits: unknown plan")
	ErrInvalidEvent  = errors.New("credits: invalid billing event")
	ErrStaleEvent    = errors.New("credits: billing event older than last applied")
	ErrEventNotFound = errors.New("credits: billing event not recorded")

	// Store errors
	ErrStoreNotReady = errors.New("credits: store not ready")
	ErrStoreClosed   = errors.New("credits: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if no record matched.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsClientError returns true if the error was caused by the caller's input
// or by the state of the addressed record, so retrying the same request
// cannot succeed.
func IsClientError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingProfileData) ||
		errors.Is(err, ErrMissingCorrelation) ||
		errors.Is(err, ErrTooManySelections) ||
		errors.Is(err, ErrInsufficientCreditsOrNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady)
}
