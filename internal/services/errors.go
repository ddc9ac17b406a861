package services

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers. Handlers map these to HTTP statuses;
// the websocket layer maps them to error events.
var (
	// ErrNotFound: unknown chat id. Non-retryable.
	ErrNotFound = errors.New("chat not found")

	// ErrInvalidState: the operation is illegal for the chat's current
	// status (completed, expired, or past its TTL). Non-retryable.
	ErrInvalidState = errors.New("operation not valid for chat state")

	// ErrValidationFailed: malformed input. Rejected before any field of
	// the record is touched.
	ErrValidationFailed = errors.New("validation failed")

	// ErrTransientIO: store or transport failure. Clients retry with
	// backoff.
	ErrTransientIO = errors.New("transient storage failure")

	// ErrVersionConflict: optimistic replace lost the race. Internal to the
	// service layer, which retries under the per-chat lock.
	ErrVersionConflict = errors.New("chat version conflict")

	// ErrDuplicateActiveChat: the store's uniqueness constraint on
	// (vehicle_number, active) fired. The service retries as a join.
	ErrDuplicateActiveChat = errors.New("active chat already exists for vehicle")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}
