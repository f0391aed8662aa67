package services

import (
	"errors"
	"fmt"
)

var (
	ErrFlowNotFound       = errors.New("booking flow not found")
	ErrFlowClosed         = errors.New("booking flow is closed")
	ErrInvalidStep        = errors.New("operation not allowed in the current step")
	ErrRequestInFlight    = errors.New("a request is already in progress for this flow")
	ErrSubmissionInFlight = errors.New("a submission is already in progress for this draft")
	ErrStaleResponse      = errors.New("flow changed while the request was in flight")

	ErrPrimaryNotRemovable = errors.New("the primary item cannot be removed")
	ErrEntryNotFound       = errors.New("basket entry not found")
	ErrDuplicateItem       = errors.New("item is already in the basket")
	ErrItemNotSuggested    = errors.New("item was not among the last suggestions")
	ErrItemNotFound        = errors.New("inventory item not found")
	ErrReservationNotFound = errors.New("reservation not found")

	ErrCalendarNotLoaded  = errors.New("availability calendar is not loaded")
	ErrInvalidDate        = errors.New("invalid date")
	ErrDateInPast         = errors.New("date is in the past")
	ErrDateFullyReserved  = errors.New("cannot select a fully reserved date")
	ErrReturnBeforeBorrow = errors.New("return must not precede borrow")

	ErrMissingQuantity          = errors.New("quantity is required")
	ErrInvalidQuantity          = errors.New("quantity must be a positive whole number")
	ErrQuantityExceedsAvailable = errors.New("quantity exceeds available items")

	ErrNoAlternative = errors.New("no alternative dates were suggested")

	ErrHistoryUnavailable = errors.New("reservation attempts are not being recorded")
)

// ValidationError is a local precondition failure; no network call was made.
// Title and Message are the user-facing toast texts.
type ValidationError struct {
	Field   string
	Title   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field, title, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Title: title, Message: message, Err: err}
}

// ConflictError is a recoverable 409 from the backend
type ConflictError struct {
	Message           string
	NextAvailableDate string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// TransportError means the backend could not be reached. Retryable, never retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a non-409, non-2xx response
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}
