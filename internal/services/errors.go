package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for the billing core. Every write path classifies its
// failures into one of these four so handlers can map them to HTTP statuses
// without string matching.

// ValidationError rejects malformed input before any write happens.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports a state conflict: duplicate receipt or invoice
// number, voiding an already-voided entry, editing a non-draft invoice.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError reports a missing entry, invoice, or account.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

// ConsistencyError is fatal: an internal invariant (line items summing to the
// subtotal) failed at write time. The surrounding transaction is aborted.
type ConsistencyError struct{ Msg string }

func (e *ConsistencyError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

func NewConsistencyError(format string, args ...any) error {
	return &ConsistencyError{Msg: fmt.Sprintf(format, args...)}
}

// Well-known instances, comparable with errors.Is.
var (
	ErrAlreadyVoided    = &ConflictError{Msg: "ledger entry is already voided"}
	ErrDuplicateReceipt = &ConflictError{Msg: "receipt number is already in use"}
	ErrEmptyInvoice     = &ValidationError{Msg: "invoice has no line items"}
)

// HTTPStatus maps a core error to its response status.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ce *ConflictError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &ne):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
