package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrInsufficientCredit       = errors.New("insufficient credit")
	ErrCreditNotActive          = errors.New("credit not active")
	ErrInsufficientCashTendered = errors.New("insufficient cash tendered")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrSessionAlreadyOpen       = errors.New("session already open for terminal")
	ErrNoOpenSession            = errors.New("no open session for terminal")
	ErrSessionClosed            = errors.New("session is closed")
	ErrUnauthorized             = errors.New("unauthorized")
)

// ValidationError reports a rejected field before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
