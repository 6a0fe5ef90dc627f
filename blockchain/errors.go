package blockchain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies ledger failures.
type ErrorCode int

const (
	ErrNotFound ErrorCode = iota + 1000
	ErrInsufficientFunds
	ErrSerialization
	ErrUnknownCommand
	ErrIO
	ErrValidation
)

// String returns the name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrInsufficientFunds:
		return "insufficient funds"
	case ErrSerialization:
		return "serialization"
	case ErrUnknownCommand:
		return "unknown command"
	case ErrIO:
		return "io"
	case ErrValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the ledger, the UTXO set and the
// transaction engine.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewError creates an error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// wrapError attaches a code to an underlying failure. A nil err yields nil.
func wrapError(code ErrorCode, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%d]: %s: %v", e.Code, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%d]: %s", e.Code, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code, so the
// package level sentinels below can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// GetCode returns the error code.
func (e *Error) GetCode() ErrorCode {
	return e.Code
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrNotFoundKind      = &Error{Code: ErrNotFound}
	ErrSerializationKind = &Error{Code: ErrSerialization}
	ErrIOKind            = &Error{Code: ErrIO}
	ErrValidationKind    = &Error{Code: ErrValidation}
)

// InsufficientFundsError is returned when the spendable outputs of a sender
// do not cover the requested amount.
type InsufficientFundsError struct {
	Balance int
	Amount  int
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s[%d]: not enough funds: current balance %d, requested %d",
		ErrInsufficientFunds, ErrInsufficientFunds, e.Balance, e.Amount)
}

// GetCode returns ErrInsufficientFunds.
func (e *InsufficientFundsError) GetCode() ErrorCode {
	return ErrInsufficientFunds
}

// coder is implemented by every typed error of the taxonomy, including the
// ones defined by the network package.
type coder interface {
	GetCode() ErrorCode
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if c, ok := err.(coder); ok && c.GetCode() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
