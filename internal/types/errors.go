package types

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes type system errors.
type ErrorCode string

const (
	// ErrCodeInvalidType indicates a malformed descriptor or a reference to
	// a type that is not registered.
	ErrCodeInvalidType ErrorCode = "INVALID_TYPE"

	// ErrCodeReservedName indicates a custom type id that collides with an
	// atomic name.
	ErrCodeReservedName ErrorCode = "RESERVED_NAME"

	// ErrCodeAlreadyDefined indicates a second registration of a cemented id.
	ErrCodeAlreadyDefined ErrorCode = "ALREADY_DEFINED"
)

// Error is returned for schema problems, as opposed to data mismatches.
type Error struct {
	Code       ErrorCode
	Descriptor string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Descriptor != "" {
		return fmt.Sprintf("%s: %s (descriptor=%s)", e.Code, e.Message, e.Descriptor)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidType(desc any, format string, args ...any) *Error {
	return &Error{
		Code:       ErrCodeInvalidType,
		Descriptor: fmt.Sprint(desc),
		Message:    fmt.Sprintf(format, args...),
	}
}

// IsInvalidType returns true if err is an ErrCodeInvalidType error.
// Uses errors.As to handle wrapped errors.
func IsInvalidType(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == ErrCodeInvalidType
	}
	return false
}

// IsAlreadyDefined returns true if err reports a duplicate registration.
func IsAlreadyDefined(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == ErrCodeAlreadyDefined
	}
	return false
}
