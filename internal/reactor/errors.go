package reactor

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while propagating a batch.
//
// Runtime errors split in two groups:
//   - soft errors (unknown property, type mismatch, unknown service or
//     shortcut, malformed order, failing callback): returned under strict
//     mode, logged and skipped under lenient mode
//   - fatal errors (depth exceeded, re-entrant execution, Die, scope misuse,
//     torn-down instance): always returned
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Instance names the owning instance.
	Instance string

	// Property identifies the affected property, if any.
	Property string

	// Event identifies the affected event, if any.
	Event string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDepthExceeded indicates an update/dispatch cycle that never
	// reached a fixpoint within the configured max depth.
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeReentrant indicates a pass was started while another one held
	// the execution lock.
	ErrCodeReentrant RuntimeErrorCode = "REENTRANT_EXECUTION"

	// ErrCodeUnknownProperty indicates a write to an undeclared property.
	ErrCodeUnknownProperty RuntimeErrorCode = "UNKNOWN_PROPERTY"

	// ErrCodeTypeMismatch indicates a value that fails the property type.
	ErrCodeTypeMismatch RuntimeErrorCode = "TYPE_MISMATCH"

	// ErrCodeUnknownService indicates a request for an unregistered service.
	ErrCodeUnknownService RuntimeErrorCode = "UNKNOWN_SERVICE"

	// ErrCodeNoTransport indicates a service request without a transport.
	ErrCodeNoTransport RuntimeErrorCode = "NO_TRANSPORT"

	// ErrCodeUnknownShortcut indicates a reference to an unbound shortcut.
	ErrCodeUnknownShortcut RuntimeErrorCode = "UNKNOWN_SHORTCUT"

	// ErrCodeMalformedOrder indicates an order with a missing type or an
	// unknown kind.
	ErrCodeMalformedOrder RuntimeErrorCode = "MALFORMED_ORDER"

	// ErrCodeCallbackFailed indicates a user callback returned an error or
	// panicked.
	ErrCodeCallbackFailed RuntimeErrorCode = "CALLBACK_FAILED"

	// ErrCodeDied indicates a callback called Die.
	ErrCodeDied RuntimeErrorCode = "DIED"

	// ErrCodeScopeDisposed indicates a scope used after its callback returned.
	ErrCodeScopeDisposed RuntimeErrorCode = "SCOPE_DISPOSED"

	// ErrCodeCapabilityDenied indicates a scope method outside the granted
	// capability set.
	ErrCodeCapabilityDenied RuntimeErrorCode = "CAPABILITY_DENIED"

	// ErrCodeTornDown indicates use of an instance after Teardown.
	ErrCodeTornDown RuntimeErrorCode = "TORN_DOWN"
)

var softCodes = map[RuntimeErrorCode]bool{
	ErrCodeUnknownProperty: true,
	ErrCodeTypeMismatch:    true,
	ErrCodeUnknownService:  true,
	ErrCodeNoTransport:     true,
	ErrCodeUnknownShortcut: true,
	ErrCodeMalformedOrder:  true,
	ErrCodeCallbackFailed:  true,
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Property != "":
		msg = fmt.Sprintf("%s (property=%s)", msg, e.Property)
	case e.Event != "":
		msg = fmt.Sprintf("%s (event=%s)", msg, e.Event)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Instance != "" {
		return fmt.Sprintf("reactor[%s]: %s", e.Instance, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Soft reports whether the error is subject to the strict/lenient setting.
func (e *RuntimeError) Soft() bool {
	return softCodes[e.Code]
}

// IsSoftError returns true if err is a soft RuntimeError.
// Uses errors.As to handle wrapped errors.
func IsSoftError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Soft()
	}
	return false
}

// IsDepthError returns true if err reports an exceeded max depth.
func IsDepthError(err error) bool {
	return HasCode(err, ErrCodeDepthExceeded)
}

// HasCode returns true if err is a RuntimeError with the given code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewDepthError creates a RuntimeError for an exceeded max depth.
func NewDepthError(instance string, loopID int64, depth, maxDepth int) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeDepthExceeded,
		Message:  fmt.Sprintf("loop exceeded max depth (%d > %d)", depth, maxDepth),
		Instance: instance,
		Details: map[string]string{
			"loop_id":   fmt.Sprintf("%d", loopID),
			"depth":     fmt.Sprintf("%d", depth),
			"max_depth": fmt.Sprintf("%d", maxDepth),
		},
	}
}

// ConfigError reports a broken registration. Configuration errors are
// always returned, whatever the strict setting, because the wiring they
// describe cannot safely run.
type ConfigError struct {
	Code     ConfigErrorCode
	Instance string
	ID       string
	Message  string
	Err      error
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	ErrCodeInvalidID    ConfigErrorCode = "INVALID_ID"
	ErrCodeDuplicateID  ConfigErrorCode = "DUPLICATE_ID"
	ErrCodeReservedID   ConfigErrorCode = "RESERVED_ID"
	ErrCodeInvalidType  ConfigErrorCode = "INVALID_TYPE"
	ErrCodeMissingField ConfigErrorCode = "MISSING_FIELD"
	ErrCodeUnknownID    ConfigErrorCode = "UNKNOWN_ID"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Instance != "" {
		return fmt.Sprintf("reactor[%s]: %s", e.Instance, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err is a ConfigError with the given code.
func IsConfigError(err error, code ConfigErrorCode) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
