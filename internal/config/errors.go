package config

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error codes shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No config files found
	ErrCodeLoadFailed  = "E004" // Load or decode failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeUnknownKey = "E101" // Unknown top-level key
	ErrCodeSchema     = "E102" // Entry does not match its schema type
	ErrCodeBadType    = "E103" // Invalid type descriptor
	ErrCodeRejected   = "E110" // Registration rejected by the instance
)

// Error is a configuration problem, located by a document path such as
// "properties[2]" and, for CUE sources, a file position.
type Error struct {
	Code    string
	Path    string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
