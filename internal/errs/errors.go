// Package errs defines the error taxonomy shared by the supervisor, install
// pipeline, cache and backup engine.
package errs

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeNotFound       = "NOT_FOUND"
	CodeInstallFailed  = "INSTALL_FAILED"
	CodeCacheMiss      = "CACHE_MISS"
	CodeBackupFailed   = "BACKUP_FAILED"
	CodeRestoreFailed  = "RESTORE_FAILED"
)

// Error is a coded error with a human-readable message.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
