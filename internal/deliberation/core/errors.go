package core

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable error classification.
type ErrorCode string

const (
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeValidation          ErrorCode = "VALIDATION"
	ErrCodeCapacity            ErrorCode = "CAPACITY"
	ErrCodeConsensusImpossible ErrorCode = "CONSENSUS_IMPOSSIBLE"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodePermission          ErrorCode = "PERMISSION"
)

// Error is the typed error returned by all deliberation operations. It
// carries the originating session id when one is known.
type Error struct {
	Code      ErrorCode `json:"code"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: session %s: %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a typed Error. sessionID may be empty for operations
// that are not session-scoped.
func Errorf(code ErrorCode, sessionID, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		SessionID: sessionID,
		Message:   fmt.Sprintf(format, args...),
	}
}

// CodeOf extracts the error code from err, or "" if err is not a
// deliberation error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
