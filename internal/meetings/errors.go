package meetings

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidTier         = "INVALID_TIER"
	CodeFrequencyNotAllowed = "FREQUENCY_NOT_ALLOWED"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeMeetingNotFound     = "MEETING_NOT_FOUND"
	CodeInstanceNotFound    = "INSTANCE_NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodeDateConflict        = "DATE_CONFLICT"
	CodeDatabase            = "DATABASE_ERROR"
)

// Error is a scheduler failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func dbError(op string, err error) *Error {
	return &Error{Code: CodeDatabase, Message: op + " failed", Err: err}
}

// CodeOf returns the stable code of err, or "" when err is not a scheduler error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Store sentinel errors.
var (
	ErrNotFound     = errors.New("meetings: not found")
	ErrActiveExists = errors.New("meetings: user already has an active recurring meeting")
	ErrSlotTaken    = errors.New("meetings: an open instance already exists on that date")
)
