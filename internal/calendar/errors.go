package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const (
	CodeInvalidToken  = "INVALID_TOKEN"
	CodeTokenExpired  = "TOKEN_EXPIRED"
	CodeNotConnected  = "NOT_CONNECTED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeNotFound      = "EVENT_NOT_FOUND"
	CodeCalendarError = "CALENDAR_ERROR"
)

// Error is a classified calendar provider failure.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status=%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed if repeated.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeRateLimited:
		return true
	case CodeCalendarError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// CodeOf returns the calendar error code for err, or "" when err is not a calendar error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// classify maps provider, OAuth and transport errors onto Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return &Error{Code: CodeInvalidToken, Message: "refresh token was revoked; reconnect the calendar", Err: err}
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &Error{Code: CodeCalendarError, Message: "token refresh failed", StatusCode: status, Err: err}
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		msg := ge.Message
		if msg == "" {
			msg = http.StatusText(ge.Code)
		}
		reason := ""
		if len(ge.Errors) > 0 {
			reason = ge.Errors[0].Reason
		}
		switch {
		case ge.Code == http.StatusUnauthorized:
			return &Error{Code: CodeInvalidToken, Message: msg, StatusCode: ge.Code, Err: err}
		case ge.Code == http.StatusTooManyRequests || reason == "rateLimitExceeded" || reason == "userRateLimitExceeded":
			return &Error{Code: CodeRateLimited, Message: msg, StatusCode: ge.Code, Err: err}
		case ge.Code == http.StatusNotFound || ge.Code == http.StatusGone:
			return &Error{Code: CodeNotFound, Message: msg, StatusCode: ge.Code, Err: err}
		}
		return &Error{Code: CodeCalendarError, Message: msg, StatusCode: ge.Code, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return &Error{Code: CodeCalendarError, Message: "calendar provider unreachable", Err: err}
	}
	return &Error{Code: CodeCalendarError, Message: err.Error(), Err: err}
}
