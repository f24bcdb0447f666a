package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a catalog failure.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	NotFound
	BadRequest
	Forbidden
	TooManyRequests
	ServiceUnavailable
	RequestTimeout
	NetworkConnection
	Cancelled
)

var codeNames = [...]string{
	Unknown:            "Unknown",
	NotFound:           "NotFound",
	BadRequest:         "BadRequest",
	Forbidden:          "Forbidden",
	TooManyRequests:    "TooManyRequests",
	ServiceUnavailable: "ServiceUnavailable",
	RequestTimeout:     "RequestTimeout",
	NetworkConnection:  "NetworkConnection",
	Cancelled:          "Cancelled",
}

func (c ErrorCode) String() string {
	if int(c) >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Retryable reports whether a request failing with c may succeed later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case TooManyRequests, ServiceUnavailable, RequestTimeout, NetworkConnection:
		return true
	default:
		return false
	}
}

// Error is a classified catalog failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewError returns an *Error with the given code.
func NewError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("catalog: %s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("catalog: %s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("catalog: %s: %s", e.Code, e.Message)
	default:
		return "catalog: " + e.Code.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain. Context
// errors map to Cancelled and RequestTimeout, anything else to Unknown.
func CodeOf(err error) ErrorCode {
	var ce *Error
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return RequestTimeout
	default:
		return Unknown
	}
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == NotFound
}
