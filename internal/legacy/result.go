package legacy

import (
	"encoding/json"
	"errors"
)

// ErrOperatorUnavailable is returned by an Operator whose transport is down.
// Post reports nothing for it, the same as a gateway timeout.
var ErrOperatorUnavailable = errors.New("legacy: operator unavailable")

// Error is a structured dispatch error. It encodes as {"ERROR": message}.
type Error struct {
	Code    ErrorCode
	Message string
}

// ErrorCode classifies dispatch errors.
type ErrorCode string

// Error codes.
const (
	CodeUnknownAPI      ErrorCode = "unknown_api"
	CodeControlDisabled ErrorCode = "control_disabled"
	CodeUnauthorized    ErrorCode = "unauthorized"
	CodeInvalidRequest  ErrorCode = "invalid_request"
	CodeCommandFailed   ErrorCode = "command_failed"
)

func (e *Error) Error() string {
	return e.Message
}

// MarshalJSON encodes the error in the legacy {"ERROR": ...} shape.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"ERROR": e.Message})
}

func errUnknownAPI(name string) *Error {
	return &Error{Code: CodeUnknownAPI, Message: "Unknown API: " + name}
}

func errControlDisabled() *Error {
	return &Error{Code: CodeControlDisabled, Message: "Control Commands Disabled - Set control secret to enable"}
}

func errUnauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "Control Command Token Invalid"}
}

// Result is the outcome of Poll or Post. Exactly one of Value and Err is
// meaningful; both nil means nothing to report.
type Result struct {
	Value any
	Err   *Error
}

// Empty reports whether the result carries neither a value nor an error.
func (r Result) Empty() bool {
	return r.Value == nil && r.Err == nil
}
