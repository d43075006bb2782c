package xrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below, for errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrAuthRequired = errors.New("authentication required")
	ErrNetwork      = errors.New("network failure")
	ErrHTTPStatus   = errors.New("unexpected http status")
	ErrDecode       = errors.New("response decode failed")
)

// ErrorKind names a branch of the error taxonomy.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindAuthRequired ErrorKind = "auth_required"
	KindNetwork      ErrorKind = "network"
	KindHTTPStatus   ErrorKind = "http_status"
	KindDecode       ErrorKind = "decode"
)

// ValidationError reports malformed or out-of-range builder input.
type ValidationError struct {
	Operation string
	Param     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("xrpc %s: invalid request: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("xrpc %s: invalid %s: %s", e.Operation, e.Param, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AuthRequiredError is returned before any network call when an operation
// requires a credential and none is available.
type AuthRequiredError struct {
	Operation string
	Err       error
}

func (e *AuthRequiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xrpc %s: authentication required: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("xrpc %s: authentication required", e.Operation)
}

func (e *AuthRequiredError) Is(target error) bool { return target == ErrAuthRequired }

func (e *AuthRequiredError) Unwrap() error { return e.Err }

// NetworkError wraps a transport failure, including cancellation.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("xrpc %s: network error: %v", e.Operation, e.Err)
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx response. Name and Message are taken from the
// XRPC error body when it has one.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Body       []byte
	Name       string
	Message    string
}

// NewHTTPStatusError builds the error and parses the XRPC error body.
func NewHTTPStatusError(op string, status int, body []byte) *HTTPStatusError {
	e := &HTTPStatusError{Operation: op, StatusCode: status, Body: body}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Name = payload.Error
		e.Message = payload.Message
	}
	return e
}

func (e *HTTPStatusError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("xrpc %s: status %d: %s: %s", e.Operation, e.StatusCode, e.Name, e.Message)
	case e.Name != "":
		return fmt.Sprintf("xrpc %s: status %d: %s", e.Operation, e.StatusCode, e.Name)
	default:
		return fmt.Sprintf("xrpc %s: status %d", e.Operation, e.StatusCode)
	}
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrHTTPStatus }

// DecodeError reports a payload that could not be parsed.
type DecodeError struct {
	Operation string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("xrpc %s: decode response: %v", e.Operation, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind classifies err. It returns "" for errors outside the taxonomy.
func Kind(err error) ErrorKind {
	var (
		ve *ValidationError
		ae *AuthRequiredError
		ne *NetworkError
		he *HTTPStatusError
		de *DecodeError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAuthRequired
	case errors.As(err, &he):
		return KindHTTPStatus
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &ne):
		return KindNetwork
	default:
		return ""
	}
}

// OperationOf returns the operation id carried by a taxonomy error.
func OperationOf(err error) string {
	var (
		ve *ValidationError
		ae *AuthRequiredError
		ne *NetworkError
		he *HTTPStatusError
		de *DecodeError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Operation
	case errors.As(err, &ae):
		return ae.Operation
	case errors.As(err, &he):
		return he.Operation
	case errors.As(err, &de):
		return de.Operation
	case errors.As(err, &ne):
		return ne.Operation
	default:
		return ""
	}
}
