package client

import (
	"errors"
	"net/http"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is wrapped together with the last failure when all
	// retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus categorizes an HTTP status code. 2xx and 3xx yield "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ClassOf categorizes a dispatch error for observability. Validation,
// auth and decode failures have no class.
func ClassOf(err error) ErrorClass {
	var he *xrpc.HTTPStatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &he):
		return classifyStatus(he.StatusCode)
	case errors.Is(err, xrpc.ErrNetwork):
		return ErrorClassNetwork
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are the caller's fault; repeating them changes nothing
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
