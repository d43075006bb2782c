package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/ratelimit"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Envelope is a dispatch request sent to a remote worker.
type Envelope struct {
	ID         string          `json:"id"`
	Port       string          `json:"port"`
	Descriptor xrpc.Descriptor `json:"descriptor"`
}

// Reply answers an Envelope with either a response or an error.
type Reply struct {
	ID       string         `json:"id"`
	Response *WireResponse `json:"response,omitempty"`
	Error    *WireError    `json:"error,omitempty"`
}

// WireResponse is the transport form of an xrpc.Response. The body travels
// as opaque bytes so the caller receives exactly what the service sent.
type WireResponse struct {
	Operation  string      `json:"operation"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	FromCache  bool        `json:"from_cache,omitempty"`
}

// EncodeResponse converts resp to its transport form.
func EncodeResponse(resp *xrpc.Response) *WireResponse {
	if resp == nil {
		return nil
	}
	return &WireResponse{
		Operation:  resp.Operation,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		FromCache:  resp.FromCache,
	}
}

// Response rebuilds the xrpc.Response.
func (r *WireResponse) Response() *xrpc.Response {
	return &xrpc.Response{
		Operation:  r.Operation,
		StatusCode: r.StatusCode,
		Header:     r.Header,
		Body:       r.Body,
		FromCache:  r.FromCache,
	}
}

// WireError is the transport form of an xrpc taxonomy error.
type WireError struct {
	Kind      xrpc.ErrorKind `json:"kind"`
	Operation string         `json:"operation"`

	// Cause names a well-known sentinel wrapped by the error.
	Cause  string `json:"cause,omitempty"`
	Detail string `json:"detail,omitempty"`

	Param  string `json:"param,omitempty"`
	Reason string `json:"reason,omitempty"`

	Status  int    `json:"status,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Body    []byte `json:"body,omitempty"`
}

var sentinels = map[string]error{
	"closed":            ErrClosed,
	"rate_limited":      ratelimit.ErrBlocked,
	"canceled":          context.Canceled,
	"deadline_exceeded": context.DeadlineExceeded,
	"no_credential":     auth.ErrNoCredential,
}

func causeOf(err error) string {
	for name, s := range sentinels {
		if errors.Is(err, s) {
			return name
		}
	}
	return ""
}

// EncodeError converts err to its transport form. Errors outside the
// taxonomy travel as network errors.
func EncodeError(op string, err error) *WireError {
	if err == nil {
		return nil
	}

	var (
		ve *xrpc.ValidationError
		ae *xrpc.AuthRequiredError
		he *xrpc.HTTPStatusError
		de *xrpc.DecodeError
		ne *xrpc.NetworkError
	)
	switch {
	case errors.As(err, &ve):
		return &WireError{Kind: xrpc.KindValidation, Operation: ve.Operation, Param: ve.Param, Reason: ve.Reason}
	case errors.As(err, &ae):
		return &WireError{Kind: xrpc.KindAuthRequired, Operation: ae.Operation, Cause: causeOf(ae.Err), Detail: detail(ae.Err)}
	case errors.As(err, &he):
		return &WireError{
			Kind:      xrpc.KindHTTPStatus,
			Operation: he.Operation,
			Status:    he.StatusCode,
			Name:      he.Name,
			Message:   he.Message,
			Body:      he.Body,
		}
	case errors.As(err, &de):
		return &WireError{Kind: xrpc.KindDecode, Operation: de.Operation, Detail: detail(de.Err)}
	case errors.As(err, &ne):
		return &WireError{Kind: xrpc.KindNetwork, Operation: ne.Operation, Cause: causeOf(ne.Err), Detail: detail(ne.Err)}
	default:
		return &WireError{Kind: xrpc.KindNetwork, Operation: op, Cause: causeOf(err), Detail: err.Error()}
	}
}

// Err rebuilds the typed error.
func (e *WireError) Err() error {
	switch e.Kind {
	case xrpc.KindValidation:
		return &xrpc.ValidationError{Operation: e.Operation, Param: e.Param, Reason: e.Reason}
	case xrpc.KindAuthRequired:
		return &xrpc.AuthRequiredError{Operation: e.Operation, Err: e.inner()}
	case xrpc.KindHTTPStatus:
		return &xrpc.HTTPStatusError{
			Operation:  e.Operation,
			StatusCode: e.Status,
			Body:       e.Body,
			Name:       e.Name,
			Message:    e.Message,
		}
	case xrpc.KindDecode:
		return &xrpc.DecodeError{Operation: e.Operation, Err: e.inner()}
	default:
		return &xrpc.NetworkError{Operation: e.Operation, Err: e.inner()}
	}
}

func (e *WireError) inner() error {
	if s, ok := sentinels[e.Cause]; ok {
		return s
	}
	if e.Detail == "" {
		return nil
	}
	return errors.New(e.Detail)
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
