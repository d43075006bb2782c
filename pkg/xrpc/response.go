package xrpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
)

// Response is a completed XRPC exchange with a 2xx status.
type Response struct {
	Operation  string          `json:"operation"`
	StatusCode int             `json:"status_code"`
	Header     http.Header     `json:"header,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`

	// FromCache is set when the body was served from the response cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return &DecodeError{Operation: r.Operation, Err: errEmptyBody}
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{Operation: r.Operation, Err: err}
	}
	return nil
}

// Clone returns a deep copy so every receiver of a shared result owns its data.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	c.Body = slices.Clone(r.Body)
	return &c
}

// DecodeAs decodes the response body into a new T.
func DecodeAs[T any](r *Response) (T, error) {
	var v T
	err := r.Decode(&v)
	return v, err
}

var errEmptyBody = errors.New("empty body")
