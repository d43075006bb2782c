package cache

import (
	"net/http"
	"slices"
	"time"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Entry represents a cached XRPC response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// LastModified is when the data was last modified (from the Last-Modified header)
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// SoftExpires is when the entry must be revalidated before use
	SoftExpires time.Time `json:"soft_expires"`

	// HardExpires is when the entry is dropped
	HardExpires time.Time `json:"hard_expires"`
}

// IsStale returns true once the entry needs revalidation.
func (e *Entry) IsStale() bool {
	return time.Now().After(e.SoftExpires)
}

// IsExpired returns true if the entry can no longer be served at all.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.HardExpires)
}

// TTL returns the time until hard expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.HardExpires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = slices.Clone(e.Data)
	c.Headers = e.Headers.Clone()
	return &c
}

// ToResponse renders the entry as a response to op.
func (e *Entry) ToResponse(op string) *xrpc.Response {
	return &xrpc.Response{
		Operation:  op,
		StatusCode: e.StatusCode,
		Header:     e.Headers.Clone(),
		Body:       slices.Clone(e.Data),
		FromCache:  true,
	}
}
