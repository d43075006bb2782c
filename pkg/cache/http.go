package cache

import (
	"net/http"
	"slices"
	"time"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// NewEntry builds an entry for a response with the given status, headers and
// body. The body is copied.
func NewEntry(status int, header http.Header, body []byte, p Policy) *Entry {
	now := time.Now()
	soft, hard := expiries(header, p, now)

	entry := &Entry{
		Data:        slices.Clone(body),
		ETag:        header.Get("ETag"),
		StatusCode:  status,
		Headers:     header.Clone(),
		CachedAt:    now,
		SoftExpires: soft,
		HardExpires: hard,
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// EntryFromResponse converts a completed XRPC response to an entry.
func EntryFromResponse(resp *xrpc.Response, p Policy) *Entry {
	return NewEntry(resp.StatusCode, resp.Header, resp.Body, p)
}

// expiries computes the soft and hard deadlines for a response received at
// now. A server Expires header later than the policy's soft deadline extends
// it, but never past the hard deadline.
func expiries(header http.Header, p Policy, now time.Time) (soft, hard time.Time) {
	soft = now.Add(p.SoftExpires)
	hard = now.Add(p.HardExpires)

	if expiresStr := header.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil && expires.After(soft) {
			soft = expires
		}
	}
	if soft.After(hard) {
		soft = hard
	}
	return soft, hard
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
	ConditionalRequestsSent.Inc()
}
