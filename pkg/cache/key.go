package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// KeyPrefix namespaces every cache entry in Redis.
const KeyPrefix = "xrpc"

// Key identifies a cached XRPC response. Two descriptors that describe the
// same call under the same credential identity produce equal keys.
type Key struct {
	// Operation is the NSID (e.g. "app.bsky.actor.getProfile").
	Operation string

	// Params holds the raw query parameter values.
	Params url.Values

	// BodyDigest is the xxhash of the request body (0 when there is none).
	BodyDigest uint64

	// Principal is the credential identity ("" for anonymous calls).
	Principal string
}

// KeyFor derives the key for d as seen by principal.
func KeyFor(d xrpc.Descriptor, principal string) Key {
	k := Key{Operation: d.Operation(), Principal: principal}
	if params := d.Params(); len(params) > 0 {
		k.Params = make(url.Values, len(params))
		for _, p := range params {
			k.Params[p.Name] = append(k.Params[p.Name], p.Values...)
		}
	}
	if d.HasBody() {
		k.BodyDigest = xxhash.Sum64(d.Body())
	}
	return k
}

// String generates a deterministic cache key string.
// Format: xrpc:operation:param1=val1:param2=a,b:body=digest:as=principal
//
// Example:
//
//	xrpc:app.bsky.actor.searchActors:cursor=:limit=25:q=alice
func (k Key) String() string {
	parts := []string{KeyPrefix, k.Operation}

	// Query params sorted for determinism; list elements escaped one by one
	// so ["a,b"] and ["a","b"] stay distinct.
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := k.Params[name]
			escaped := make([]string, len(values))
			for i, v := range values {
				escaped[i] = url.QueryEscape(v)
			}
			parts = append(parts, url.QueryEscape(name)+"="+strings.Join(escaped, ","))
		}
	}

	if k.BodyDigest != 0 {
		parts = append(parts, "body="+strconv.FormatUint(k.BodyDigest, 16))
	}

	if k.Principal != "" {
		parts = append(parts, "as="+url.QueryEscape(k.Principal))
	}

	return strings.Join(parts, ":")
}

// operationPattern matches every key of op except the bare one.
func operationPattern(op string) string {
	return KeyPrefix + ":" + op + ":*"
}
