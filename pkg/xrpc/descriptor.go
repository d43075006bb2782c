// Package xrpc models XRPC request descriptors, responses and the error
// taxonomy shared by every dispatch strategy.
//
// A Descriptor is an immutable description of one remote call: the NSID of
// the operation, the HTTP method, the query parameters in the order the
// builder declared them, an optional JSON body and the declared auth
// requirement. Descriptors do no I/O; they are handed to a dispatcher.
package xrpc

import (
	"bytes"
	"slices"
	"strings"
)

// PathPrefix is the fixed path every XRPC operation lives under.
const PathPrefix = "/xrpc/"

// Method is the HTTP verb of an operation.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the supported verbs.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// AuthRequirement is the auth metadata an operation declares. Builders only
// record it; dispatchers enforce it.
type AuthRequirement int

const (
	// AuthNone never sends a credential.
	AuthNone AuthRequirement = iota

	// AuthOptional sends a credential when one is available.
	AuthOptional

	// AuthRequired refuses to send without a credential.
	AuthRequired
)

// String returns the lowercase name of the requirement.
func (a AuthRequirement) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthOptional:
		return "optional"
	case AuthRequired:
		return "required"
	default:
		return "unknown"
	}
}

// Param is a single query parameter with its raw, unencoded values.
// List parameters render as comma-joined values under one name.
type Param struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
	List   bool     `json:"list,omitempty"`
}

// Raw returns the unencoded value as it appears after decoding the URL.
func (p Param) Raw() string {
	return strings.Join(p.Values, ",")
}

func (p Param) clone() Param {
	p.Values = slices.Clone(p.Values)
	return p
}

// Descriptor describes one remote call. The zero value is not usable; build
// descriptors with NewQuery or NewProcedure.
type Descriptor struct {
	op          string
	method      Method
	params      []Param
	body        []byte
	auth        AuthRequirement
	invalidates []string
}

// Operation returns the NSID of the remote procedure.
func (d Descriptor) Operation() string { return d.op }

// Method returns the HTTP verb.
func (d Descriptor) Method() Method { return d.method }

// Auth returns the declared auth requirement.
func (d Descriptor) Auth() AuthRequirement { return d.auth }

// Path returns /xrpc/<operation>.
func (d Descriptor) Path() string { return PathPrefix + d.op }

// RawQuery returns the encoded query string without the leading '?'.
func (d Descriptor) RawQuery() string {
	return encodeQuery(d.params)
}

// URL returns the path plus encoded query string.
func (d Descriptor) URL() string {
	if len(d.params) == 0 {
		return d.Path()
	}
	return d.Path() + "?" + d.RawQuery()
}

// Params returns a copy of the query parameters in declaration order.
func (d Descriptor) Params() []Param {
	out := make([]Param, len(d.params))
	for i, p := range d.params {
		out[i] = p.clone()
	}
	return out
}

// Body returns a copy of the serialized body, or nil.
func (d Descriptor) Body() []byte {
	return bytes.Clone(d.body)
}

// HasBody reports whether the descriptor carries a payload.
func (d Descriptor) HasBody() bool { return d.body != nil }

// Invalidates returns the operations whose cached results a successful call
// makes stale.
func (d Descriptor) Invalidates() []string {
	return slices.Clone(d.invalidates)
}

// Idempotent reports whether identical calls may share one network exchange.
func (d Descriptor) Idempotent() bool {
	return d.method == MethodGet
}

// Equal reports structural equality.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.op != o.op || d.method != o.method || d.auth != o.auth {
		return false
	}
	if !bytes.Equal(d.body, o.body) || !slices.Equal(d.invalidates, o.invalidates) {
		return false
	}
	return slices.EqualFunc(d.params, o.params, func(a, b Param) bool {
		return a.Name == b.Name && a.List == b.List && slices.Equal(a.Values, b.Values)
	})
}

// String returns "METHOD URL", for logs.
func (d Descriptor) String() string {
	return string(d.method) + " " + d.URL()
}
