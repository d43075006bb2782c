package xrpc

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Builder assembles a Descriptor and validates parameters as they are added.
// The first failure is kept and returned by Build; later calls are no-ops.
type Builder struct {
	d   Descriptor
	err *ValidationError
}

// NewQuery starts a GET descriptor for op.
func NewQuery(op string, auth AuthRequirement) *Builder {
	return newBuilder(op, MethodGet, auth)
}

// NewProcedure starts a mutating descriptor for op.
func NewProcedure(op string, method Method, auth AuthRequirement) *Builder {
	return newBuilder(op, method, auth)
}

func newBuilder(op string, method Method, auth AuthRequirement) *Builder {
	b := &Builder{d: Descriptor{op: op, method: method, auth: auth}}
	switch {
	case !ValidNSID(op):
		b.Fail("", fmt.Sprintf("malformed operation id %q", op))
	case !method.Valid():
		b.Fail("", fmt.Sprintf("unsupported method %q", method))
	case auth < AuthNone || auth > AuthRequired:
		b.Fail("", fmt.Sprintf("unknown auth requirement %d", auth))
	}
	return b
}

// Fail records a validation failure unless one is already recorded.
func (b *Builder) Fail(param, reason string) *Builder {
	if b.err == nil {
		b.err = &ValidationError{Operation: b.d.op, Param: param, Reason: reason}
	}
	return b
}

// String adds a scalar parameter. Empty values are kept.
func (b *Builder) String(name, value string) *Builder {
	if b.err != nil {
		return b
	}
	b.d.params = append(b.d.params, Param{Name: name, Values: []string{value}})
	return b
}

// Int adds an integer parameter bounded to [lo, hi].
func (b *Builder) Int(name string, value, lo, hi int) *Builder {
	if b.err != nil {
		return b
	}
	if value < lo || value > hi {
		return b.Fail(name, fmt.Sprintf("%d out of range [%d, %d]", value, lo, hi))
	}
	return b.String(name, fmt.Sprintf("%d", value))
}

// List adds a list parameter holding between lo and hi elements.
func (b *Builder) List(name string, values []string, lo, hi int) *Builder {
	if b.err != nil {
		return b
	}
	if len(values) < lo || len(values) > hi {
		return b.Fail(name, fmt.Sprintf("%d values, want between %d and %d", len(values), lo, hi))
	}
	b.d.params = append(b.d.params, Param{Name: name, Values: slices.Clone(values), List: true})
	return b
}

// JSON sets the body to the JSON encoding of v.
func (b *Builder) JSON(v any) *Builder {
	if b.err != nil {
		return b
	}
	if v == nil {
		return b.Fail("body", "nil payload")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return b.Fail("body", err.Error())
	}
	b.d.body = data
	return b
}

// RawJSON sets an already-encoded JSON body.
func (b *Builder) RawJSON(data []byte) *Builder {
	if b.err != nil {
		return b
	}
	if !json.Valid(data) {
		return b.Fail("body", "not valid JSON")
	}
	b.d.body = slices.Clone(data)
	return b
}

// Invalidates marks operations whose cached results become stale once this
// call succeeds.
func (b *Builder) Invalidates(ops ...string) *Builder {
	if b.err != nil {
		return b
	}
	for _, op := range ops {
		if !ValidNSID(op) {
			return b.Fail("", fmt.Sprintf("malformed invalidated operation %q", op))
		}
	}
	b.d.invalidates = append(b.d.invalidates, ops...)
	return b
}

// Build returns the descriptor or the first validation failure.
func (b *Builder) Build() (Descriptor, error) {
	if b.err != nil {
		return Descriptor{}, b.err
	}
	if b.d.method == MethodGet && b.d.body != nil {
		return Descriptor{}, &ValidationError{Operation: b.d.op, Param: "body", Reason: "GET operations take no body"}
	}
	d := b.d
	d.params = b.d.Params()
	d.body = b.d.Body()
	d.invalidates = b.d.Invalidates()
	return d, nil
}
