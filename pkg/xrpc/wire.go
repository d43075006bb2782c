package xrpc

import (
	"encoding/json"
	"fmt"
)

type wireDescriptor struct {
	Operation   string          `json:"operation"`
	Method      Method          `json:"method"`
	Params      []Param         `json:"params,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Auth        string          `json:"auth"`
	Invalidates []string        `json:"invalidates,omitempty"`
}

// MarshalJSON encodes the structured form of the descriptor.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDescriptor{
		Operation:   d.op,
		Method:      d.method,
		Params:      d.params,
		Body:        d.body,
		Auth:        d.auth.String(),
		Invalidates: d.invalidates,
	})
}

// UnmarshalJSON rebuilds a descriptor through the Builder so that decoded
// descriptors satisfy the same invariants as built ones.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	auth, err := parseAuth(w.Auth)
	if err != nil {
		return &ValidationError{Operation: w.Operation, Reason: err.Error()}
	}

	b := NewProcedure(w.Operation, w.Method, auth)
	for _, p := range w.Params {
		if p.List {
			b.List(p.Name, p.Values, 0, len(p.Values))
			continue
		}
		if len(p.Values) != 1 {
			b.Fail(p.Name, "scalar parameter must have exactly one value")
			continue
		}
		b.String(p.Name, p.Values[0])
	}
	if len(w.Body) > 0 {
		b.RawJSON(w.Body)
	}
	if len(w.Invalidates) > 0 {
		b.Invalidates(w.Invalidates...)
	}

	built, err := b.Build()
	if err != nil {
		return err
	}
	*d = built
	return nil
}

func parseAuth(s string) (AuthRequirement, error) {
	switch s {
	case "none", "":
		return AuthNone, nil
	case "optional":
		return AuthOptional, nil
	case "required":
		return AuthRequired, nil
	default:
		return AuthNone, fmt.Errorf("unknown auth requirement %q", s)
	}
}
