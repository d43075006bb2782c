package actor

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

type optionKind uint8

const (
	acceptLimit optionKind = 1 << iota
	acceptCursor
)

func (k optionKind) String() string {
	switch k {
	case acceptLimit:
		return "limit"
	case acceptCursor:
		return "cursor"
	default:
		return fmt.Sprintf("option(%d)", uint8(k))
	}
}

// Option overrides an optional query parameter of a list or search builder.
type Option struct {
	kind  optionKind
	apply func(*params)
}

// WithLimit sets the page size. It must lie in [MinLimit, MaxLimit].
func WithLimit(n int) Option {
	return Option{kind: acceptLimit, apply: func(p *params) { p.limit = &n }}
}

// WithCursor continues from the cursor returned by a previous page.
func WithCursor(cursor string) Option {
	return Option{kind: acceptCursor, apply: func(p *params) { p.cursor = &cursor }}
}

type params struct {
	limit  *int
	cursor *string
}

func (p params) limitOr(def int) int {
	if p.limit == nil {
		return def
	}
	return *p.limit
}

func (p params) cursorOr(def string) string {
	if p.cursor == nil {
		return def
	}
	return *p.cursor
}

// collect applies opts and records a validation failure on b for any option
// the operation does not declare.
func collect(b *xrpc.Builder, opts []Option, accepted optionKind) params {
	var p params
	for _, o := range opts {
		if o.apply == nil {
			continue
		}
		if accepted&o.kind == 0 {
			b.Fail(o.kind.String(), "not accepted by this operation")
			continue
		}
		o.apply(&p)
	}
	return p
}

var (
	handlePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	didPattern    = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)

	errEmptyIdentifier = errors.New("empty identifier")
)

// ValidIdentifier reports whether s is a syntactically valid handle or DID.
func ValidIdentifier(s string) bool {
	return validateIdentifier(s) == nil
}

func validateIdentifier(s string) error {
	switch {
	case s == "":
		return errEmptyIdentifier
	case len(s) > 2048:
		return fmt.Errorf("identifier too long (%d bytes)", len(s))
	case len(s) > 4 && s[:4] == "did:":
		if !didPattern.MatchString(s) {
			return fmt.Errorf("malformed did %q", s)
		}
	case len(s) > 253 || !handlePattern.MatchString(s):
		return fmt.Errorf("malformed handle %q", s)
	}
	return nil
}
