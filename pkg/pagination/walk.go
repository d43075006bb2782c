package pagination

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// CursorPage is a decoded page that may point to the next one.
type CursorPage interface {
	NextCursor() string
}

// BuildFunc builds the request for the page at cursor. The first page is
// requested with the empty cursor.
type BuildFunc func(cursor string) (xrpc.Descriptor, error)

// WalkOptions bounds a walk.
type WalkOptions struct {
	// MaxPages stops the walk after this many pages. Zero means no limit.
	MaxPages int
}

// Walk fetches pages through disp, handing each to visit, and follows the
// page cursor. It stops when a page has no cursor, when the service repeats
// a cursor, after MaxPages, or when visit returns an error. It returns the
// number of pages visited.
func Walk[P CursorPage](ctx context.Context, disp dispatch.Dispatcher, build BuildFunc, visit func(P) error, opts WalkOptions) (int, error) {
	var (
		cursor string
		pages  int
		seen   = make(map[string]struct{})
	)

	for {
		d, err := build(cursor)
		if err != nil {
			return pages, err
		}

		page, err := dispatch.Call[P](ctx, disp, d)
		if err != nil {
			return pages, err
		}
		pages++

		if err := visit(page); err != nil {
			return pages, err
		}

		next := page.NextCursor()
		if next == "" {
			return pages, nil
		}
		if _, dup := seen[next]; dup {
			log.Warn().
				Str("operation", d.Operation()).
				Str("cursor", next).
				Msg("Cursor repeated - stopping walk")
			return pages, nil
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			return pages, nil
		}
		seen[next] = struct{}{}
		cursor = next
	}
}
