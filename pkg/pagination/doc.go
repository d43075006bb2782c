// Package pagination walks cursor-paginated XRPC queries and fetches batches
// of requests in parallel.
//
// Walk follows the cursor returned by each page:
//
//	n, err := pagination.Walk(ctx, disp,
//		func(cursor string) (xrpc.Descriptor, error) {
//			return actor.GetSuggestions(actor.WithCursor(cursor))
//		},
//		func(page actor.SuggestionsOutput) error {
//			all = append(all, page.Actors...)
//			return nil
//		},
//		pagination.WalkOptions{MaxPages: 10})
//
// BatchFetcher dispatches independent requests through a bounded pool and
// keeps partial results when some of them fail:
//
//	fetcher := pagination.NewBatchFetcher(disp, pagination.DefaultConfig())
//	profiles, err := fetcher.FetchProfiles(ctx, actors)
package pagination
