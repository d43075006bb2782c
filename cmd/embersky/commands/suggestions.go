package commands

import (
	"github.com/spf13/cobra"

	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/pagination"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

func (c *CLI) newSuggestionsCmd() *cobra.Command {
	var (
		limit    int
		cursor   string
		all      bool
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "List suggested actors to follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			build := func(cur string) (xrpc.Descriptor, error) {
				opts := []actor.Option{actor.WithCursor(cur)}
				if cmd.Flags().Changed("limit") {
					opts = append(opts, actor.WithLimit(limit))
				}
				return actor.GetSuggestions(opts...)
			}

			if !all {
				d, err := build(cursor)
				if err != nil {
					return err
				}
				out, err := dispatch.Call[actor.SuggestionsOutput](cmd.Context(), c.app.Dispatcher(), d)
				if err != nil {
					return err
				}
				return c.printJSON(cmd, out)
			}

			if cursor != "" {
				return errFlagConflict("--cursor", "--all")
			}

			var collected actor.SuggestionsOutput
			pages, err := pagination.Walk(cmd.Context(), c.app.Dispatcher(), build,
				func(page actor.SuggestionsOutput) error {
					collected.Actors = append(collected.Actors, page.Actors...)
					return nil
				},
				pagination.WalkOptions{MaxPages: maxPages})
			if err != nil {
				return err
			}

			c.logger.Debug().Int("pages", pages).Int("actors", len(collected.Actors)).Msg("Suggestions walked")
			return c.printJSON(cmd, collected)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Follow cursors and print every page")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop --all after this many pages (0: no limit)")
	return cmd
}
