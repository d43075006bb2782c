package commands

import (
	"github.com/spf13/cobra"

	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/dispatch"
)

func (c *CLI) newSearchCmd() *cobra.Command {
	var (
		typeahead bool
		limit     int
		cursor    string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search for actors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []actor.Option
			if cmd.Flags().Changed("limit") {
				opts = append(opts, actor.WithLimit(limit))
			}

			if typeahead {
				if cursor != "" {
					return errFlagConflict("--cursor", "--typeahead")
				}
				d, err := actor.SearchActorsTypeahead(args[0], opts...)
				if err != nil {
					return err
				}
				out, err := dispatch.Call[actor.TypeaheadOutput](cmd.Context(), c.app.Dispatcher(), d)
				if err != nil {
					return err
				}
				return c.printJSON(cmd, out)
			}

			if cursor != "" {
				opts = append(opts, actor.WithCursor(cursor))
			}
			d, err := actor.SearchActors(args[0], opts...)
			if err != nil {
				return err
			}
			out, err := dispatch.Call[actor.SearchActorsOutput](cmd.Context(), c.app.Dispatcher(), d)
			if err != nil {
				return err
			}
			return c.printJSON(cmd, out)
		},
	}

	cmd.Flags().BoolVarP(&typeahead, "typeahead", "t", false, "Use typeahead search (prefix match, no paging)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of actors to return")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	return cmd
}
