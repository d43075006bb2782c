package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/dispatch"
)

func (c *CLI) newPreferencesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preferences",
		Short: "Show the preferences of the authenticated account",
		Long: `Show the private preferences of the account whose token is in the
environment variable named by auth.token_env (XRPC_TOKEN by default).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := actor.GetPreferences()
			if err != nil {
				return err
			}
			out, err := dispatch.Call[actor.PreferencesOutput](cmd.Context(), c.app.Dispatcher(), d)
			if err != nil {
				return err
			}
			return c.printJSON(cmd, out)
		},
	}
}

func errFlagConflict(a, b string) error {
	return fmt.Errorf("%s cannot be combined with %s", a, b)
}
