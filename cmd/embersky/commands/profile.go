package commands

import (
	"github.com/spf13/cobra"

	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/dispatch"
)

func (c *CLI) newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <actor>...",
		Short: "Show actor profiles",
		Long: `Show the detailed profile of one or more actors (handle or DID).
Several actors are fetched with getProfiles in parallel batches.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 1 {
				d, err := actor.GetProfile(args[0])
				if err != nil {
					return err
				}
				profile, err := dispatch.Call[actor.ProfileViewDetailed](ctx, c.app.Dispatcher(), d)
				if err != nil {
					return err
				}
				return c.printJSON(cmd, profile)
			}

			profiles, err := c.app.BatchFetcher().FetchProfiles(ctx, args)
			if err != nil && len(profiles) == 0 {
				return err
			}
			if err != nil {
				c.logger.Warn().Err(err).Int("profiles", len(profiles)).Msg("Some profiles could not be fetched")
			}
			if printErr := c.printJSON(cmd, actor.ProfilesOutput{Profiles: profiles}); printErr != nil {
				return printErr
			}
			return err
		},
	}
}
