package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the shared worker server",
		Long: `Run a worker that other embersky processes can delegate requests to.
Identical requests in flight from different callers share one exchange.

The listen address comes from worker.listen or WORKER_LISTEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.ServeWorker(cmd.Context())
		},
	}
}
