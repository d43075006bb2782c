// Package commands implements the embersky command line interface.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/embersky/xrpc-client/internal/app"
	"github.com/embersky/xrpc-client/pkg/config"
	"github.com/embersky/xrpc-client/pkg/logging"
)

// Version is set at build time.
var Version = "dev"

// CLI represents the command line interface for embersky.
type CLI struct {
	rootCmd *cobra.Command
	app     *app.App
	logger  zerolog.Logger

	configPath string
	strategy   string
	endpoint   string
	logLevel   string
}

// New creates a new CLI instance.
func New() *CLI {
	c := &CLI{}

	rootCmd := &cobra.Command{
		Use:               "embersky",
		Short:             "Query app.bsky.actor XRPC endpoints",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           Version,
		PersistentPreRunE: c.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&c.strategy, "strategy", "", "Dispatch strategy: direct or delegated")
	flags.StringVar(&c.endpoint, "worker", "", "Endpoint of a shared worker (implies --strategy=delegated)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newProfileCmd())
	rootCmd.AddCommand(c.newSearchCmd())
	rootCmd.AddCommand(c.newSuggestionsCmd())
	rootCmd.AddCommand(c.newPreferencesCmd())

	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	defer c.teardown()
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// setup loads the configuration, applies flag overrides, configures logging
// and builds the app.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	if c.strategy != "" {
		cfg.Worker.Strategy = c.strategy
	}
	if c.endpoint != "" {
		cfg.Worker.Endpoint = c.endpoint
		if c.strategy == "" {
			cfg.Worker.Strategy = "delegated"
		}
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	c.logger = logging.NewLogger(logging.ComponentCLI)

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *CLI) teardown() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

func (c *CLI) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
