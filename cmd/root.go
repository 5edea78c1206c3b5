// Package cmd holds the cobra commands for the sneakysnake binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/config"
	"github.com/JakeFAU/sneaky-snake/internal/logging"
)

type options struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "sneakysnake",
		Short: "Scrape URLs asynchronously and cache the results.",
		Long: `sneakysnake accepts batches of URLs over HTTP, reuses previously scraped
results keyed by (url, selector), and fetches everything else in the background
with a headless browser. Results are polled by request id.`,
		SilenceUsage: true,

		// Config and logger are ready before any subcommand runs.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); env vars use the SNEAKY_ prefix")

	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		os.Exit(1)
	}
}
