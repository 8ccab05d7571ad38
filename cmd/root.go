// Package cmd defines the CLI commands for the sfcivil executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/config"
	"github.com/opencourt/sfcivil/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sfcivil",
		Short: "Scrapes San Francisco Superior Court civil case filings",
		Long: `sfcivil walks a range of filing dates on the San Francisco Superior
Court case-information site, records each day's new civil filings with
their registers of actions, and downloads the attached documents.

Progress is checkpointed to disk per day and per case, so an interrupted
run resumes where it left off instead of starting over.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., $HOME/.sfcivil)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newWorkerCmd())

	return cmd
}

// bootstrap loads configuration and builds the root logger. Shared by
// every subcommand.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
