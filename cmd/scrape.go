package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/launcher"
)

// newScrapeCmd creates the scrape subcommand, the top-level entry point
// that partitions the configured date range and supervises one worker
// process per slice.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Partitions the date range and runs worker processes over it",
		Long: `Splits the configured filing-date range into contiguous slices, one
per worker, and spawns a worker subprocess for each. Every worker gets
its own browser on its own DevTools port and profile directory. Workers
that exit with an error are restarted up to the configured budget;
restarted workers resume from the on-disk ledger.`,
		RunE: runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dateRange, err := cfg.DateRange()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &launcher.ExecRunner{
		ConfigPath: cfgFile,
		Logger:     logger.Named("launcher"),
	}
	l := launcher.New(launcher.Config{
		Workers:           cfg.Launcher.Workers,
		Stagger:           time.Duration(cfg.Launcher.StaggerSeconds) * time.Second,
		MaxWorkerRestarts: cfg.Launcher.MaxWorkerRestarts,
		BaseDebugPort:     cfg.Browser.BasePort,
		ProfileRoot:       cfg.Browser.ProfileRoot,
		DataDir:           cfg.Scraper.DataDir,
	}, runner, logger.Named("launcher"))

	logger.Info("starting scrape",
		zap.String("range", dateRange.String()),
		zap.Int("workers", cfg.Launcher.Workers),
	)

	if err := l.Launch(ctx, dateRange); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("scrape interrupted")
			return nil
		}
		return fmt.Errorf("scrape: %w", err)
	}
	logger.Info("scrape finished")
	return nil
}
