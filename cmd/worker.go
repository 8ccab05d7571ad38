package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/config"
	"github.com/opencourt/sfcivil/internal/court"
	"github.com/opencourt/sfcivil/internal/download"
	"github.com/opencourt/sfcivil/internal/ledger"
	"github.com/opencourt/sfcivil/internal/logging"
	"github.com/opencourt/sfcivil/internal/metrics"
	"github.com/opencourt/sfcivil/internal/scrape"
	"github.com/opencourt/sfcivil/internal/session"
	"github.com/opencourt/sfcivil/internal/worker"
)

type workerFlags struct {
	workerID   int
	startDate  string
	endDate    string
	debugPort  int
	profileDir string
}

// newWorkerCmd creates the worker subcommand. It is normally spawned by
// `sfcivil scrape`, one process per range slice, but running it by hand
// against a single day is the supported way to debug a scrape.
func newWorkerCmd() *cobra.Command {
	var flags workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Scrapes one contiguous slice of the date range",
		Long: `Runs one scrape worker: launches a browser on its own DevTools port
and profile, then walks the assigned dates in order, checkpointing each
day and case to the data directory. A browser that stops responding is
killed and relaunched, and the day retried from its checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkerCommand(cmd, flags)
		},
	}

	cmd.Flags().IntVar(&flags.workerID, "worker-id", 0, "worker index within the launch")
	cmd.Flags().StringVar(&flags.startDate, "start-date", "", "first filing date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.endDate, "end-date", "", "last filing date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.debugPort, "debug-port", 0, "DevTools port for this worker's browser")
	cmd.Flags().StringVar(&flags.profileDir, "profile-dir", "", "browser profile directory")
	_ = cmd.MarkFlagRequired("start-date")
	_ = cmd.MarkFlagRequired("end-date")

	return cmd
}

func runWorkerCommand(cmd *cobra.Command, flags workerFlags) error {
	cfg, rootLogger, err := bootstrap()
	if err != nil {
		return err
	}
	logger := logging.ForWorker(rootLogger, flags.workerID)
	defer func() { _ = logger.Sync() }()

	assignment, err := buildAssignment(cfg, flags)
	if err != nil {
		return err
	}
	dates := assignment.Range.CourtDays()
	if len(dates) == 0 {
		logger.Info("no court days in range", zap.String("range", assignment.Range.String()))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			port := cfg.Metrics.BasePort + flags.workerID
			if err := metrics.Serve(ctx, port, logger.Named("metrics")); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	store, err := ledger.New(assignment.DataDir, logger.Named("ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	manager := session.NewManager(session.Config{
		Binary:        cfg.Browser.Binary,
		ProfileDir:    assignment.ProfileDir,
		DebugPort:     assignment.DebugPort,
		Headless:      cfg.Browser.Headless,
		WarmupURL:     cfg.Scraper.CourtURL,
		NavTimeout:    cfg.Browser.NavTimeout(),
		ProbeTimeout:  cfg.Browser.ProbeTimeout(),
		AttachTimeout: cfg.Browser.AttachTimeout(),
		StopGrace:     cfg.Browser.StopGrace(),
	}, logger.Named("session"))

	driver := court.NewDriver(court.Config{
		BaseURL:       cfg.Scraper.CourtURL,
		CaseURLPrefix: cfg.Scraper.CaseURLPrefix,
		NavTimeout:    cfg.Browser.NavTimeout(),
	}, manager, logger.Named("court"))

	downloads := download.New(download.Config{
		MaxConcurrent:  cfg.Download.MaxConcurrent,
		MaxAttempts:    cfg.Download.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Download.BackoffInitialMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Download.BackoffMaxMs) * time.Millisecond,
		MinPDFBytes:    cfg.Download.MinPDFBytes,
		RequestTimeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
		SiteRPS:        cfg.Download.SiteRPS,
	}, logger.Named("download"))

	classifier := scrape.NewClassifier(cfg.Scraper.RestrictedMarkers, cfg.Scraper.UnavailableMarkers)
	clock := scrape.SystemClock{}
	cases := scrape.NewCaseScraper(driver, store, downloads, classifier, clock, logger.Named("case"))
	days := scrape.NewDayScraper(driver, store, cases, clock, logger.Named("day"))
	days.Pause = time.Duration(cfg.Scraper.CasePauseSeconds) * time.Second

	// Interactive runs hand the challenge to the operator; headless
	// runs poll the markers and give up after the attach window.
	var gate session.ChallengeGate = session.NewMarkerGate(
		cfg.Scraper.ChallengeMarkers, cfg.Browser.AttachTimeout(), logger.Named("gate"))
	if cfg.Browser.Interactive {
		gate = &session.PromptGate{
			Markers: cfg.Scraper.ChallengeMarkers,
			Logger:  logger.Named("gate"),
		}
	}

	w := worker.New(worker.Config{
		MaxDayRetries: cfg.Scraper.MaxDayRetries,
	}, manager, days, gate, downloads, logger)

	logger.Info("worker starting",
		zap.String("range", assignment.Range.String()),
		zap.Int("court_days", len(dates)),
		zap.Int("debug_port", assignment.DebugPort),
	)
	return w.Run(ctx, dates)
}

// buildAssignment reconstructs the assignment from flags, defaulting the
// per-worker port and profile the same way the launcher assigns them.
func buildAssignment(cfg config.Config, flags workerFlags) (scrape.WorkerAssignment, error) {
	start, err := civil.ParseDate(flags.startDate)
	if err != nil {
		return scrape.WorkerAssignment{}, err
	}
	end, err := civil.ParseDate(flags.endDate)
	if err != nil {
		return scrape.WorkerAssignment{}, err
	}
	r, err := civil.NewRange(start, end)
	if err != nil {
		return scrape.WorkerAssignment{}, err
	}

	debugPort := flags.debugPort
	if debugPort == 0 {
		debugPort = cfg.Browser.BasePort + flags.workerID
	}
	profileDir := flags.profileDir
	if profileDir == "" {
		profileDir = fmt.Sprintf("%s/worker-%d", cfg.Browser.ProfileRoot, flags.workerID)
	}

	return scrape.WorkerAssignment{
		WorkerID:   flags.workerID,
		Range:      r,
		DebugPort:  debugPort,
		ProfileDir: profileDir,
		DataDir:    cfg.Scraper.DataDir,
	}, nil
}
