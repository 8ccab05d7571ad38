// Package launcher fans the date range out across worker processes. Each
// worker gets a contiguous slice of the range, its own debug port, and
// its own browser profile, then runs as a child process that the
// launcher supervises with a bounded restart budget.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/scrape"
)

// Config controls the fan-out.
type Config struct {
	Workers           int
	Stagger           time.Duration
	MaxWorkerRestarts int

	BaseDebugPort int
	ProfileRoot   string
	DataDir       string
}

// Runner executes one worker assignment to completion. The production
// runner spawns a child process; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, assignment scrape.WorkerAssignment) error
}

// Launcher partitions the range and supervises one runner per slice.
type Launcher struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// New builds a launcher.
func New(cfg Config, runner Runner, logger *zap.Logger) *Launcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Launcher{cfg: cfg, runner: runner, logger: logger}
}

// Assignments splits the range into per-worker slices. Frontloaded
// partitioning means worker ids, ports, and profiles are stable for a
// given range and worker count, so reruns land on the same profiles.
func (l *Launcher) Assignments(r civil.DateRange) []scrape.WorkerAssignment {
	parts := r.Partition(l.cfg.Workers)
	assignments := make([]scrape.WorkerAssignment, 0, len(parts))
	for i, part := range parts {
		assignments = append(assignments, scrape.WorkerAssignment{
			WorkerID:   i,
			Range:      part,
			DebugPort:  l.cfg.BaseDebugPort + i,
			ProfileDir: filepath.Join(l.cfg.ProfileRoot, "worker-"+strconv.Itoa(i)),
			DataDir:    l.cfg.DataDir,
		})
	}
	return assignments
}

// Launch runs every assignment concurrently, staggering starts so the
// workers do not all hit the site's challenge page at once, and waits
// for all of them. Worker failures are aggregated, not fatal to their
// siblings.
func (l *Launcher) Launch(ctx context.Context, r civil.DateRange) error {
	assignments := l.Assignments(r)
	if len(assignments) == 0 {
		l.logger.Warn("range produced no assignments", zap.String("range", r.String()))
		return nil
	}

	l.logger.Info("launching workers",
		zap.String("range", r.String()),
		zap.Int("workers", len(assignments)),
	)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, assignment := range assignments {
		wg.Add(1)
		go func(delay time.Duration, assignment scrape.WorkerAssignment) {
			defer wg.Done()
			if err := sleepCtx(ctx, delay); err != nil {
				return
			}
			if err := l.supervise(ctx, assignment); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(time.Duration(i)*l.cfg.Stagger, assignment)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("launch canceled: %w", err)
	}
	return errors.Join(errs...)
}

// supervise runs one worker, restarting it up to the budget. Restarts
// resume from the ledger, so a crashed worker repeats no finished work.
func (l *Launcher) supervise(ctx context.Context, assignment scrape.WorkerAssignment) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxWorkerRestarts; attempt++ {
		if attempt > 0 {
			l.logger.Warn("restarting worker",
				zap.Int("worker_id", assignment.WorkerID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}
		lastErr = l.runner.Run(ctx, assignment)
		if lastErr == nil {
			l.logger.Info("worker finished",
				zap.Int("worker_id", assignment.WorkerID),
				zap.String("range", assignment.Range.String()),
			)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return fmt.Errorf("worker %d failed after %d restarts: %w",
		assignment.WorkerID, l.cfg.MaxWorkerRestarts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecRunner runs assignments as child processes of the current binary's
// worker subcommand, so each worker owns its Chrome in its own process
// space and a wedged worker can be restarted wholesale.
type ExecRunner struct {
	// Binary is the executable to spawn. Empty means the current one.
	Binary string
	// ConfigPath is forwarded so children load the same configuration.
	ConfigPath string
	Logger     *zap.Logger
}

// Run spawns `<binary> worker` with the assignment encoded as flags and
// waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, assignment scrape.WorkerAssignment) error {
	binary := r.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own binary: %w", err)
		}
		binary = self
	}

	args := WorkerArgs(assignment, r.ConfigPath)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.Logger.Info("spawning worker process",
		zap.Int("worker_id", assignment.WorkerID),
		zap.String("range", assignment.Range.String()),
		zap.Int("debug_port", assignment.DebugPort),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker %d process: %w", assignment.WorkerID, err)
	}
	return nil
}

// WorkerArgs encodes an assignment as worker-subcommand flags.
func WorkerArgs(assignment scrape.WorkerAssignment, configPath string) []string {
	args := []string{
		"worker",
		"--worker-id", strconv.Itoa(assignment.WorkerID),
		"--start-date", assignment.Range.Start.String(),
		"--end-date", assignment.Range.End.String(),
		"--debug-port", strconv.Itoa(assignment.DebugPort),
		"--profile-dir", assignment.ProfileDir,
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
