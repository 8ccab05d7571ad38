// Package worker runs one process's share of the date range: a day loop
// with a session watchdog that restarts a wedged browser and retries the
// day, giving up on a date only after a bounded number of attempts.
package worker

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/metrics"
	"github.com/opencourt/sfcivil/internal/scrape"
	"github.com/opencourt/sfcivil/internal/session"
)

// Session is the browser lifecycle surface the worker drives.
type Session interface {
	session.PageProber
	EnsureReady(ctx context.Context) error
	IsResponsive(ctx context.Context) bool
	Restart(ctx context.Context) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close()
}

// DayRunner scrapes one filing date, resuming from the ledger.
type DayRunner interface {
	Scrape(ctx context.Context, date civil.Date) error
	MarkFailed(date civil.Date) error
}

// CookieSink receives the browser's cookies so sidecar HTTP requests
// share its clearance.
type CookieSink interface {
	SetCookies(cookies []*http.Cookie)
}

// Config bounds the worker's retry behavior.
type Config struct {
	// MaxDayRetries is how many times a day is retried after a session
	// restart before it is marked failed and skipped.
	MaxDayRetries int
}

// Worker owns one browser session and walks its assigned dates in order.
type Worker struct {
	cfg     Config
	session Session
	days    DayRunner
	gate    session.ChallengeGate
	cookies CookieSink
	logger  *zap.Logger
}

// New builds a worker.
func New(cfg Config, sess Session, days DayRunner, gate session.ChallengeGate, cookies CookieSink, logger *zap.Logger) *Worker {
	if cfg.MaxDayRetries <= 0 {
		cfg.MaxDayRetries = 3
	}
	if gate == nil {
		gate = session.NoopGate{}
	}
	return &Worker{
		cfg:     cfg,
		session: sess,
		days:    days,
		gate:    gate,
		cookies: cookies,
		logger:  logger,
	}
}

// Run processes every date in order. Dates that exhaust their retry
// budget are marked failed and skipped; the run keeps going so one bad
// day never strands the rest of the partition. Run returns early only
// when the context ends or the browser cannot be brought up at all.
func (w *Worker) Run(ctx context.Context, dates []civil.Date) error {
	if err := w.prepare(ctx); err != nil {
		return err
	}
	defer w.session.Close()

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("worker canceled: %w", err)
		}
		if err := w.runDay(ctx, date); err != nil {
			return err
		}
	}
	return nil
}

// runDay drives one date through scrape attempts with watchdog recovery
// in between. Only context or session-bringup failures propagate.
func (w *Worker) runDay(ctx context.Context, date civil.Date) error {
	for attempt := 0; ; attempt++ {
		err := w.days.Scrape(ctx, date)
		if err == nil {
			metrics.DaysCompleted.Inc()
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("day %s: %w", date, ctx.Err())
		}

		w.logger.Warn("day attempt failed",
			zap.Stringer("date", date),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt+1 > w.cfg.MaxDayRetries {
			return w.giveUp(date)
		}

		// A session fault, or a session that stopped answering the
		// liveness probe, means the browser has to go.
		if scrape.SessionFault(err) || !w.session.IsResponsive(ctx) {
			if rerr := w.recover(ctx); rerr != nil {
				return fmt.Errorf("day %s: %w", date, rerr)
			}
		}
	}
}

// prepare brings up the browser, waits out any challenge interstitial,
// and hands the session cookies to the download side.
func (w *Worker) prepare(ctx context.Context) error {
	if err := w.session.EnsureReady(ctx); err != nil {
		return fmt.Errorf("bring up session: %w", err)
	}
	if err := w.gate.Wait(ctx, w.session); err != nil {
		return fmt.Errorf("clear challenge: %w", err)
	}
	return w.syncCookies(ctx)
}

// recover replaces the browser process and re-runs the readiness steps.
func (w *Worker) recover(ctx context.Context) error {
	metrics.SessionRestarts.Inc()
	w.logger.Warn("restarting session")
	if err := w.session.Restart(ctx); err != nil {
		return fmt.Errorf("restart session: %w", err)
	}
	if err := w.gate.Wait(ctx, w.session); err != nil {
		return fmt.Errorf("clear challenge after restart: %w", err)
	}
	return w.syncCookies(ctx)
}

func (w *Worker) giveUp(date civil.Date) error {
	metrics.DaysFailed.Inc()
	w.logger.Error("day exhausted retries, marking failed",
		zap.Stringer("date", date),
		zap.Int("max_retries", w.cfg.MaxDayRetries),
	)
	if err := w.days.MarkFailed(date); err != nil {
		return fmt.Errorf("mark day %s failed: %w", date, err)
	}
	return nil
}

func (w *Worker) syncCookies(ctx context.Context) error {
	if w.cookies == nil {
		return nil
	}
	cookies, err := w.session.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("sync session cookies: %w", err)
	}
	w.cookies.SetCookies(cookies)
	return nil
}
