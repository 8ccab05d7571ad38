package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PageProber exposes the current page content so a gate can decide
// whether an interstitial challenge is still in the way.
type PageProber interface {
	PageState(ctx context.Context) (string, error)
}

// ChallengeGate blocks until the browser session is past any
// anti-automation interstitial. The court site fronts its search form
// with one on fresh profiles; a human solves it once per profile and the
// persistent profile keeps the clearance.
type ChallengeGate interface {
	Wait(ctx context.Context, probe PageProber) error
}

// NoopGate passes immediately. Used when the profile is known to be
// cleared, e.g. in tests or on fully warmed profiles.
type NoopGate struct{}

func (NoopGate) Wait(context.Context, PageProber) error { return nil }

// MarkerGate polls the page until none of the challenge markers appear,
// or the deadline passes. A zero Timeout waits as long as the context
// allows, which is the interactive mode: the operator solves the
// challenge in the visible browser window while we poll.
type MarkerGate struct {
	Markers  []string
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewMarkerGate builds a gate with a sane default poll interval.
func NewMarkerGate(markers []string, timeout time.Duration, logger *zap.Logger) *MarkerGate {
	return &MarkerGate{
		Markers:  markers,
		Interval: 2 * time.Second,
		Timeout:  timeout,
		Logger:   logger,
	}
}

// Wait polls until the page carries no challenge marker.
func (g *MarkerGate) Wait(ctx context.Context, probe PageProber) error {
	if len(g.Markers) == 0 {
		return nil
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	interval := g.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	announced := false
	for {
		content, err := probe.PageState(ctx)
		if err != nil {
			return fmt.Errorf("probe page during challenge wait: %w", err)
		}
		marker := g.match(content)
		if marker == "" {
			if announced {
				g.Logger.Info("challenge cleared")
			}
			return nil
		}
		if !announced {
			g.Logger.Warn("challenge page detected, waiting for clearance",
				zap.String("marker", marker))
			announced = true
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("challenge not cleared: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// PromptGate is the interactive variant: it tells the operator to solve
// the challenge in the visible browser window, then waits for a newline
// on In before re-checking the markers. Used for first runs on a fresh
// profile, where only a human can get past the interstitial.
type PromptGate struct {
	Markers []string
	In      io.Reader
	Out     io.Writer
	Logger  *zap.Logger
}

// Wait prompts and blocks until the operator confirms and the page is
// clean, or the context ends.
func (g *PromptGate) Wait(ctx context.Context, probe PageProber) error {
	in := g.In
	if in == nil {
		in = os.Stdin
	}
	out := g.Out
	if out == nil {
		out = os.Stdout
	}
	marker := &MarkerGate{Markers: g.Markers}

	lines := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- nil
		}
		if err := scanner.Err(); err != nil {
			lines <- err
			return
		}
		lines <- io.EOF
	}()

	for {
		content, err := probe.PageState(ctx)
		if err != nil {
			return fmt.Errorf("probe page during challenge wait: %w", err)
		}
		if marker.match(content) == "" {
			return nil
		}

		fmt.Fprintln(out, "Challenge page detected. Solve it in the browser window, then press Enter.")
		select {
		case <-ctx.Done():
			return fmt.Errorf("challenge not cleared: %w", ctx.Err())
		case err := <-lines:
			if err != nil {
				return fmt.Errorf("read operator confirmation: %w", err)
			}
		}
	}
}

func (g *MarkerGate) match(content string) string {
	for _, marker := range g.Markers {
		if marker != "" && strings.Contains(content, marker) {
			return marker
		}
	}
	return ""
}
