// Package session owns one Chrome process per worker: launching it with a
// persistent profile, attaching over the DevTools protocol, probing its
// health, and killing and relaunching it when it wedges.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/scrape"
)

// Config controls the browser process a Manager owns.
type Config struct {
	// Binary is the Chrome executable. Empty means a platform default.
	Binary     string
	ProfileDir string
	DebugPort  int
	Headless   bool
	// WarmupURL, when set, is navigated to right after attach so any
	// challenge interstitial surfaces before scraping starts.
	WarmupURL string

	NavTimeout    time.Duration
	ProbeTimeout  time.Duration
	AttachTimeout time.Duration
	StopGrace     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = defaultChromeBinary()
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.AttachTimeout <= 0 {
		c.AttachTimeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

func defaultChromeBinary() string {
	for _, candidate := range []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "google-chrome"
}

// Manager launches Chrome itself rather than letting chromedp allocate
// one, so the process id is known and a frozen browser can be killed
// outright. The DevTools endpoint is attached as a remote allocator.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	http   *resty.Client

	mu          sync.Mutex
	launchID    string
	cmd         *exec.Cmd
	waitCh      chan error
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewManager builds a manager. The browser is not launched until
// EnsureReady.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:    cfg,
		logger: logger,
		http: resty.New().
			SetTimeout(cfg.ProbeTimeout).
			SetBaseURL(fmt.Sprintf("http://127.0.0.1:%d", cfg.DebugPort)),
	}
}

// EnsureReady launches and attaches the browser if it is not already
// attached. It is safe to call repeatedly; a healthy session is a no-op.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	attached := m.tabCtx != nil && m.tabCtx.Err() == nil
	m.mu.Unlock()
	if attached {
		return nil
	}
	return m.launch(ctx)
}

func (m *Manager) launch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()

	if err := os.MkdirAll(m.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	launchID := uuid.NewString()
	cmd := exec.Command(m.cfg.Binary, chromeArgs(m.cfg)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w: %v", scrape.ErrSessionUnavailable, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	m.logger.Info("browser launched",
		zap.String("launch_id", launchID),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("debug_port", m.cfg.DebugPort),
		zap.String("profile_dir", m.cfg.ProfileDir),
	)

	wsURL, err := m.awaitDevTools(ctx, waitCh)
	if err != nil {
		killProcess(cmd)
		<-waitCh
		return err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Materialize the tab now so attachment failures surface here, not
	// on the first navigation.
	warmCtx, warmCancel := context.WithTimeout(tabCtx, m.cfg.AttachTimeout)
	err = chromedp.Run(warmCtx)
	warmCancel()
	if err != nil {
		tabCancel()
		allocCancel()
		killProcess(cmd)
		<-waitCh
		return fmt.Errorf("attach to browser: %w: %v", scrape.ErrSessionUnavailable, err)
	}

	m.launchID = launchID
	m.cmd = cmd
	m.waitCh = waitCh
	m.allocCancel = allocCancel
	m.tabCtx = tabCtx
	m.tabCancel = tabCancel

	if m.cfg.WarmupURL != "" {
		navCtx, navCancel := context.WithTimeout(tabCtx, m.cfg.NavTimeout)
		err = chromedp.Run(navCtx,
			chromedp.Navigate(m.cfg.WarmupURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		navCancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			// A timeout here is usually the challenge page itself
			// stalling readiness; the gate sorts that out. Anything
			// else means the session never came up.
			m.teardownLocked()
			return fmt.Errorf("warmup navigation: %w: %v", scrape.ErrSessionUnavailable, err)
		}
	}
	return nil
}

// awaitDevTools polls the DevTools version endpoint until the browser
// serves its websocket URL, the process dies, or the attach window ends.
func (m *Manager) awaitDevTools(ctx context.Context, waitCh chan error) (string, error) {
	deadline := time.NewTimer(m.cfg.AttachTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		wsURL, err := m.debuggerURL(ctx)
		if err == nil {
			return wsURL, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for devtools: %w", ctx.Err())
		case exitErr := <-waitCh:
			waitCh <- exitErr
			return "", fmt.Errorf("browser exited before devtools came up: %w", scrape.ErrSessionUnavailable)
		case <-deadline.C:
			return "", fmt.Errorf("devtools not reachable on port %d: %w", m.cfg.DebugPort, scrape.ErrSessionUnavailable)
		case <-ticker.C:
		}
	}
}

type devtoolsVersion struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (m *Manager) debuggerURL(ctx context.Context) (string, error) {
	var version devtoolsVersion
	resp, err := m.http.R().
		SetContext(ctx).
		SetResult(&version).
		Get("/json/version")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK || version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools version endpoint returned %d", resp.StatusCode())
	}
	return version.WebSocketDebuggerURL, nil
}

// Run executes chromedp actions on the session tab with a timeout. The
// caller's context cancels it; timeouts surface as ErrNavigationTimeout
// so the watchdog can tell a stuck page from an absent browser.
func (m *Manager) Run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	m.mu.Lock()
	tabCtx := m.tabCtx
	m.mu.Unlock()
	if tabCtx == nil || tabCtx.Err() != nil {
		return fmt.Errorf("no live browser session: %w", scrape.ErrSessionUnavailable)
	}
	if timeout <= 0 {
		timeout = m.cfg.NavTimeout
	}

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("session run canceled: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("session run timed out after %s: %w", timeout, scrape.ErrNavigationTimeout)
	default:
		return fmt.Errorf("session run: %w", err)
	}
}

// forwardCancel cancels target when parent is done. The returned stop
// func releases the goroutine.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// IsResponsive asks the page to do trivial work within the probe
// timeout. A frozen renderer fails this while the process still lives.
func (m *Manager) IsResponsive(ctx context.Context) bool {
	var result int
	err := m.Run(ctx, m.cfg.ProbeTimeout, chromedp.Evaluate("1+1", &result))
	return err == nil && result == 2
}

// PageState returns the current page body text, for challenge gates.
func (m *Manager) PageState(ctx context.Context) (string, error) {
	var content string
	err := m.Run(ctx, m.cfg.ProbeTimeout,
		chromedp.Evaluate("document.body ? document.body.innerText : ''", &content))
	if err != nil {
		return "", err
	}
	return content, nil
}

// Cookies exports the browser's cookie jar so plain HTTP downloads ride
// the session's clearance.
func (m *Manager) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := m.Run(ctx, m.cfg.ProbeTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return convertCookies(raw), nil
}

func convertCookies(raw []*network.Cookie) []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	return cookies
}

// Restart tears the browser down, escalating from graceful cancel to
// SIGKILL, then launches a fresh process on the same port and profile.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	launchID := m.launchID
	m.teardownLocked()
	m.mu.Unlock()

	m.logger.Warn("restarting browser", zap.String("previous_launch_id", launchID))
	return m.launch(ctx)
}

// Close stops the browser. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// teardownLocked releases DevTools contexts and stops the process.
// Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
		m.tabCtx = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
	if m.cmd == nil {
		return
	}

	// TERM first so the profile is flushed, then KILL after the grace
	// window. A wedged renderer routinely ignores TERM.
	_ = m.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-m.waitCh:
	case <-time.After(m.cfg.StopGrace):
		killProcess(m.cmd)
		<-m.waitCh
	}
	m.logger.Info("browser stopped", zap.Int("pid", m.cmd.Process.Pid))
	m.cmd = nil
	m.waitCh = nil
	m.launchID = ""
}

func killProcess(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// chromeArgs builds the launch flag set. The profile dir keeps cookies
// and challenge clearance across restarts; the fixed debug port is what
// the manager reattaches to.
func chromeArgs(cfg Config) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(cfg.DebugPort),
		"--user-data-dir=" + cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
	}
	if cfg.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	return args
}
