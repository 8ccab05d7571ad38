// Package download fetches case documents through the authenticated
// browser session's cookies, with a worker-wide concurrency bound and
// per-file retries.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencourt/sfcivil/internal/ledger"
	"github.com/opencourt/sfcivil/internal/metrics"
	"github.com/opencourt/sfcivil/internal/scrape"
)

// Config controls the download coordinator.
type Config struct {
	MaxConcurrent  int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MinPDFBytes    int64
	RequestTimeout time.Duration
	SiteRPS        float64
	UserAgent      string
}

// Coordinator downloads a case's documents. One coordinator is shared by
// the whole worker, so the semaphore bounds total in-flight requests to
// the site regardless of how many documents a case has.
type Coordinator struct {
	cfg     Config
	client  *resty.Client
	sem     chan struct{}
	limiter *rate.Limiter
	retry   retryPolicy
	logger  *zap.Logger

	mu      sync.Mutex
	cookies []*http.Cookie
}

// New constructs a Coordinator.
func New(cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MinPDFBytes <= 0 {
		cfg.MinPDFBytes = 5000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	siteRate := rate.Limit(cfg.SiteRPS)
	if cfg.SiteRPS <= 0 {
		siteRate = rate.Inf
	}

	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Coordinator{
		cfg:     cfg,
		client:  client,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		limiter: rate.NewLimiter(siteRate, 1),
		retry:   newRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay),
		logger:  logger,
	}
}

// SetCookies replaces the browser session cookies used for requests. The
// worker calls this after session setup and after every restart.
func (c *Coordinator) SetCookies(cookies []*http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cookies
	c.client.SetCookieJar(nil)
	c.client.Cookies = nil
	c.client.SetCookies(cookies)
}

// Download fetches every document with a URL and returns the refs with
// Downloaded/Missing flags set. A document that fails all attempts is
// marked missing and never fails the batch; the only error returned is
// the caller's cancellation.
func (c *Coordinator) Download(ctx context.Context, docs []scrape.DocumentRef) ([]scrape.DocumentRef, error) {
	out := make([]scrape.DocumentRef, len(docs))
	copy(out, docs)

	var wg sync.WaitGroup
	for i := range out {
		if out[i].URL == "" || out[i].TargetPath == "" {
			continue
		}
		wg.Add(1)
		go func(ref *scrape.DocumentRef) {
			defer wg.Done()
			if err := c.fetchOne(ctx, ref); err != nil {
				ref.Downloaded = false
				ref.Missing = true
				metrics.DocumentsMissing.Inc()
				c.logger.Warn("document abandoned",
					zap.String("case", ref.CaseNumber),
					zap.String("doc_id", ref.DocID),
					zap.Error(err),
				)
				return
			}
			ref.Downloaded = true
			ref.Missing = false
		}(&out[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("download batch canceled: %w", err)
	}
	return out, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, ref *scrape.DocumentRef) error {
	if c.skipExisting(ref.TargetPath) {
		return nil
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.attempt(ctx, ref)
		if lastErr == nil {
			metrics.DocumentsDownloaded.Inc()
			return nil
		}
		if !c.retry.ShouldRetry(lastErr, attempt) {
			break
		}
		c.logger.Debug("retrying document",
			zap.String("doc_id", ref.DocID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		if err := sleepCtx(ctx, c.retry.Backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", scrape.ErrDownloadFailed, c.retry.maxAttempts, lastErr)
}

// skipExisting reports whether the target already holds a plausible
// document. Undersized leftovers from an interrupted run are removed so
// the file is fetched again.
func (c *Coordinator) skipExisting(path string) bool {
	if ledger.DocumentPresent(path, c.cfg.MinPDFBytes) {
		return true
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
	}
	return false
}

func (c *Coordinator) attempt(ctx context.Context, ref *scrape.DocumentRef) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("site pacing: %w", err)
	}

	resp, err := c.client.R().SetContext(ctx).Get(ref.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", scrape.ErrDownloadTimeout, err)
		}
		return fmt.Errorf("get %s: %w", ref.DocID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d", ref.DocID, resp.StatusCode())
	}

	body := resp.Body()
	if !c.looksLikePDF(body) {
		// An interstitial challenge page arrives as HTML with a 200.
		return fmt.Errorf("get %s: response is not a document", ref.DocID)
	}
	return writeDocument(ref.TargetPath, body)
}

// looksLikePDF applies the same sniff the site's challenge pages fail:
// a minimum size and the PDF magic near the start of the body.
func (c *Coordinator) looksLikePDF(body []byte) bool {
	if int64(len(body)) < c.cfg.MinPDFBytes {
		return false
	}
	head := body
	if len(head) > 100 {
		head = head[:100]
	}
	return bytes.Contains(head, []byte("%PDF"))
}

// writeDocument persists the body with the same write-then-rename
// discipline the ledger uses, so a partial download never masquerades as
// a completed file.
func writeDocument(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create document dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s into place: %w", path, err)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("download slot wait canceled: %w", ctx.Err())
	}
}

func (c *Coordinator) release() {
	select {
	case <-c.sem:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
