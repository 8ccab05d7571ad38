// Package metrics exposes Prometheus counters for scrape progress and an
// optional per-worker HTTP listener serving them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// CasesScraped counts cases reaching a terminal status, by status.
	CasesScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfcivil_cases_scraped_total",
		Help: "The total number of cases reaching a terminal status.",
	}, []string{"status"})
	// DocumentsDownloaded counts documents fetched and persisted.
	DocumentsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfcivil_documents_downloaded_total",
		Help: "The total number of case documents downloaded.",
	})
	// DocumentsMissing counts documents abandoned after exhausting retries.
	DocumentsMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfcivil_documents_missing_total",
		Help: "The total number of documents recorded as missing.",
	})
	// SessionRestarts counts browser session restarts by the watchdog.
	SessionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfcivil_session_restarts_total",
		Help: "The total number of browser session restarts.",
	})
	// DaysCompleted counts filing dates fully scraped.
	DaysCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfcivil_days_completed_total",
		Help: "The total number of filing dates scraped to completion.",
	})
	// DaysFailed counts filing dates abandoned after bounded retries.
	DaysFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfcivil_days_failed_total",
		Help: "The total number of filing dates marked failed.",
	})
)

// Serve runs a metrics listener on the given port until ctx is canceled.
func Serve(ctx context.Context, port int, logger *zap.Logger) error {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics listener started", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listen: %w", err)
	}
	return nil
}
