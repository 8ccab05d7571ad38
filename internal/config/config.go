// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opencourt/sfcivil/internal/civil"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Download DownloadConfig `mapstructure:"download"`
	Launcher LauncherConfig `mapstructure:"launcher"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScraperConfig governs the per-day and per-case scrape loops.
type ScraperConfig struct {
	StartDate          string   `mapstructure:"start_date"`
	EndDate            string   `mapstructure:"end_date"`
	DataDir            string   `mapstructure:"data_dir"`
	CourtURL           string   `mapstructure:"court_url"`
	CaseURLPrefix      string   `mapstructure:"case_url_prefix"`
	RestrictedMarkers  []string `mapstructure:"restricted_markers"`
	UnavailableMarkers []string `mapstructure:"unavailable_markers"`
	ChallengeMarkers   []string `mapstructure:"challenge_markers"`
	MaxDayRetries      int      `mapstructure:"max_day_retries"`
	CasePauseSeconds   int      `mapstructure:"case_pause_seconds"`
}

// BrowserConfig controls the Chrome process owned by each worker.
type BrowserConfig struct {
	Binary               string `mapstructure:"binary"`
	ProfileRoot          string `mapstructure:"profile_root"`
	BasePort             int    `mapstructure:"base_port"`
	Headless             bool   `mapstructure:"headless"`
	Interactive          bool   `mapstructure:"interactive"`
	NavTimeoutSeconds    int    `mapstructure:"nav_timeout_seconds"`
	ProbeTimeoutSeconds  int    `mapstructure:"probe_timeout_seconds"`
	AttachTimeoutSeconds int    `mapstructure:"attach_timeout_seconds"`
	StopGraceSeconds     int    `mapstructure:"stop_grace_seconds"`
}

// DownloadConfig controls the document download coordinator.
type DownloadConfig struct {
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	MinPDFBytes      int64   `mapstructure:"min_pdf_bytes"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	SiteRPS          float64 `mapstructure:"site_rps"`
}

// LauncherConfig controls worker process fan-out.
type LauncherConfig struct {
	Workers           int `mapstructure:"workers"`
	StaggerSeconds    int `mapstructure:"stagger_seconds"`
	MaxWorkerRestarts int `mapstructure:"max_worker_restarts"`
}

// MetricsConfig controls the optional per-worker metrics listener. The
// actual listen port is base_port plus the worker id.
type MetricsConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	BasePort int  `mapstructure:"base_port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SFCIVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.start_date", "2015-01-01")
	v.SetDefault("scraper.end_date", "2015-01-10")
	v.SetDefault("scraper.data_dir", "data")
	v.SetDefault("scraper.court_url", "https://webapps.sftc.org/ci/CaseInfo.dll")
	v.SetDefault("scraper.case_url_prefix", "https://webapps.sftc.org/ci/")
	v.SetDefault("scraper.restricted_markers", []string{
		"Per CCP 1161.2",
		"Case Is Not Available For Viewing",
	})
	v.SetDefault("scraper.unavailable_markers", []string{
		"No Case Information Found",
	})
	v.SetDefault("scraper.challenge_markers", []string{
		"Just a moment",
		"challenge-platform",
	})
	v.SetDefault("scraper.max_day_retries", 3)
	v.SetDefault("scraper.case_pause_seconds", 2)
	v.SetDefault("browser.binary", "")
	v.SetDefault("browser.profile_root", "profiles")
	v.SetDefault("browser.base_port", 9222)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.interactive", false)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.probe_timeout_seconds", 5)
	v.SetDefault("browser.attach_timeout_seconds", 30)
	v.SetDefault("browser.stop_grace_seconds", 5)
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.backoff_initial_ms", 1000)
	v.SetDefault("download.backoff_max_ms", 8000)
	v.SetDefault("download.min_pdf_bytes", 5000)
	v.SetDefault("download.timeout_seconds", 60)
	v.SetDefault("download.site_rps", 1)
	v.SetDefault("launcher.workers", 3)
	v.SetDefault("launcher.stagger_seconds", 5)
	v.SetDefault("launcher.max_worker_restarts", 2)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.base_port", 9600)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.DateRange(); err != nil {
		return err
	}
	if c.Scraper.DataDir == "" {
		return fmt.Errorf("scraper.data_dir must be set")
	}
	if c.Scraper.MaxDayRetries <= 0 {
		return fmt.Errorf("scraper.max_day_retries must be > 0")
	}
	if c.Launcher.Workers <= 0 {
		return fmt.Errorf("launcher.workers must be > 0")
	}
	if c.Browser.BasePort <= 0 {
		return fmt.Errorf("browser.base_port must be > 0")
	}
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("download.max_concurrent must be > 0")
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("download.max_attempts must be > 0")
	}
	if len(c.Scraper.RestrictedMarkers) == 0 {
		return fmt.Errorf("scraper.restricted_markers must not be empty")
	}
	return nil
}

// DateRange parses the configured scrape window.
func (c Config) DateRange() (civil.DateRange, error) {
	start, err := civil.ParseDate(c.Scraper.StartDate)
	if err != nil {
		return civil.DateRange{}, fmt.Errorf("scraper.start_date: %w", err)
	}
	end, err := civil.ParseDate(c.Scraper.EndDate)
	if err != nil {
		return civil.DateRange{}, fmt.Errorf("scraper.end_date: %w", err)
	}
	r, err := civil.NewRange(start, end)
	if err != nil {
		return civil.DateRange{}, fmt.Errorf("scraper date range: %w", err)
	}
	return r, nil
}

// NavTimeout converts the browser navigation timeout to a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// ProbeTimeout converts the liveness probe timeout to a duration.
func (c BrowserConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// AttachTimeout converts the DevTools attach timeout to a duration.
func (c BrowserConfig) AttachTimeout() time.Duration {
	return time.Duration(c.AttachTimeoutSeconds) * time.Second
}

// StopGrace converts the graceful-stop window to a duration.
func (c BrowserConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}
