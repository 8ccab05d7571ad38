package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Launcher.Workers)
	require.Equal(t, 9222, cfg.Browser.BasePort)
	require.Equal(t, 3, cfg.Download.MaxConcurrent)
	require.Contains(t, cfg.Scraper.RestrictedMarkers, "Per CCP 1161.2")

	r, err := cfg.DateRange()
	require.NoError(t, err)
	require.Equal(t, "2015-01-01..2015-01-10", r.String())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scraper:
  start_date: "2016-03-01"
  end_date: "2016-03-04"
launcher:
  workers: 2
download:
  max_concurrent: 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Launcher.Workers)
	require.Equal(t, 5, cfg.Download.MaxConcurrent)

	r, err := cfg.DateRange()
	require.NoError(t, err)
	require.Equal(t, "2016-03-01..2016-03-04", r.String())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted dates", func(c *Config) { c.Scraper.StartDate = "2020-02-01"; c.Scraper.EndDate = "2020-01-01" }},
		{"bad date format", func(c *Config) { c.Scraper.StartDate = "01/02/2020" }},
		{"zero workers", func(c *Config) { c.Launcher.Workers = 0 }},
		{"zero download slots", func(c *Config) { c.Download.MaxConcurrent = 0 }},
		{"no restricted markers", func(c *Config) { c.Scraper.RestrictedMarkers = nil }},
		{"zero day retries", func(c *Config) { c.Scraper.MaxDayRetries = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
