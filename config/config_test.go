package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise-scraper/ratelimit"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPrioritiesDefaults(t *testing.T) {
	p, err := LoadPriorities("")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultPriorities(), p)
}

func TestLoadPrioritiesFromYAML(t *testing.T) {
	path := writeFile(t, `
priorities:
  interactive:
    requests_per_second: 4
    burst_size: 8
    enabled: true
  batch:
    requests_per_second: 0.5
    burst_size: 1
    enabled: false
`)
	p, err := LoadPriorities(path)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Config{RequestsPerSecond: 4, BurstSize: 8, Enabled: true}, p["interactive"])
	assert.Equal(t, ratelimit.Config{RequestsPerSecond: 0.5, BurstSize: 1}, p["batch"])
}

func TestLoadPrioritiesRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"zero rate": "priorities:\n  low:\n    requests_per_second: 0\n    burst_size: 1\n",
		"no burst":  "priorities:\n  low:\n    requests_per_second: 1\n    burst_size: 0\n",
		"empty":     "priorities: {}\n",
		"not yaml":  "priorities: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPriorities(writeFile(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadPriorities(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/tmp/cruises")
	t.Setenv("PAGES_TO_SCRAPE", "4")
	t.Setenv("POSTGRES_ENABLED", "true")
	t.Setenv("QUALITY_THRESHOLD", "0.7")
	t.Setenv("MAX_RETRIES", "not-a-number")
	t.Setenv("SCRAPER_BASE_URL", "https://cruises.example.com/")
	t.Setenv("SCRAPER_SEARCH_PATH", "/find")

	cfg := Load()
	assert.Equal(t, "/tmp/cruises", cfg.OutputDir)
	assert.Equal(t, 4, cfg.PagesToScrape)
	assert.True(t, cfg.PostgresEnabled)
	assert.Equal(t, 0.7, cfg.QualityThreshold)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "https://cruises.example.com/find", cfg.SearchURL())
	assert.Contains(t, cfg.DSN(), "dbname=cruise_db")
}
