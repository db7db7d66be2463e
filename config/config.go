package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cruise-scraper/ratelimit"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	OutputDir      string
	RunPriority    string
	RateLimitsFile string

	APIBaseURL        string
	APIKey            string
	APITimeoutSeconds int

	ScraperBaseURL    string
	ScraperSearchPath string
	PagesToScrape     int
	MaxConcurrency    int
	RateLimitMs       int
	MaxRetries        int
	ChromeBin         string

	CSVOutputPath string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	LogLevel         string
	MetricsAddr      string
	CacheTTLSeconds  int
	CacheMaxEntries  int
	QualityThreshold float64

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		OutputDir:      getEnv("OUTPUT_DIR", "./output"),
		RunPriority:    getEnv("RUN_PRIORITY", "medium"),
		RateLimitsFile: getEnv("RATE_LIMITS_FILE", ""),

		APIBaseURL:        getEnv("API_BASE_URL", ""),
		APIKey:            getEnv("API_KEY", ""),
		APITimeoutSeconds: getEnvInt("API_TIMEOUT_SECONDS", 20),

		ScraperBaseURL:    getEnv("SCRAPER_BASE_URL", ""),
		ScraperSearchPath: getEnv("SCRAPER_SEARCH_PATH", "/search"),
		PagesToScrape:     getEnvInt("PAGES_TO_SCRAPE", 2),
		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:       getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		ChromeBin:         getEnv("CHROME_BIN", ""),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "cruise_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		CacheTTLSeconds:  getEnvInt("CACHE_TTL_SECONDS", 0),
		CacheMaxEntries:  getEnvInt("CACHE_MAX_ENTRIES", 128),
		QualityThreshold: getEnvFloat("QUALITY_THRESHOLD", 0.5),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// SearchURL is where the browser adapter starts when the API comes back empty.
func (c *Config) SearchURL() string {
	if c.ScraperBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.ScraperBaseURL, "/") + "/" + strings.TrimLeft(c.ScraperSearchPath, "/")
}

func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoadPriorities reads the priority → limiter map from a YAML file. An empty
// path yields the built-in defaults.
func LoadPriorities(path string) (map[string]ratelimit.Config, error) {
	if path == "" {
		return ratelimit.DefaultPriorities(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file struct {
		Priorities map[string]ratelimit.Config `yaml:"priorities"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(file.Priorities) == 0 {
		return nil, fmt.Errorf("config: %s defines no priorities", path)
	}
	for name, cfg := range file.Priorities {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: priority %q: %w", name, err)
		}
	}
	return file.Priorities, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
