// Package config loads service settings from the environment. A .env file
// in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// Config holds every setting the binaries need. It is built once in main
// and passed to constructors.
type Config struct {
	Port     string
	LogLevel string
	LogJSON  bool

	StoreBackend string
	DatabasePath string
	GCPProject   string
	BQDataset    string
	StoreTimeout time.Duration

	GCSBucket    string
	TaxRulesPath string

	NotionToken      string
	NotionReviewDBID string

	GeminiModel string

	RateLimitRPS   float64
	RateLimitBurst int
	CacheTTL       time.Duration
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Load: reading %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		Port:     e.str("PORT", "8080"),
		LogLevel: e.str("LOG_LEVEL", "info"),
		LogJSON:  e.boolean("LOG_JSON", false),

		StoreBackend: e.str("STORE_BACKEND", BackendMemory),
		DatabasePath: e.str("DATABASE_PATH", "./filer.db"),
		GCPProject:   e.str("GCP_PROJECT", ""),
		BQDataset:    e.str("BQ_DATASET", "filer"),
		StoreTimeout: e.duration("STORE_TIMEOUT", 5*time.Second),

		GCSBucket:    e.str("GCS_BUCKET", ""),
		TaxRulesPath: e.str("TAX_RULES_PATH", ""),

		NotionToken:      e.str("NOTION_TOKEN", ""),
		NotionReviewDBID: e.str("NOTION_REVIEW_DB_ID", ""),

		GeminiModel: e.str("GEMINI_MODEL", "gemini-2.5-flash"),

		RateLimitRPS:   e.float("RATE_LIMIT_RPS", 10),
		RateLimitBurst: e.integer("RATE_LIMIT_BURST", 30),
		CacheTTL:       e.duration("CACHE_TTL", 30*time.Second),
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("FromLookup: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("Validate: DATABASE_PATH is required for the sqlite backend")
		}
	case BackendBigQuery:
		if c.GCPProject == "" || c.BQDataset == "" {
			return fmt.Errorf("Validate: GCP_PROJECT and BQ_DATASET are required for the bigquery backend")
		}
	default:
		return fmt.Errorf("Validate: unknown STORE_BACKEND %q (want memory, sqlite or bigquery)", c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("Validate: STORE_TIMEOUT must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("Validate: CACHE_TTL must not be negative")
	}
	return nil
}

// env reads typed values and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (e *env) float(key string, fallback float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (e *env) boolean(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}
