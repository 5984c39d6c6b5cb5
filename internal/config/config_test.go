package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, 30, cfg.RateLimitBurst)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
}

func TestFromLookup_Values(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"PORT":                "9090",
		"STORE_BACKEND":       "bigquery",
		"GCP_PROJECT":         "proj",
		"BQ_DATASET":          "tax",
		"STORE_TIMEOUT":       "2s",
		"RATE_LIMIT_RPS":      "2.5",
		"RATE_LIMIT_BURST":    "5",
		"LOG_JSON":            "true",
		"NOTION_REVIEW_DB_ID": "db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "proj", cfg.GCPProject)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "db", cfg.NotionReviewDBID)
}

func TestFromLookup_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"STORE_TIMEOUT": "soon"}},
		{"bad integer", map[string]string{"RATE_LIMIT_BURST": "many"}},
		{"bad bool", map[string]string{"LOG_JSON": "maybe"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "postgres"}},
		{"bigquery without project", map[string]string{"STORE_BACKEND": "bigquery"}},
		{"zero timeout", map[string]string{"STORE_TIMEOUT": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FILER_TEST_ONLY=1\nSTORE_BACKEND=sqlite\nDATABASE_PATH=/tmp/x.db\n"), 0o600))
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_PATH", "")
	os.Unsetenv("STORE_BACKEND")
	os.Unsetenv("DATABASE_PATH")
	t.Cleanup(func() { os.Unsetenv("FILER_TEST_ONLY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
