package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("NETWORK_URL", "https://sites.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, time.Minute, cfg.Burst.Window)
	assert.Equal(t, 5, cfg.Burst.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Burst.MinGap)
	assert.Equal(t, 1000, cfg.SlugMaxAttempts)
	assert.Equal(t, int64(10<<20), cfg.AuditMaxBytes)
	assert.Equal(t, 20*time.Second, cfg.PlatformTimeout)
	assert.Equal(t, "https://sites.example.com/acme-corp/", cfg.SiteURL("acme-corp"))
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load()
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestParseCSVEnv(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, parseCSVEnv("CORS_ALLOWED_ORIGINS", nil))
}
