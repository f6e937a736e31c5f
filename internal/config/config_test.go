package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, ScratchMemory, cfg.ScratchBackend)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, 1.0, cfg.DevCoinRate)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.com")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("SCRATCH_BACKEND", "SQLite")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DEV_COIN_RATE", "2.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, ScratchSQLite, cfg.ScratchBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.DevCoinRate)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9999\nNATS_KV_BUCKET=from-file\n"), 0o600))
	t.Setenv("PORT", "7000")
	os.Unsetenv("NATS_KV_BUCKET")
	t.Cleanup(func() { os.Unsetenv("NATS_KV_BUCKET") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.ServerPort)
	assert.Equal(t, "from-file", cfg.NATSKVBucket)
}

func TestValidate(t *testing.T) {
	t.Setenv("SCRATCH_BACKEND", "floppy")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("SCRATCH_BACKEND", ScratchNATS)
	t.Setenv("NATS_URL", "")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
