package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Tenant.Strict)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, "https://google.serper.dev", cfg.Serper.BaseURL)
	assert.InDelta(t, 5.0, cfg.Discovery.ProviderRateLimit, 0.001)
	assert.Equal(t, 30, cfg.Discovery.CallTimeoutSecs)
	assert.Equal(t, 10, cfg.Discovery.DefaultIngestLimit)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, 45, cfg.Ingest.FetchTimeoutSecs)
	assert.Equal(t, 60, cfg.Reaper.OlderThanMinutes)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  database_url: postgres://localhost/ingest
log:
  level: debug
  format: console
server:
  port: 9090
ingest:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/ingest", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Ingest.Concurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 45, cfg.Ingest.FetchTimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INGEST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("INGEST_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/ingest"
	cfg.Discovery.ProviderRateLimit = 5
	cfg.Ingest.Concurrency = 4
	cfg.Server.Port = 8080
	cfg.Reaper.OlderThanMinutes = 60
	return cfg
}

func TestValidateDiscover_NeedsAProvider(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "jina.key or serper.key")

	cfg.Serper.Key = "s-key"
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateIngest_RequiresReaderKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "jina.key is required")

	cfg.Jina.Key = "j-key"
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Jina.Key = "j-key"

	cfg.Ingest.Concurrency = 0
	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be between 1 and 50")

	cfg.Ingest.Concurrency = 51
	assert.Error(t, cfg.Validate("ingest"))

	cfg.Ingest.Concurrency = 50
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_ReaperCutoff(t *testing.T) {
	cfg := validDefaults()

	cfg.Reaper.OlderThanMinutes = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reaper.older_than_minutes must be > 0")

	cfg.Reaper.OlderThanMinutes = -5
	assert.Error(t, cfg.Validate("serve"))

	cfg.Reaper.OlderThanMinutes = 30
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateMissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("admin")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
