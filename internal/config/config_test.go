package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://www.marchespublics.gov.ma", cfg.Portal.BaseURL)
	assert.Equal(t, 20, cfg.Portal.TimeoutSecs)
	assert.Equal(t, 3, cfg.Portal.MaxAttempts)
	assert.Equal(t, 1000, cfg.Portal.InitialBackoffMs)
	assert.Contains(t, cfg.Portal.AcceptLanguage, "fr-FR")
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, 800, cfg.Search.PoliteDelayMs)
	assert.True(t, cfg.Search.Enrich)
	assert.Equal(t, 5, cfg.Search.CircuitThreshold)
	assert.Equal(t, 600, cfg.Search.TimeoutSecs)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(home, "Documents", "Safkaty", "safkaty.db"), cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 100, cfg.Runner.PollIntervalMs)
	assert.Equal(t, 60, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/safkaty
  max_conns: 8
search:
  max_results: 5
  enrich: false
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/safkaty", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(8), cfg.Store.MaxConns)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.False(t, cfg.Search.Enrich)
	assert.Equal(t, 800, cfg.Search.PoliteDelayMs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
search:
  polite_delay_ms: 100
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SAFKATY_LOG_LEVEL", "warn")
	t.Setenv("SAFKATY_SEARCH_POLITE_DELAY_MS", "1500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 1500, cfg.Search.PoliteDelayMs)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SAFKATY_SERVER_PORT", "3000")
	t.Setenv("SAFKATY_STORE_DATABASE_URL", "/var/lib/safkaty/tenders.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/var/lib/safkaty/tenders.db", cfg.Store.DatabaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/Documents/Safkaty/safkaty.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Documents/Safkaty/safkaty.db"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandHome("/tmp/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", got)

	got, err = ExpandHome("~user/x.db")
	require.NoError(t, err)
	assert.Equal(t, "~user/x.db", got)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	assert.NoError(t, err)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func validDefaults() *Config {
	return &Config{
		Portal: PortalConfig{BaseURL: "https://www.marchespublics.gov.ma", MaxAttempts: 3},
		Search: SearchConfig{MaxResults: 20, PoliteDelayMs: 800},
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "/tmp/safkaty.db"},
		Server: ServerConfig{Port: 8080},
		Runner: RunnerConfig{PollIntervalMs: 100},
	}
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = " "
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver must be "sqlite" or "postgres"`)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateSearch(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("search"))

	cfg.Portal.BaseURL = "marchespublics.gov.ma"
	cfg.Search.MaxResults = 0
	cfg.Search.PoliteDelayMs = -1
	cfg.Portal.MaxAttempts = 0
	err := cfg.Validate("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portal.base_url must be an absolute http(s) URL")
	assert.Contains(t, err.Error(), "search.max_results must be >= 1")
	assert.Contains(t, err.Error(), "search.polite_delay_ms must be >= 0")
	assert.Contains(t, err.Error(), "portal.max_attempts must be >= 1")
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Runner.PollIntervalMs = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "runner.poll_interval_ms must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
