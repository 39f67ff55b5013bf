package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Portal     PortalConfig     `yaml:"portal" mapstructure:"portal"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PortalConfig configures HTTP access to the procurement portal.
type PortalConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage    string  `yaml:"accept_language" mapstructure:"accept_language"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	BackoffStepMs     int     `yaml:"backoff_step_ms" mapstructure:"backoff_step_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// SearchConfig configures keyword searches.
type SearchConfig struct {
	MaxResults          int  `yaml:"max_results" mapstructure:"max_results"`
	PoliteDelayMs       int  `yaml:"polite_delay_ms" mapstructure:"polite_delay_ms"`
	Enrich              bool `yaml:"enrich" mapstructure:"enrich"`
	CircuitThreshold    int  `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitCooldownSecs int  `yaml:"circuit_cooldown_secs" mapstructure:"circuit_cooldown_secs"`
	TimeoutSecs         int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RunnerConfig configures the background search runner.
type RunnerConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// MonitoringConfig configures the periodic store metrics refresh.
type MonitoringConfig struct {
	CheckIntervalSecs   int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultDatabasePath is where the SQLite store lives unless configured.
const DefaultDatabasePath = "~/Documents/Safkaty/safkaty.db"

// Load reads config.yaml from the working directory (optional), then
// SAFKATY_* environment variables, on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAFKATY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("portal.base_url", "https://www.marchespublics.gov.ma")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("portal.accept_language", "fr-FR,fr;q=0.9,en;q=0.8")
	v.SetDefault("portal.timeout_secs", 20)
	v.SetDefault("portal.max_attempts", 3)
	v.SetDefault("portal.initial_backoff_ms", 1000)
	v.SetDefault("portal.backoff_step_ms", 1000)
	v.SetDefault("portal.requests_per_second", 0)
	v.SetDefault("search.max_results", 20)
	v.SetDefault("search.polite_delay_ms", 800)
	v.SetDefault("search.enrich", true)
	v.SetDefault("search.circuit_threshold", 5)
	v.SetDefault("search.circuit_cooldown_secs", 30)
	v.SetDefault("search.timeout_secs", 600)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", DefaultDatabasePath)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("runner.poll_interval_ms", 100)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Store.Driver == "sqlite" {
		p, err := ExpandHome(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		cfg.Store.DatabaseURL = p
	}

	return &cfg, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "config: resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
