package config

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on. Modes are
// "store" (tender management commands), "search" and "serve". All problems
// are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = c.validateStore(errs)
	case "search":
		errs = c.validateStore(errs)
		errs = c.validateSearch(errs)
	case "serve":
		errs = c.validateStore(errs)
		errs = c.validateSearch(errs)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Runner.PollIntervalMs <= 0 {
			errs = append(errs, "runner.poll_interval_ms must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(errs []string) []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, `store.driver must be "sqlite" or "postgres"`)
	}
	if strings.TrimSpace(c.Store.DatabaseURL) == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateSearch(errs []string) []string {
	u, err := url.Parse(c.Portal.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "portal.base_url must be an absolute http(s) URL")
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, "search.max_results must be >= 1")
	}
	if c.Search.PoliteDelayMs < 0 {
		errs = append(errs, "search.polite_delay_ms must be >= 0")
	}
	if c.Portal.MaxAttempts < 1 {
		errs = append(errs, "portal.max_attempts must be >= 1")
	}
	if c.Portal.RequestsPerSecond < 0 {
		errs = append(errs, "portal.requests_per_second must be >= 0")
	}
	return errs
}
