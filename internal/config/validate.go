package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDB.APIKey == "" && c.TMDB.BearerToken == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/cinesync/config.toml"
		}
		return fmt.Errorf("tmdb.api_key or tmdb.bearer_token is required. Set TMDB_API_KEY env var or edit %s (create with 'cinesync config init')", defaultPath)
	}
	if err := ensurePositiveMap(map[string]int{
		"tmdb.requests_per_window": c.TMDB.RequestsPerWindow,
		"tmdb.window_seconds":      c.TMDB.WindowSeconds,
		"tmdb.burst":               c.TMDB.Burst,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGateway() error {
	if err := ensurePositiveMap(map[string]int{
		"gateway.max_attempts":             c.Gateway.MaxAttempts,
		"gateway.breaker_threshold":        c.Gateway.BreakerThreshold,
		"gateway.breaker_cooldown_seconds": c.Gateway.BreakerCooldownSeconds,
	}); err != nil {
		return err
	}
	initial := time.Duration(c.Gateway.InitialBackoffMillis) * time.Millisecond
	if initial > time.Duration(c.Gateway.MaxBackoffSeconds)*time.Second {
		return errors.New("gateway.initial_backoff_ms must not exceed gateway.max_backoff_seconds")
	}
	return nil
}

func (c *Config) validateSync() error {
	if err := ensurePositiveMap(map[string]int{
		"sync.workers":    c.Sync.Workers,
		"sync.cast_limit": c.Sync.CastLimit,
	}); err != nil {
		return err
	}
	if c.Sync.Workers >= c.TMDB.Burst {
		return fmt.Errorf("sync.workers (%d) must be smaller than tmdb.burst (%d)", c.Sync.Workers, c.TMDB.Burst)
	}
	if c.Sync.InitStartYear < 1870 {
		return errors.New("sync.init_start_year must be 1870 or later")
	}
	if c.Sync.InitEndYear != 0 && c.Sync.InitEndYear < c.Sync.InitStartYear {
		return errors.New("sync.init_end_year must not precede sync.init_start_year")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	switch c.Catalog.Driver {
	case "sqlite":
	case "postgres":
		if c.Catalog.DSN == "" {
			return errors.New("catalog.dsn must be set when catalog.driver is postgres")
		}
	default:
		return fmt.Errorf("catalog.driver: unsupported value %q", c.Catalog.Driver)
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend: unsupported value %q", c.Cache.Backend)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	if len(c.Events.Brokers) == 0 {
		return errors.New("events.brokers must be set when events.enabled is true")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
