package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTMDB()
	c.normalizeGateway()
	c.normalizeSync()
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReviewDir) == "" {
		c.Paths.ReviewDir = filepath.Join(c.Paths.DataDir, "review")
	}
	if c.Paths.ReviewDir, err = expandPath(c.Paths.ReviewDir); err != nil {
		return fmt.Errorf("paths.review_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTMDB() {
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	if c.TMDB.APIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDB.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("API_KEY"); ok {
			c.TMDB.APIKey = strings.TrimSpace(value)
		}
	}
	c.TMDB.BearerToken = strings.TrimSpace(c.TMDB.BearerToken)
	if c.TMDB.BearerToken == "" {
		if value, ok := os.LookupEnv("TMDB_BEARER_TOKEN"); ok {
			c.TMDB.BearerToken = strings.TrimSpace(value)
		}
	}
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	c.TMDB.Language = strings.TrimSpace(c.TMDB.Language)
	if c.TMDB.Language == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
	if c.TMDB.TimeoutSeconds <= 0 {
		c.TMDB.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (c *Config) normalizeGateway() {
	if c.Gateway.InitialBackoffMillis <= 0 {
		c.Gateway.InitialBackoffMillis = defaultInitialBackoffMillis
	}
	if c.Gateway.MaxBackoffSeconds <= 0 {
		c.Gateway.MaxBackoffSeconds = defaultMaxBackoffSeconds
	}
}

func (c *Config) normalizeSync() {
	jobs := make([]string, 0, len(c.Sync.CrewJobs))
	seen := make(map[string]struct{}, len(c.Sync.CrewJobs))
	for _, job := range c.Sync.CrewJobs {
		trimmed := strings.TrimSpace(job)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		jobs = append(jobs, trimmed)
	}
	if len(jobs) == 0 {
		jobs = append(jobs, defaultCrewJobs...)
	}
	c.Sync.CrewJobs = jobs
	if c.Sync.MaxPages <= 0 || c.Sync.MaxPages > providerPageCeiling {
		c.Sync.MaxPages = defaultMaxPages
	}
	if c.Sync.ChangesDays <= 0 {
		c.Sync.ChangesDays = defaultChangesDays
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = defaultPageSize
	}
}

func (c *Config) normalizeCatalog() error {
	c.Catalog.Driver = strings.ToLower(strings.TrimSpace(c.Catalog.Driver))
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = defaultCatalogDriver
	}
	if c.Catalog.Driver == "postgresql" {
		c.Catalog.Driver = "postgres"
	}
	c.Catalog.DSN = strings.TrimSpace(c.Catalog.DSN)
	if c.Catalog.DSN == "" {
		if value, ok := os.LookupEnv("CINESYNC_CATALOG_DSN"); ok {
			c.Catalog.DSN = strings.TrimSpace(value)
		}
	}
	if c.Catalog.Driver == "sqlite" {
		if c.Catalog.DSN == "" {
			c.Catalog.DSN = filepath.Join(c.Paths.DataDir, "catalog.db")
		}
		var err error
		if c.Catalog.DSN, err = expandPath(c.Catalog.DSN); err != nil {
			return fmt.Errorf("catalog.dsn: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeCache() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = defaultCacheTTLSeconds
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	if c.Cache.RedisPassword == "" {
		if value, ok := os.LookupEnv("CINESYNC_REDIS_PASSWORD"); ok {
			c.Cache.RedisPassword = value
		}
	}
}

func (c *Config) normalizeEvents() {
	brokers := make([]string, 0, len(c.Events.Brokers))
	for _, broker := range c.Events.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Events.Brokers = brokers
	c.Events.Topic = strings.TrimSpace(c.Events.Topic)
	if c.Events.Topic == "" {
		c.Events.Topic = defaultEventsTopic
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
