package testsupport

import (
	"path/filepath"
	"testing"

	"cinesync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Rate limits, backoff and breaker cooldowns are shrunk so gateway-backed
// tests run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.TMDB.APIKey = "test"
	cfgVal.TMDB.RequestsPerWindow = 1000
	cfgVal.TMDB.WindowSeconds = 1
	cfgVal.TMDB.Burst = 100
	cfgVal.TMDB.TimeoutSeconds = 2
	cfgVal.Gateway.MaxAttempts = 2
	cfgVal.Gateway.InitialBackoffMillis = 1
	cfgVal.Gateway.MaxBackoffSeconds = 1
	cfgVal.Gateway.BreakerThreshold = 50
	cfgVal.Gateway.BreakerCooldownSeconds = 60
	cfgVal.Sync.Workers = 4
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReviewDir = filepath.Join(base, "review")
	cfgVal.Catalog.DSN = filepath.Join(base, "data", "catalog.db")
	cfgVal.Cache.Backend = "none"
	cfgVal.Server.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTMDBBaseURL points the provider client at a fake server.
func WithTMDBBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.TMDB.BaseURL = url
	}
}

// WithWorkers overrides the fetch pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.Workers = n
	}
}

// WithMaxPages caps how many listing pages selection reads.
func WithMaxPages(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxPages = n
	}
}

// WithInitYears bounds the init backfill.
func WithInitYears(start, end int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.InitStartYear = start
		b.cfg.Sync.InitEndYear = end
	}
}

// WithBreaker sets the breaker threshold and cooldown seconds.
func WithBreaker(threshold, cooldownSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gateway.BreakerThreshold = threshold
		b.cfg.Gateway.BreakerCooldownSeconds = cooldownSeconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
