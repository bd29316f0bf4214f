package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ReviewDir string `toml:"review_dir"`
}

// TMDB contains provider credentials and the published request budget.
type TMDB struct {
	APIKey            string `toml:"api_key"`
	BearerToken       string `toml:"bearer_token"`
	BaseURL           string `toml:"base_url"`
	Language          string `toml:"language"`
	RequestsPerWindow int    `toml:"requests_per_window"`
	WindowSeconds     int    `toml:"window_seconds"`
	Burst             int    `toml:"burst"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Gateway contains retry and circuit breaker policy for provider calls.
type Gateway struct {
	MaxAttempts            int `toml:"max_attempts"`
	InitialBackoffMillis   int `toml:"initial_backoff_ms"`
	MaxBackoffSeconds      int `toml:"max_backoff_seconds"`
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// Sync contains selection and merge tuning.
type Sync struct {
	Workers       int      `toml:"workers"`
	CastLimit     int      `toml:"cast_limit"`
	CrewJobs      []string `toml:"crew_jobs"`
	InitStartYear int      `toml:"init_start_year"`
	InitEndYear   int      `toml:"init_end_year"` // 0 means the current year
	MaxPages      int      `toml:"max_pages"`
	ChangesDays   int      `toml:"changes_days"`
	PageSize      int      `toml:"page_size"`
}

// Catalog selects the relational backend for the movie catalog.
type Catalog struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Cache configures the provider response cache.
type Cache struct {
	Backend       string `toml:"backend"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	MaxEntries    int    `toml:"max_entries"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Events configures catalog change notifications.
type Events struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Server configures the review and metrics HTTP listener.
type Server struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cinesync.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and review document directories
//   - TMDB: provider credentials and rate budget
//   - Gateway: retry and circuit breaker policy
//   - Sync: worker pool, credit filters, and selection windows
//   - Catalog: relational backend (sqlite or postgres)
//   - Cache: provider response cache (none, memory, redis)
//   - Events: Kafka change notifications
//   - Server: review API and metrics listener
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	TMDB    TMDB    `toml:"tmdb"`
	Gateway Gateway `toml:"gateway"`
	Sync    Sync    `toml:"sync"`
	Catalog Catalog `toml:"catalog"`
	Cache   Cache   `toml:"cache"`
	Events  Events  `toml:"events"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cinesync/config.toml")
}

// Load locates, parses, and validates a configuration file. A .env file in the
// working directory or next to the config file is applied to the environment
// first, without overriding variables that are already set.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cinesync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, log, and review directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ReviewDir, c.LockDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ReviewDBPath returns the SQLite file backing review batches.
func (c *Config) ReviewDBPath() string {
	return filepath.Join(c.Paths.DataDir, "review.db")
}

// LockDir returns the directory holding per-mode cursor locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// LockPath returns the lock file guarding the cursor for mode.
func (c *Config) LockPath(mode string) string {
	return filepath.Join(c.LockDir(), mode+".lock")
}

// RateWindow returns the provider rate window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.TMDB.WindowSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.TMDB.TimeoutSeconds) * time.Second
}

// CacheTTL returns the response cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
