package config

const (
	defaultDataDir                = "~/.local/share/cinesync"
	defaultLogDir                 = "~/.local/share/cinesync/logs"
	defaultReviewDir              = "~/.local/share/cinesync/review"
	defaultTMDBLanguage           = "en-US"
	defaultTMDBBaseURL            = "https://api.themoviedb.org/3"
	defaultRequestsPerWindow      = 40
	defaultWindowSeconds          = 10
	defaultBurst                  = 20
	defaultTimeoutSeconds         = 15
	defaultMaxAttempts            = 5
	defaultInitialBackoffMillis   = 500
	defaultMaxBackoffSeconds      = 30
	defaultBreakerThreshold       = 5
	defaultBreakerCooldownSeconds = 60
	defaultWorkers                = 8
	defaultCastLimit              = 8
	defaultInitStartYear          = 1900
	defaultMaxPages               = 300
	defaultChangesDays            = 1
	defaultPageSize               = 20
	defaultCatalogDriver          = "sqlite"
	defaultCacheBackend           = "memory"
	defaultCacheTTLSeconds        = 3600
	defaultCacheMaxEntries        = 5000
	defaultEventsTopic            = "cinesync.catalog"
	defaultServerBind             = "127.0.0.1:7490"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	// TMDB's discover endpoint refuses pages beyond this.
	providerPageCeiling = 500
)

var defaultCrewJobs = []string{"Director"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ReviewDir: defaultReviewDir,
		},
		TMDB: TMDB{
			Language:          defaultTMDBLanguage,
			BaseURL:           defaultTMDBBaseURL,
			RequestsPerWindow: defaultRequestsPerWindow,
			WindowSeconds:     defaultWindowSeconds,
			Burst:             defaultBurst,
			TimeoutSeconds:    defaultTimeoutSeconds,
		},
		Gateway: Gateway{
			MaxAttempts:            defaultMaxAttempts,
			InitialBackoffMillis:   defaultInitialBackoffMillis,
			MaxBackoffSeconds:      defaultMaxBackoffSeconds,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
		},
		Sync: Sync{
			Workers:       defaultWorkers,
			CastLimit:     defaultCastLimit,
			CrewJobs:      append([]string(nil), defaultCrewJobs...),
			InitStartYear: defaultInitStartYear,
			MaxPages:      defaultMaxPages,
			ChangesDays:   defaultChangesDays,
			PageSize:      defaultPageSize,
		},
		Catalog: Catalog{
			Driver: defaultCatalogDriver,
		},
		Cache: Cache{
			Backend:    defaultCacheBackend,
			TTLSeconds: defaultCacheTTLSeconds,
			MaxEntries: defaultCacheMaxEntries,
		},
		Events: Events{
			Topic: defaultEventsTopic,
		},
		Server: Server{
			Bind: defaultServerBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
