package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cinesync/internal/cache"
	"cinesync/internal/config"
	"cinesync/internal/logging"
	"cinesync/internal/metrics"
)

// MaxResponseSize bounds how much of a provider response is read.
const MaxResponseSize = 8 * 1024 * 1024

// Settings captures the provider budget and failure policy.
type Settings struct {
	BaseURL           string
	APIKey            string
	BearerToken       string
	Language          string
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
	Timeout           time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	CacheTTL          time.Duration
}

// SettingsFromConfig maps configuration sections onto gateway settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BaseURL:           cfg.TMDB.BaseURL,
		APIKey:            cfg.TMDB.APIKey,
		BearerToken:       cfg.TMDB.BearerToken,
		Language:          cfg.TMDB.Language,
		RequestsPerWindow: cfg.TMDB.RequestsPerWindow,
		Window:            cfg.RateWindow(),
		Burst:             cfg.TMDB.Burst,
		Timeout:           cfg.RequestTimeout(),
		MaxAttempts:       cfg.Gateway.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.Gateway.InitialBackoffMillis) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Gateway.MaxBackoffSeconds) * time.Second,
		BreakerThreshold:  cfg.Gateway.BreakerThreshold,
		BreakerCooldown:   time.Duration(cfg.Gateway.BreakerCooldownSeconds) * time.Second,
		CacheTTL:          cfg.CacheTTL(),
	}
}

// Request names one provider call. Endpoint is the path below the base URL;
// Label is the low-cardinality name used for metrics and logs.
type Request struct {
	Endpoint  string
	Label     string
	Params    url.Values
	Cacheable bool
}

func (r Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Endpoint
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithCache enables response caching for cacheable requests.
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logging.NewComponentLogger(logger, "gateway") }
}

// Gateway serializes provider calls through one token bucket, retries
// transient failures, and trips a circuit breaker on sustained failure. It is
// the only holder of provider credentials. Its state lives for the process.
type Gateway struct {
	settings   Settings
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cache      cache.Cache
	metrics    *metrics.Metrics
	logger     *zap.Logger
	calls      atomic.Int64
}

// New validates settings and builds a Gateway.
func New(settings Settings, opts ...Option) (*Gateway, error) {
	if strings.TrimSpace(settings.APIKey) == "" && strings.TrimSpace(settings.BearerToken) == "" {
		return nil, errors.New("tmdb api key or bearer token required")
	}
	if strings.TrimSpace(settings.BaseURL) == "" {
		return nil, errors.New("tmdb base url required")
	}
	if settings.RequestsPerWindow <= 0 || settings.Window <= 0 {
		return nil, errors.New("tmdb rate budget must be positive")
	}
	if settings.Burst <= 0 {
		settings.Burst = 1
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 1
	}
	if settings.InitialBackoff <= 0 {
		settings.InitialBackoff = 500 * time.Millisecond
	}
	if settings.MaxBackoff < settings.InitialBackoff {
		settings.MaxBackoff = settings.InitialBackoff
	}
	if settings.BreakerThreshold <= 0 {
		settings.BreakerThreshold = 5
	}
	if settings.BreakerCooldown <= 0 {
		settings.BreakerCooldown = time.Minute
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")

	g := &Gateway{
		settings: settings,
		httpClient: &http.Client{
			Timeout: settings.Timeout,
		},
		limiter: rate.NewLimiter(rate.Every(settings.Window/time.Duration(settings.RequestsPerWindow)), settings.Burst),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Timeout:     settings.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(settings.BreakerThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Only transient failures count against the upstream's health.
			return err == nil || !IsTransient(err)
		},
		OnStateChange: g.onStateChange,
	})
	return g, nil
}

// Language returns the configured response language.
func (g *Gateway) Language() string {
	return g.settings.Language
}

// Calls returns how many HTTP round trips the gateway has issued.
func (g *Gateway) Calls() int64 {
	return g.calls.Load()
}

// BreakerState returns the current breaker state name.
func (g *Gateway) BreakerState() string {
	return g.breaker.State().String()
}

// Fetch performs req under the shared throttle, retry, and breaker policy and
// returns the raw JSON body. Errors are *TransientFailure, *PermanentFailure,
// *CircuitOpen, or the context's error.
func (g *Gateway) Fetch(ctx context.Context, req Request) ([]byte, error) {
	label := req.label()
	cacheKey := ""
	if req.Cacheable && g.cache != nil {
		cacheKey = req.Endpoint + "?" + req.Params.Encode()
		if body, ok, err := g.cache.Get(ctx, cacheKey); err == nil && ok {
			g.metrics.CacheLookup(true)
			return body, nil
		} else if err != nil {
			g.logger.Debug("response cache read failed", zap.String("endpoint", label), zap.Error(err))
		}
		g.metrics.CacheLookup(false)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.settings.InitialBackoff
	expo.MaxInterval = g.settings.MaxBackoff
	expo.RandomizationFactor = 0.5
	expo.Multiplier = 2

	var (
		attempts      int
		lastTransient *TransientFailure
	)
	operation := func() ([]byte, error) {
		attempts++
		if g.breaker.State() == gobreaker.StateOpen {
			return nil, backoff.Permanent(&CircuitOpen{Endpoint: label})
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		body, err := g.breaker.Execute(func() ([]byte, error) {
			return g.attempt(ctx, req, label)
		})
		if err == nil {
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(&CircuitOpen{Endpoint: label})
		}
		var tf *TransientFailure
		if errors.As(err, &tf) {
			lastTransient = tf
			if tf.RetryAfter > 0 {
				wait := min(tf.RetryAfter, g.settings.MaxBackoff)
				return nil, backoff.RetryAfter(int(wait.Round(time.Second) / time.Second))
			}
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(g.settings.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.metrics.Retry(label)
			g.logger.Debug("tmdb request retry scheduled",
				zap.String("endpoint", label),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		if cacheKey != "" {
			if cerr := g.cache.Set(ctx, cacheKey, body, g.settings.CacheTTL); cerr != nil {
				g.logger.Debug("response cache write failed", zap.String("endpoint", label), zap.Error(cerr))
			}
		}
		return body, nil
	}

	var (
		open *CircuitOpen
		perm *PermanentFailure
	)
	switch {
	case errors.As(err, &open):
		return nil, open
	case errors.As(err, &perm):
		return nil, perm
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	failure := &TransientFailure{Endpoint: label, Attempts: attempts, Err: err}
	if lastTransient != nil {
		failure.Status = lastTransient.Status
		failure.RetryAfter = lastTransient.RetryAfter
		failure.Err = lastTransient.Err
	}
	logging.WarnWithContext(g.logger, "tmdb request failed after retries", "gateway_retries_exhausted",
		zap.String("endpoint", label),
		zap.Int("attempts", attempts),
		zap.Int("status", failure.Status),
		zap.String(logging.FieldErrorHint, "provider degraded or rate budget too high"),
		zap.String(logging.FieldImpact, "record reported as transient failure"),
	)
	return nil, failure
}

func (g *Gateway) attempt(ctx context.Context, req Request, label string) ([]byte, error) {
	endpoint, err := url.Parse(g.settings.BaseURL + req.Endpoint)
	if err != nil {
		return nil, &PermanentFailure{Endpoint: label, Reason: "build request url", Err: err}
	}
	params := url.Values{}
	for key, values := range req.Params {
		params[key] = append([]string(nil), values...)
	}
	if g.settings.BearerToken == "" {
		params.Set("api_key", g.settings.APIKey)
	}
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &PermanentFailure{Endpoint: label, Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if g.settings.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.settings.BearerToken)
	}

	g.calls.Add(1)
	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.metrics.ObserveRequest(label, "transport_error", latency)
		return nil, &TransientFailure{Endpoint: label, Err: fmt.Errorf("execute request (latency=%v): %w", latency, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		g.metrics.ObserveRequest(label, "read_error", latency)
		return nil, &TransientFailure{Endpoint: label, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(body) > MaxResponseSize {
		g.metrics.ObserveRequest(label, "oversized", latency)
		return nil, &PermanentFailure{Endpoint: label, Status: resp.StatusCode, Reason: "response exceeds size limit"}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		g.metrics.ObserveRequest(label, "transient", latency)
		return nil, &TransientFailure{
			Endpoint:   label,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("tmdb returned %d (latency=%v)", resp.StatusCode, latency),
		}
	case resp.StatusCode != http.StatusOK:
		g.metrics.ObserveRequest(label, "permanent", latency)
		reason := gjson.GetBytes(body, "status_message").String()
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, &PermanentFailure{Endpoint: label, Status: resp.StatusCode, Reason: reason}
	}

	if !gjson.ValidBytes(body) {
		g.metrics.ObserveRequest(label, "malformed", latency)
		return nil, &PermanentFailure{Endpoint: label, Status: resp.StatusCode, Reason: "malformed payload"}
	}
	g.metrics.ObserveRequest(label, "ok", latency)
	return body, nil
}

func (g *Gateway) onStateChange(name string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		g.metrics.SetBreakerState(2)
		logging.WarnWithContext(g.logger, "circuit breaker opened", "gateway_breaker_open",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.Duration("cooldown", g.settings.BreakerCooldown),
			zap.String(logging.FieldImpact, "provider calls short-circuited until cooldown ends"),
		)
	case gobreaker.StateHalfOpen:
		g.metrics.SetBreakerState(1)
		g.logger.Info("circuit breaker probing", zap.String("breaker", name))
	default:
		g.metrics.SetBreakerState(0)
		g.logger.Info("circuit breaker closed", zap.String("breaker", name))
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
