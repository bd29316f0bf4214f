package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cinesync/internal/cache"
	"cinesync/internal/catalog"
	"cinesync/internal/config"
	"cinesync/internal/events"
	"cinesync/internal/gateway"
	"cinesync/internal/logging"
	"cinesync/internal/merge"
	"cinesync/internal/metrics"
	"cinesync/internal/review"
	"cinesync/internal/tmdb"
	"cinesync/internal/workflow"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// runtime holds the wired services for one command invocation.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	catalog  *catalog.Store
	reviews  *review.Store
	manager  *workflow.Manager

	closers []func() error
}

func (c *commandContext) openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.metrics = metrics.New(rt.registry)
	rt.closers = append(rt.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	fail := func(err error) (*runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	responseCache, err := cache.New(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("open response cache: %w", err))
	}
	if responseCache != nil {
		rt.closers = append(rt.closers, responseCache.Close)
	}
	gw, err := gateway.New(gateway.SettingsFromConfig(cfg),
		gateway.WithCache(responseCache),
		gateway.WithMetrics(rt.metrics),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return fail(fmt.Errorf("init tmdb gateway: %w", err))
	}
	client, err := tmdb.New(gw, cfg.TMDB.Language)
	if err != nil {
		return fail(fmt.Errorf("init tmdb client: %w", err))
	}

	rt.catalog, err = catalog.OpenFromConfig(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("open catalog: %w", err))
	}
	rt.closers = append(rt.closers, rt.catalog.Close)

	rt.reviews, err = review.Open(cfg, review.WithLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("open review store: %w", err))
	}
	rt.closers = append(rt.closers, rt.reviews.Close)

	publisher, err := events.New(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("init event publisher: %w", err))
	}
	rt.closers = append(rt.closers, publisher.Close)

	engine, err := merge.New(rt.catalog, merge.Options{
		CastLimit: cfg.Sync.CastLimit,
		CrewJobs:  cfg.Sync.CrewJobs,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	rt.manager, err = workflow.NewManager(cfg, workflow.Deps{
		Catalog:  rt.catalog,
		Reviews:  rt.reviews,
		Provider: client,
		Engine:   engine,
		Metrics:  rt.metrics,
		Logger:   logger,
	})
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := c.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
