// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the chatgate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"chatgate/config"
	"chatgate/internal/cache"
	"chatgate/internal/catalog"
	"chatgate/internal/emulator"
	"chatgate/internal/gateway"
	"chatgate/internal/httpclient"
	"chatgate/internal/observability"
	"chatgate/internal/pkg/llmclient"
	"chatgate/internal/server"
	"chatgate/internal/shaper"
	"chatgate/internal/sse"
	"chatgate/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config  *config.Config
	models  *catalog.Catalog
	cache   cache.Cache
	usage   *usage.Tracker
	gateway *gateway.Gateway
	server  *server.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	models, err := catalog.Load(cfg.Models.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}

	app := &App{config: cfg, models: models}

	responseCache, err := NewCache(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = responseCache

	tracker, err := usage.New(ctx, cfg)
	if err != nil {
		if closeErr := app.closeCache(); closeErr != nil {
			return nil, fmt.Errorf("usage accounting: %w (cache close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("usage accounting: %w", err)
	}
	app.usage = tracker

	app.logStartupInfo()

	var observer *observability.Observer
	if cfg.Metrics.Enabled {
		observer = observability.NewObserver()
	}
	app.gateway = NewGateway(cfg, responseCache, observer)

	bodySizeLimit, err := config.ParseBodySizeLimit(cfg.Server.BodySizeLimit)
	if err != nil {
		closeErr := errors.Join(app.usage.Close(), app.closeCache())
		if closeErr != nil {
			return nil, fmt.Errorf("invalid body size limit: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("invalid body size limit: %w", err)
	}

	app.server = server.New(app.gateway, models, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   bodySizeLimit,
		Upstream: server.Upstream{
			Endpoint:      cfg.Upstream.Endpoint,
			APIKey:        cfg.Upstream.APIKey,
			AggregatorKey: cfg.Upstream.AggregatorKey,
			Headers:       cfg.Upstream.Headers,
		},
		Defaults: cfg.Gateway.Defaults,
		Shaper:   ShaperOptions(cfg),
		Usage:    tracker.Sink,
	})

	return app, nil
}

// NewCache builds the response cache selected by cfg. It returns nil when
// caching is disabled.
func NewCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		return cache.NewLocalCache(cfg.TTL, cfg.MaxEntries), nil
	case "redis":
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// ShaperOptions derives the request shaper settings from cfg.
func ShaperOptions(cfg *config.Config) shaper.Options {
	opts := shaper.DefaultOptions()
	if cfg.Upstream.AggregatorEndpoint != "" {
		opts.AggregatorEndpoint = cfg.Upstream.AggregatorEndpoint
	}
	if len(cfg.Upstream.AzureHostSuffixes) > 0 {
		opts.IsAzureEndpoint = shaper.AzureHostMatcher(cfg.Upstream.AzureHostSuffixes...)
	}
	return opts
}

// NewGateway builds the completion gateway and its upstream client. A nil
// observer disables metrics collection; a nil cache disables caching.
func NewGateway(cfg *config.Config, responseCache cache.Cache, observer *observability.Observer) *gateway.Gateway {
	httpOpts := httpclient.Defaults().Override(cfg.HTTP.Timeout, cfg.HTTP.ResponseHeaderTimeout)

	clientCfg := llmclient.Config{UserAgent: cfg.HTTP.UserAgent}
	gwCfg := gateway.Config{
		Shaper: ShaperOptions(cfg),
		Emulator: emulator.Options{
			ChunkSize: cfg.Gateway.ChunkSize,
			Delay:     cfg.Gateway.ChunkDelay,
		},
		Decoder:              sse.Options{PassThroughOpaque: cfg.Gateway.PassThroughOpaque},
		NonStreamingPrefixes: cfg.Gateway.NonStreamingPrefixes,
		CacheTTL:             cfg.Cache.TTL,
	}
	if gwCfg.NonStreamingPrefixes == nil {
		gwCfg.NonStreamingPrefixes = gateway.DefaultNonStreamingPrefixes
	}
	if responseCache != nil {
		gwCfg.Cache = responseCache
	}
	if observer != nil {
		clientCfg.Observer = observer
		gwCfg.Observer = observer
	}

	client := llmclient.NewWithHTTPClient(httpclient.New(httpOpts), clientCfg)
	return gateway.New(client, gwCfg)
}

// Gateway returns the completion gateway.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Models returns the model catalog.
func (a *App) Models() *catalog.Catalog {
	return a.models
}

// UsageSink returns where completed requests are accounted.
func (a *App) UsageSink() usage.Sink {
	if a.usage == nil {
		return usage.Noop{}
	}
	return a.usage.Sink
}

// Handler returns the HTTP handler of the server.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start serves on addr until Shutdown. A graceful stop returns nil.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return errors.New("server is not initialized")
	}
	slog.Info("listening", "address", addr)
	err := a.server.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

type shutdownStep struct {
	name string
	run  func(context.Context) error
}

// Shutdown stops accepting requests, drains in-flight ones, flushes queued
// usage records and closes the cache, in that order. Every step runs even
// when an earlier one fails. Later calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		steps := []shutdownStep{
			{"server", func(ctx context.Context) error {
				if a.server == nil {
					return nil
				}
				return a.server.Shutdown(ctx)
			}},
			{"usage", func(context.Context) error {
				if a.usage == nil {
					return nil
				}
				return a.usage.Close()
			}},
			{"cache", func(context.Context) error { return a.closeCache() }},
		}

		var errs []error
		for _, step := range steps {
			if err := step.run(ctx); err != nil {
				slog.Error("shutdown step failed", "step", step.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			}
		}
		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return a.shutdownErr
}

func (a *App) closeCache() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("CHATGATE_MASTER_KEY is not set, the gateway accepts unauthenticated requests")
	}

	cacheType := cfg.Cache.Type
	if cacheType == "" {
		cacheType = "none"
	}
	usageAttr := slog.Group("usage", "enabled", false)
	if cfg.Usage.Enabled {
		usageAttr = slog.Group("usage",
			"enabled", true,
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval_s", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	}

	slog.Info("gateway configured",
		slog.Group("upstream",
			"endpoint", cfg.Upstream.Endpoint,
			"aggregator", cfg.Upstream.AggregatorEndpoint,
			"non_streaming_prefixes", cfg.Gateway.NonStreamingPrefixes,
		),
		"auth", cfg.Server.MasterKey != "",
		"metrics", cfg.Metrics.Enabled,
		"models", a.models.Len(),
		slog.Group("cache", "type", cacheType, "ttl", cfg.Cache.TTL),
		usageAttr,
	)
}
