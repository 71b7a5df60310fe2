package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	gen "github.com/ineyio/gengateway"
	"github.com/ineyio/gengateway/cache/memory"
	cachepg "github.com/ineyio/gengateway/cache/postgres"
	cacheredis "github.com/ineyio/gengateway/cache/redis"
	"github.com/ineyio/gengateway/cache/sqlite"
	"github.com/ineyio/gengateway/fallback"
	"github.com/ineyio/gengateway/meter"
	"github.com/ineyio/gengateway/parse"
	"github.com/ineyio/gengateway/provider/gemini"
	"github.com/ineyio/gengateway/provider/imagen"
	"github.com/ineyio/gengateway/provider/mock"
	"github.com/ineyio/gengateway/provider/openaicompat"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// cacheBackend is an opened cache with its optional admin surface.
type cacheBackend struct {
	store gen.CacheStore
	admin gen.CacheAdmin
	close func() error
}

func openCache(ctx context.Context, cfg gen.CacheConfig) (cacheBackend, error) {
	noClose := func() error { return nil }

	switch cfg.Backend {
	case "", "memory":
		s := memory.New(memory.WithTTL(cfg.TTL))
		return cacheBackend{store: s, admin: s, close: noClose}, nil

	case "none":
		return cacheBackend{close: noClose}, nil

	case "sqlite":
		s, err := sqlite.New(cfg.Path, sqlite.WithTTL(cfg.TTL))
		if err != nil {
			return cacheBackend{}, err
		}
		return cacheBackend{store: s, admin: s, close: s.Close}, nil

	case "redis":
		ropts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return cacheBackend{}, fmt.Errorf("gengateway: redis url: %w", err)
		}
		client := goredis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return cacheBackend{}, fmt.Errorf("gengateway: redis ping: %w", err)
		}
		var opts []cacheredis.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, cacheredis.WithKeyPrefix(cfg.KeyPrefix))
		}
		opts = append(opts, cacheredis.WithTTL(cfg.TTL))
		s := cacheredis.New(client, opts...)
		return cacheBackend{store: s, admin: s, close: client.Close}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return cacheBackend{}, fmt.Errorf("gengateway: postgres: %w", err)
		}
		var opts []cachepg.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, cachepg.WithTablePrefix(cfg.KeyPrefix))
		}
		opts = append(opts, cachepg.WithTTL(cfg.TTL))
		s := cachepg.New(pool, opts...)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return cacheBackend{}, err
		}
		return cacheBackend{store: s, admin: s, close: func() error { pool.Close(); return nil }}, nil
	}
	return cacheBackend{}, fmt.Errorf("gengateway: unknown cache backend %q", cfg.Backend)
}

// buildProviders creates one adapter per configured provider, chosen by name.
// Unknown names with a base_url are treated as OpenAI-compatible.
func buildProviders(cfg gen.Config) ([]gen.Provider, error) {
	var out []gen.Provider
	for _, pc := range cfg.Providers {
		switch name := strings.ToLower(pc.Name); {
		case name == "gemini":
			var opts []gemini.Option
			if pc.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
			}
			out = append(out, gemini.New(opts...))
		case name == "imagen":
			var opts []imagen.Option
			if pc.BaseURL != "" {
				opts = append(opts, imagen.WithBaseURL(pc.BaseURL))
			}
			out = append(out, imagen.New(opts...))
		case name == "mock":
			out = append(out, mock.New())
		case pc.BaseURL != "":
			out = append(out, openaicompat.New(pc.Name, pc.BaseURL))
		case name == "openai":
			out = append(out, openaicompat.NewOpenAI())
		case name == "grok":
			out = append(out, openaicompat.NewGrok())
		case name == "cerebras":
			out = append(out, openaicompat.NewCerebras())
		default:
			return nil, fmt.Errorf("gengateway: provider %q: unknown adapter (set base_url for OpenAI-compatible APIs)", pc.Name)
		}
	}
	return out, nil
}

// app bundles everything a command needs.
type app struct {
	cfg     gen.Config
	logger  *slog.Logger
	gateway *gen.Gateway
	cache   cacheBackend
}

// newApp loads config and builds the gateway. Debug logging adds a LogMeter
// next to the given meters.
func newApp(ctx context.Context, opts *rootOptions, meters ...gen.Meter) (*app, error) {
	logger := newLogger(os.Stderr, opts.logLevel, opts.logJSON)

	cfg, err := gen.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	cache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	gopts := []gen.Option{
		gen.WithLogger(logger),
		gen.WithParser(parse.New()),
		gen.WithFallback(fallback.New()),
	}
	if cache.store != nil {
		gopts = append(gopts, gen.WithCacheStore(cache.store))
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		meters = append(meters, meter.NewLogMeter(logger))
	}
	if len(meters) > 0 {
		gopts = append(gopts, gen.WithMeter(meter.Multi(meters)))
	}

	gw, err := gen.NewGateway(cfg, providers, gopts...)
	if err != nil {
		cache.close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, gateway: gw, cache: cache}, nil
}

func (a *app) Close() error {
	return a.cache.close()
}
