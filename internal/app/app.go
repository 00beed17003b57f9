// Package app assembles a Coordinator from configuration. Both binaries
// share it so the server and the CLI see the same cache and providers.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i474232898/weather-currency-cache/internal/config"
	"github.com/i474232898/weather-currency-cache/internal/coordinator"
	"github.com/i474232898/weather-currency-cache/internal/metrics"
	"github.com/i474232898/weather-currency-cache/internal/providers"
	"github.com/i474232898/weather-currency-cache/internal/store"
)

// NewFactory returns a coordinator.Factory that opens the configured cache
// backend and builds both providers. The release func closes the backend.
func NewFactory(cfg *config.AppConfig, logger *slog.Logger, m *metrics.Metrics) coordinator.Factory {
	return func(ctx context.Context) (*coordinator.Coordinator, func(), error) {
		backend, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		adapter := store.NewAdapter(backend, cfg.CacheTimeout, logger.With("component", "cache"), m)

		weatherProvider := providers.NewMeteosourceProvider(cfg.WeatherAPIKey, providers.Options{
			BaseURL: cfg.WeatherBaseURL,
			Timeout: cfg.UpstreamTimeout,
			RPS:     cfg.UpstreamRPS,
			Metrics: m,
		})
		ratesProvider := providers.NewExchangeRateProvider(cfg.CurrencyRateAPIKey, providers.Options{
			BaseURL: cfg.CurrencyBaseURL,
			Timeout: cfg.UpstreamTimeout,
			RPS:     cfg.UpstreamRPS,
			Metrics: m,
		})

		opts := []coordinator.Option{
			coordinator.WithWeatherTTL(cfg.WeatherTTL),
			coordinator.WithCurrencyTTL(cfg.CurrencyTTL),
			coordinator.WithLogger(logger.With("component", "coordinator")),
			coordinator.WithMetrics(m),
		}
		if cfg.SingleFlight {
			opts = append(opts, coordinator.WithSingleFlight())
		}

		coord := coordinator.New(adapter, weatherProvider, ratesProvider, opts...)
		release := func() {
			if err := adapter.Close(); err != nil {
				logger.Warn("closing cache backend", "error", err)
			}
		}
		return coord, release, nil
	}
}

func openBackend(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory:
		mem, err := store.NewMemory(cfg.MemoryMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		return mem, nil
	case config.BackendRedis:
		rdb, err := store.NewRedis(cfg.RedisURL, cfg.CacheTimeout)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		// An unreachable Redis is not fatal: every request falls through to
		// the provider until it comes back.
		pingCtx, cancel := context.WithTimeout(ctx, cfg.CacheTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable; serving without cache", "error", err)
		}
		return rdb, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
