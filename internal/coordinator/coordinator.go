// Package coordinator implements the cache-aside fetch pipeline shared by
// every front end: cache lookup, upstream fallback, normalization and cache
// population.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/currency"
	"github.com/i474232898/weather-currency-cache/internal/metrics"
	"github.com/i474232898/weather-currency-cache/internal/weather"
)

const (
	DefaultWeatherTTL  = 1800 * time.Second
	DefaultCurrencyTTL = 3600 * time.Second
)

var validate = validator.New()

// Cache is the store contract the coordinator needs. Implementations never
// report failures: a broken store reads as a miss and drops writes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Coordinator serves weather snapshots and conversion rates cache-aside.
// It holds no mutable state and is safe for concurrent use.
type Coordinator struct {
	cache       Cache
	weather     weather.Provider
	rates       currency.Provider
	weatherTTL  time.Duration
	currencyTTL time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	group       *singleflight.Group
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithWeatherTTL overrides DefaultWeatherTTL.
func WithWeatherTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.weatherTTL = ttl
		}
	}
}

// WithCurrencyTTL overrides DefaultCurrencyTTL.
func WithCurrencyTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.currencyTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records where each lookup was answered from.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithSingleFlight collapses concurrent misses for the same key into one
// upstream call. Off by default: concurrent misses each call upstream and
// the last cache write wins.
func WithSingleFlight() Option {
	return func(c *Coordinator) {
		c.group = &singleflight.Group{}
	}
}

// New creates a Coordinator over the injected cache and providers.
func New(cache Cache, weatherProvider weather.Provider, ratesProvider currency.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:       cache,
		weather:     weatherProvider,
		rates:       ratesProvider,
		weatherTTL:  DefaultWeatherTTL,
		currencyTTL: DefaultCurrencyTTL,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WeatherKey returns the cache key for city, independent of casing.
func WeatherKey(city string) string {
	return "weather:" + strings.ToLower(strings.TrimSpace(city))
}

// RateKey returns the cache key for the from→to pair, independent of casing.
func RateKey(from, to string) string {
	return "currency:" + strings.ToUpper(from) + "_" + strings.ToUpper(to)
}

// FetchWeather returns the snapshot for city. Upstream and malformed-payload
// failures are returned unchanged and nothing is cached for them.
func (c *Coordinator) FetchWeather(ctx context.Context, city string) (weather.Snapshot, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return weather.Snapshot{}, apperr.NewInvalidInput("city must not be empty", nil)
	}

	key := WeatherKey(city)
	if b, ok := c.cache.Get(ctx, key); ok {
		snap, err := weather.DecodeSnapshot(b)
		if err == nil {
			c.logger.Debug("weather served from cache", "key", key)
			c.metrics.Lookup("weather", metrics.SourceCache)
			return snap, nil
		}
		c.logger.Warn("ignoring undecodable cache entry", "key", key, "error", err)
	}

	v, err := c.load(key, func() (any, error) {
		return c.loadWeather(ctx, key, city)
	})
	if err != nil {
		return weather.Snapshot{}, err
	}
	c.metrics.Lookup("weather", metrics.SourceUpstream)
	return v.(weather.Snapshot), nil
}

func (c *Coordinator) loadWeather(ctx context.Context, key, city string) (weather.Snapshot, error) {
	raw, err := c.weather.Forecast(ctx, city)
	if err != nil {
		return weather.Snapshot{}, err
	}

	snap, err := weather.Normalize(city, raw)
	if err != nil {
		c.logger.Warn("weather payload rejected", "city", city, "provider", c.weather.Name(), "error", err)
		return weather.Snapshot{}, err
	}

	if err := c.populate(ctx, key, snap, c.weatherTTL); err != nil {
		return weather.Snapshot{}, err
	}
	return snap, nil
}

// FetchConversionRate returns how many units of to one unit of from buys.
func (c *Coordinator) FetchConversionRate(ctx context.Context, from, to string) (float64, error) {
	if err := validateCode("from", from); err != nil {
		return 0, err
	}
	if err := validateCode("to", to); err != nil {
		return 0, err
	}
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	key := RateKey(from, to)
	if b, ok := c.cache.Get(ctx, key); ok {
		r, err := currency.DecodeRate(b)
		if err == nil {
			c.logger.Debug("rate served from cache", "key", key)
			c.metrics.Lookup("rate", metrics.SourceCache)
			return r.Rate, nil
		}
		c.logger.Warn("ignoring undecodable cache entry", "key", key, "error", err)
	}

	v, err := c.load(key, func() (any, error) {
		return c.loadRate(ctx, key, from, to)
	})
	if err != nil {
		return 0, err
	}
	c.metrics.Lookup("rate", metrics.SourceUpstream)
	return v.(float64), nil
}

func (c *Coordinator) loadRate(ctx context.Context, key, from, to string) (float64, error) {
	raw, err := c.rates.LatestRates(ctx, from)
	if err != nil {
		return 0, err
	}

	rate, err := currency.Normalize(raw, from, to)
	if err != nil {
		return 0, err
	}

	if err := c.populate(ctx, key, rate, c.currencyTTL); err != nil {
		return 0, err
	}
	return rate.Rate, nil
}

// Convert returns amount expressed in to. Only the rate is cached, so one
// entry serves every amount.
func (c *Coordinator) Convert(ctx context.Context, from, to string, amount float64) (float64, error) {
	converted, _, err := c.ConvertWithRate(ctx, from, to, amount)
	return converted, err
}

// ConvertWithRate is Convert that also returns the rate it applied. A
// product that overflows float64 is rejected as invalid input.
func (c *Coordinator) ConvertWithRate(ctx context.Context, from, to string, amount float64) (converted, rate float64, err error) {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return 0, 0, apperr.NewInvalidInput("amount must be a positive number", nil)
	}
	rate, err = c.FetchConversionRate(ctx, from, to)
	if err != nil {
		return 0, 0, err
	}
	converted = amount * rate
	if math.IsInf(converted, 0) {
		return 0, 0, apperr.NewInvalidInput("amount is too large to convert", nil)
	}
	return converted, rate, nil
}

// populate writes v under key unless ctx is already done; a cancelled
// request never writes.
func (c *Coordinator) populate(ctx context.Context, key string, v any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	c.cache.Set(ctx, key, b, ttl)
	return nil
}

func (c *Coordinator) load(key string, fn func() (any, error)) (any, error) {
	if c.group == nil {
		return fn()
	}
	v, err, shared := c.group.Do(key, fn)
	if shared {
		c.logger.Debug("shared in-flight upstream call", "key", key)
	}
	return v, err
}

func validateCode(field, code string) error {
	if err := validate.Var(code, "required,len=3,alpha"); err != nil {
		return apperr.NewInvalidInput(field+" must be a 3-letter currency code", err)
	}
	return nil
}
