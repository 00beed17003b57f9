package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-currency-cache/internal/providers"
)

// Cache backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Pair is a currency pair to keep warm.
type Pair struct {
	From string
	To   string
}

type AppConfig struct {
	WeatherAPIKey      string
	CurrencyRateAPIKey string

	// Provider roots, overridable for testing.
	WeatherBaseURL  string
	CurrencyBaseURL string

	WeatherTTL  time.Duration
	CurrencyTTL time.Duration

	CacheBackend     string
	RedisURL         string
	CacheTimeout     time.Duration
	MemoryMaxEntries int64

	UpstreamTimeout time.Duration
	UpstreamRPS     float64
	SingleFlight    bool

	// Cache warmer.
	WarmCities   []string
	WarmPairs    []Pair
	WarmInterval time.Duration

	Port     string
	LogLevel slog.Level
}

var envKeys = map[string]string{
	"weather_api_key":          "WEATHER_API_KEY",
	"currencyrate_api_key":     "CURRENCYRATE_API_KEY",
	"weather_base_url":         "WEATHER_BASE_URL",
	"currency_base_url":        "CURRENCY_BASE_URL",
	"cache_ttl_weather":        "CACHE_TTL_WEATHER",
	"cache_ttl_currency":       "CACHE_TTL_CURRENCY",
	"cache_backend":            "CACHE_BACKEND",
	"redis_url":                "REDIS_URL",
	"cache_timeout":            "CACHE_TIMEOUT",
	"cache_memory_max_entries": "CACHE_MEMORY_MAX_ENTRIES",
	"upstream_timeout":         "UPSTREAM_TIMEOUT",
	"upstream_rps":             "UPSTREAM_RPS",
	"single_flight":            "SINGLE_FLIGHT",
	"warm_cities":              "WARM_CITIES",
	"warm_pairs":               "WARM_PAIRS",
	"warm_interval":            "WARM_INTERVAL",
	"port":                     "PORT",
	"log_level":                "LOG_LEVEL",
}

// Load reads configuration from the environment (after loading an optional
// .env file) with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	v.SetDefault("weather_base_url", providers.DefaultMeteosourceURL)
	v.SetDefault("currency_base_url", providers.DefaultExchangeRateURL)
	v.SetDefault("cache_ttl_weather", 1800)
	v.SetDefault("cache_ttl_currency", 3600)
	v.SetDefault("cache_backend", BackendRedis)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache_timeout", "2s")
	v.SetDefault("cache_memory_max_entries", 10000)
	v.SetDefault("upstream_timeout", "10s")
	v.SetDefault("upstream_rps", 5)
	v.SetDefault("single_flight", false)
	v.SetDefault("warm_interval", "15m")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")

	cfg := &AppConfig{
		WeatherAPIKey:      v.GetString("weather_api_key"),
		CurrencyRateAPIKey: v.GetString("currencyrate_api_key"),
		WeatherBaseURL:     v.GetString("weather_base_url"),
		CurrencyBaseURL:    v.GetString("currency_base_url"),
		CacheBackend:       strings.ToLower(v.GetString("cache_backend")),
		RedisURL:           v.GetString("redis_url"),
		MemoryMaxEntries:   v.GetInt64("cache_memory_max_entries"),
		UpstreamRPS:        v.GetFloat64("upstream_rps"),
		SingleFlight:       v.GetBool("single_flight"),
		WarmCities:         splitList(v.GetString("warm_cities")),
		Port:               v.GetString("port"),
	}

	var err error
	if cfg.WeatherTTL, err = seconds(v, "cache_ttl_weather"); err != nil {
		return nil, err
	}
	if cfg.CurrencyTTL, err = seconds(v, "cache_ttl_currency"); err != nil {
		return nil, err
	}
	if cfg.CacheTimeout, err = duration(v, "cache_timeout"); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = duration(v, "upstream_timeout"); err != nil {
		return nil, err
	}
	if cfg.WarmInterval, err = duration(v, "warm_interval"); err != nil {
		return nil, err
	}

	switch cfg.CacheBackend {
	case BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q: want %q or %q", cfg.CacheBackend, BackendRedis, BackendMemory)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	pairs, err := parsePairs(v.GetString("warm_pairs"))
	if err != nil {
		return nil, err
	}
	cfg.WarmPairs = pairs

	return cfg, nil
}

func seconds(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	n := v.GetInt(key)
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q must be a positive number of seconds", envKeys[key], raw)
	}
	return time.Duration(n) * time.Second, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envKeys[key], err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", envKeys[key])
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePairs reads "USD_EUR,GBP_JPY".
func parsePairs(s string) ([]Pair, error) {
	var pairs []Pair
	for _, item := range splitList(s) {
		from, to, ok := strings.Cut(item, "_")
		if !ok || len(from) != 3 || len(to) != 3 {
			return nil, fmt.Errorf("invalid WARM_PAIRS entry %q: want FROM_TO", item)
		}
		pairs = append(pairs, Pair{From: strings.ToUpper(from), To: strings.ToUpper(to)})
	}
	return pairs, nil
}
