package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/currency"
	"github.com/i474232898/weather-currency-cache/internal/metrics"
	"github.com/i474232898/weather-currency-cache/internal/providers"
	"github.com/i474232898/weather-currency-cache/internal/store"
	"github.com/i474232898/weather-currency-cache/internal/weather"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type entry struct {
	val []byte
	ttl time.Duration
}

// memCache is a fail-open Cache double that records traffic.
type memCache struct {
	mu      sync.Mutex
	entries map[string]entry
	gets    atomic.Int32
	sets    atomic.Int32
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]entry)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.gets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.val, ok
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.sets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{val: value, ttl: ttl}
}

func (c *memCache) entry(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

type fakeWeather struct {
	calls atomic.Int32
	fn    func(ctx context.Context, city string) (weather.RawForecast, error)
}

func (f *fakeWeather) Name() string { return "fake-weather" }

func (f *fakeWeather) Forecast(ctx context.Context, city string) (weather.RawForecast, error) {
	f.calls.Add(1)
	return f.fn(ctx, city)
}

type fakeRates struct {
	calls atomic.Int32
	bases []string
	mu    sync.Mutex
	fn    func(ctx context.Context, base string) (currency.RawRates, error)
}

func (f *fakeRates) Name() string { return "fake-rates" }

func (f *fakeRates) LatestRates(ctx context.Context, base string) (currency.RawRates, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.bases = append(f.bases, base)
	f.mu.Unlock()
	return f.fn(ctx, base)
}

func rawForecast(body string) weather.RawForecast {
	var raw weather.RawForecast
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		panic(err)
	}
	return raw
}

const scenarioABody = `{"current":{"temperature":18,"summary":"Rainy"},"daily":{"data":[{"summary":"S1"},{"summary":"S2"}]}}`

func okWeather() *fakeWeather {
	return &fakeWeather{fn: func(context.Context, string) (weather.RawForecast, error) {
		return rawForecast(scenarioABody), nil
	}}
}

func okRates(rates string) *fakeRates {
	return &fakeRates{fn: func(context.Context, string) (currency.RawRates, error) {
		return currency.RawRates{Result: "success", ConversionRates: json.RawMessage(rates)}, nil
	}}
}

func newTestCoordinator(cache Cache, w weather.Provider, r currency.Provider, opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(discard)}, opts...)
	return New(cache, w, r, opts...)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{WeatherKey("Berlin"), "weather:berlin"},
		{WeatherKey("berlin"), "weather:berlin"},
		{WeatherKey("  BERLIN "), "weather:berlin"},
		{RateKey("usd", "eur"), "currency:USD_EUR"},
		{RateKey("USD", "Eur"), "currency:USD_EUR"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFetchWeather_ScenarioA(t *testing.T) {
	cache := newMemCache()
	w := okWeather()
	c := newTestCoordinator(cache, w, okRates(`{}`))

	got, err := c.FetchWeather(context.Background(), "berlin")
	if err != nil {
		t.Fatalf("FetchWeather() returned unexpected error: %v", err)
	}

	want := weather.Snapshot{
		City:            "berlin",
		TemperatureNowC: 18,
		DescriptionNow:  "Rainy",
		SummaryToday:    "S1",
		SummaryTomorrow: "S2",
	}
	if got != want {
		t.Errorf("FetchWeather() = %+v, want %+v", got, want)
	}

	e, ok := cache.entry("weather:berlin")
	if !ok {
		t.Fatal("cache should hold weather:berlin")
	}
	if e.ttl != DefaultWeatherTTL {
		t.Errorf("ttl = %v, want %v", e.ttl, DefaultWeatherTTL)
	}
}

func TestFetchWeather_HitSkipsUpstream(t *testing.T) {
	cache := newMemCache()
	w := okWeather()
	c := newTestCoordinator(cache, w, okRates(`{}`))
	ctx := context.Background()

	first, err := c.FetchWeather(ctx, "berlin")
	if err != nil {
		t.Fatalf("first FetchWeather(): %v", err)
	}

	for _, city := range []string{"berlin", "Berlin", "BERLIN", " berlin "} {
		got, err := c.FetchWeather(ctx, city)
		if err != nil {
			t.Fatalf("FetchWeather(%q): %v", city, err)
		}
		if got != first {
			t.Errorf("FetchWeather(%q) = %+v, want cached %+v", city, got, first)
		}
	}

	if n := w.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestFetchWeather_RoundTripThroughStore(t *testing.T) {
	mem, err := store.NewMemory(100)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	adapter := store.NewAdapter(mem, time.Second, discard, nil)

	c := newTestCoordinator(adapter, okWeather(), okRates(`{}`))
	ctx := context.Background()

	fetched, err := c.FetchWeather(ctx, "berlin")
	if err != nil {
		t.Fatalf("FetchWeather(): %v", err)
	}

	b, ok := adapter.Get(ctx, "weather:berlin")
	if !ok {
		t.Fatal("expected entry in store")
	}
	cached, err := weather.DecodeSnapshot(b)
	if err != nil {
		t.Fatalf("DecodeSnapshot(): %v", err)
	}
	if cached != fetched {
		t.Errorf("cached = %+v, want %+v", cached, fetched)
	}
}

func TestFetchWeather_MalformedIsNotCached(t *testing.T) {
	cache := newMemCache()
	w := &fakeWeather{fn: func(context.Context, string) (weather.RawForecast, error) {
		return rawForecast(`{"current":{"temperature":18,"summary":"Rainy"},"daily":{"data":[{"summary":"S1"}]}}`), nil
	}}
	c := newTestCoordinator(cache, w, okRates(`{}`))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.FetchWeather(ctx, "berlin")
		if !errors.Is(err, apperr.ErrMalformed) {
			t.Fatalf("call %d: error = %v, want kind %q", i, err, apperr.KindMalformed)
		}
	}

	if n := cache.sets.Load(); n != 0 {
		t.Errorf("cache written %d times, want 0", n)
	}
	if n := w.calls.Load(); n != 2 {
		t.Errorf("upstream called %d times, want 2", n)
	}
}

func TestFetchWeather_UpstreamErrorPropagates(t *testing.T) {
	upstreamErr := apperr.NewUpstream("fake-weather", 503, "unexpected status", nil)
	cache := newMemCache()
	w := &fakeWeather{fn: func(context.Context, string) (weather.RawForecast, error) {
		return weather.RawForecast{}, upstreamErr
	}}
	c := newTestCoordinator(cache, w, okRates(`{}`))

	_, err := c.FetchWeather(context.Background(), "berlin")
	if err != upstreamErr {
		t.Fatalf("error = %v, want the upstream error unchanged", err)
	}
	if n := cache.sets.Load(); n != 0 {
		t.Errorf("cache written %d times, want 0", n)
	}
}

// blockingBackend never answers, so every cache operation hits the adapter
// timeout.
type blockingBackend struct {
	release chan struct{}
}

func (b *blockingBackend) Get(context.Context, string) ([]byte, error) {
	<-b.release
	return nil, store.ErrNotFound
}

func (b *blockingBackend) Set(context.Context, string, []byte, time.Duration) error {
	<-b.release
	return nil
}

func (b *blockingBackend) Close() error { return nil }

func TestFetchWeather_ScenarioC_CacheTimesOut(t *testing.T) {
	backend := &blockingBackend{release: make(chan struct{})}
	defer close(backend.release)

	adapter := store.NewAdapter(backend, 30*time.Millisecond, discard, nil)
	w := okWeather()
	c := newTestCoordinator(adapter, w, okRates(`{}`))

	got, err := c.FetchWeather(context.Background(), "berlin")
	if err != nil {
		t.Fatalf("FetchWeather() returned unexpected error: %v", err)
	}
	if got.DescriptionNow != "Rainy" {
		t.Errorf("DescriptionNow = %q, want Rainy", got.DescriptionNow)
	}
	if n := w.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestFetchWeather_UndecodableEntryIsMiss(t *testing.T) {
	cache := newMemCache()
	cache.Set(context.Background(), "weather:berlin", []byte(`not json`), time.Minute)
	w := okWeather()
	c := newTestCoordinator(cache, w, okRates(`{}`))

	if _, err := c.FetchWeather(context.Background(), "Berlin"); err != nil {
		t.Fatalf("FetchWeather(): %v", err)
	}
	if n := w.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestFetchWeather_CancelledBeforeWrite(t *testing.T) {
	cache := newMemCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &fakeWeather{fn: func(context.Context, string) (weather.RawForecast, error) {
		// The client disconnects while the upstream call is in flight.
		cancel()
		return rawForecast(scenarioABody), nil
	}}
	c := newTestCoordinator(cache, w, okRates(`{}`))

	_, err := c.FetchWeather(ctx, "berlin")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := cache.sets.Load(); n != 0 {
		t.Errorf("cache written %d times after cancellation, want 0", n)
	}
}

func TestFetchWeather_EmptyCity(t *testing.T) {
	cache := newMemCache()
	w := okWeather()
	c := newTestCoordinator(cache, w, okRates(`{}`))

	for _, city := range []string{"", "   "} {
		if _, err := c.FetchWeather(context.Background(), city); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("FetchWeather(%q) error = %v, want kind %q", city, err, apperr.KindInvalidInput)
		}
	}
	if cache.gets.Load() != 0 || w.calls.Load() != 0 {
		t.Error("invalid input must not touch cache or upstream")
	}
}

func TestFetchConversionRate_ScenarioB(t *testing.T) {
	cache := newMemCache()
	r := okRates(`{"EUR":0.85}`)
	c := newTestCoordinator(cache, okWeather(), r)
	ctx := context.Background()

	rate, err := c.FetchConversionRate(ctx, "USD", "EUR")
	if err != nil {
		t.Fatalf("FetchConversionRate() returned unexpected error: %v", err)
	}
	if rate != 0.85 {
		t.Errorf("rate = %v, want 0.85", rate)
	}

	converted, err := c.Convert(ctx, "USD", "EUR", 100)
	if err != nil {
		t.Fatalf("Convert() returned unexpected error: %v", err)
	}
	if converted != 85.0 {
		t.Errorf("Convert() = %v, want 85", converted)
	}

	e, ok := cache.entry("currency:USD_EUR")
	if !ok {
		t.Fatal("cache should hold currency:USD_EUR")
	}
	if e.ttl != DefaultCurrencyTTL {
		t.Errorf("ttl = %v, want %v", e.ttl, DefaultCurrencyTTL)
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestFetchConversionRate_WarmCacheIsIdempotent(t *testing.T) {
	cache := newMemCache()
	r := okRates(`{"EUR":0.85,"GBP":0.75}`)
	c := newTestCoordinator(cache, okWeather(), r)
	ctx := context.Background()

	first, err := c.FetchConversionRate(ctx, "usd", "eur")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.FetchConversionRate(ctx, "USD", "EUR")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Errorf("rates differ: %v vs %v", first, second)
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
	if len(r.bases) != 1 || r.bases[0] != "USD" {
		t.Errorf("bases = %v, want [USD]", r.bases)
	}
}

func TestFetchConversionRate_ScenarioD_Upstream500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
	}))
	defer server.Close()

	cache := newMemCache()
	rates := providers.NewExchangeRateProvider("test_key", providers.Options{BaseURL: server.URL})
	c := newTestCoordinator(cache, okWeather(), rates)

	_, err := c.FetchConversionRate(context.Background(), "USD", "EUR")
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("error = %v, want kind %q", err, apperr.KindUpstream)
	}
	if _, ok := cache.entry("currency:USD_EUR"); ok {
		t.Error("no cache entry should be created on upstream failure")
	}
}

func TestFetchConversionRate_UnknownCurrency(t *testing.T) {
	cache := newMemCache()
	c := newTestCoordinator(cache, okWeather(), okRates(`{"USD":1.0,"EUR":0.85}`))

	_, err := c.FetchConversionRate(context.Background(), "USD", "GBP")
	if !errors.Is(err, apperr.ErrUnknownCurrency) {
		t.Fatalf("error = %v, want kind %q", err, apperr.KindUnknownCurrency)
	}
	if n := cache.sets.Load(); n != 0 {
		t.Errorf("cache written %d times, want 0", n)
	}
}

func TestFetchConversionRate_SameCurrency(t *testing.T) {
	c := newTestCoordinator(newMemCache(), okWeather(), okRates(`{"USD":1.0,"EUR":0.85}`))

	got, err := c.Convert(context.Background(), "USD", "USD", 100)
	if err != nil {
		t.Fatalf("Convert(): %v", err)
	}
	if got != 100 {
		t.Errorf("Convert() = %v, want 100", got)
	}
}

func TestConvert_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		amount   float64
	}{
		{"short code", "US", "EUR", 1},
		{"long code", "USD", "EURO", 1},
		{"digits", "US1", "EUR", 1},
		{"empty", "", "EUR", 1},
		{"zero amount", "USD", "EUR", 0},
		{"negative amount", "USD", "EUR", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemCache()
			r := okRates(`{"EUR":0.85}`)
			c := newTestCoordinator(cache, okWeather(), r)

			_, err := c.Convert(context.Background(), tt.from, tt.to, tt.amount)
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("error = %v, want kind %q", err, apperr.KindInvalidInput)
			}
			if cache.gets.Load() != 0 || r.calls.Load() != 0 {
				t.Error("invalid input must not touch cache or upstream")
			}
		})
	}
}

func TestConvert_OverflowIsInvalidInput(t *testing.T) {
	c := newTestCoordinator(newMemCache(), okWeather(), okRates(`{"JPY":110}`))

	got, err := c.Convert(context.Background(), "USD", "JPY", 1e308)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("Convert(1e308) = %v, %v; want invalid input", got, err)
	}

	converted, rate, err := c.ConvertWithRate(context.Background(), "USD", "JPY", 2)
	if err != nil {
		t.Fatalf("ConvertWithRate() returned unexpected error: %v", err)
	}
	if converted != 220 || rate != 110 {
		t.Errorf("ConvertWithRate() = %v, %v; want 220, 110", converted, rate)
	}
}

func TestWithTTLOptions(t *testing.T) {
	cache := newMemCache()
	c := newTestCoordinator(cache, okWeather(), okRates(`{"EUR":0.85}`),
		WithWeatherTTL(time.Minute), WithCurrencyTTL(2*time.Minute))
	ctx := context.Background()

	if _, err := c.FetchWeather(ctx, "oslo"); err != nil {
		t.Fatalf("FetchWeather(): %v", err)
	}
	if _, err := c.FetchConversionRate(ctx, "USD", "EUR"); err != nil {
		t.Fatalf("FetchConversionRate(): %v", err)
	}

	if e, _ := cache.entry("weather:oslo"); e.ttl != time.Minute {
		t.Errorf("weather ttl = %v, want 1m", e.ttl)
	}
	if e, _ := cache.entry("currency:USD_EUR"); e.ttl != 2*time.Minute {
		t.Errorf("currency ttl = %v, want 2m", e.ttl)
	}
}

func TestConcurrentMisses(t *testing.T) {
	const n = 8

	run := func(t *testing.T, opts ...Option) int32 {
		release := make(chan struct{})
		var started atomic.Int32
		w := &fakeWeather{fn: func(context.Context, string) (weather.RawForecast, error) {
			started.Add(1)
			<-release
			return rawForecast(scenarioABody), nil
		}}
		c := newTestCoordinator(newMemCache(), w, okRates(`{}`), opts...)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.FetchWeather(context.Background(), "berlin"); err != nil {
					t.Errorf("FetchWeather(): %v", err)
				}
			}()
		}

		if c.group == nil {
			// Without deduplication every goroutine reaches upstream.
			for started.Load() < n {
				time.Sleep(time.Millisecond)
			}
		} else {
			for started.Load() < 1 {
				time.Sleep(time.Millisecond)
			}
			// Let the remaining goroutines join the in-flight call.
			time.Sleep(50 * time.Millisecond)
		}
		close(release)
		wg.Wait()
		return w.calls.Load()
	}

	t.Run("default", func(t *testing.T) {
		if calls := run(t); calls != n {
			t.Errorf("upstream called %d times, want %d", calls, n)
		}
	})

	t.Run("single flight", func(t *testing.T) {
		if calls := run(t, WithSingleFlight()); calls != 1 {
			t.Errorf("upstream called %d times, want 1", calls)
		}
	})
}

func TestWithMetrics_RecordsLookupSource(t *testing.T) {
	m := metrics.New()
	c := newTestCoordinator(newMemCache(), okWeather(), okRates(`{"EUR":0.85}`), WithMetrics(m))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.FetchWeather(ctx, "berlin"); err != nil {
			t.Fatalf("FetchWeather(): %v", err)
		}
	}
	if _, err := c.FetchConversionRate(ctx, "USD", "EUR"); err != nil {
		t.Fatalf("FetchConversionRate(): %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`wcc_lookups_total{kind="weather",source="cache"} 2`,
		`wcc_lookups_total{kind="weather",source="upstream"} 1`,
		`wcc_lookups_total{kind="rate",source="upstream"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
