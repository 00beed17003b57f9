package providers

import (
	"context"

	"github.com/sony/gobreaker"
	"resty.dev/v3"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/weather"
)

// DefaultMeteosourceURL is the free-tier API root.
const DefaultMeteosourceURL = "https://www.meteosource.com/api/v1/free"

// MeteosourceProvider implements the weather.Provider interface for Meteosource.
type MeteosourceProvider struct {
	name    string
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ weather.Provider = (*MeteosourceProvider)(nil)

func NewMeteosourceProvider(apiKey string, opts Options) *MeteosourceProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultMeteosourceURL
	}
	return &MeteosourceProvider{
		name:    "meteosource",
		apiKey:  apiKey,
		httpCfg: newHTTPClientConfig(opts),
		circuit: newCircuitBreaker("meteosource"),
	}
}

func (p *MeteosourceProvider) Name() string {
	return p.name
}

// Forecast fetches the current conditions and daily outlook for a place.
func (p *MeteosourceProvider) Forecast(ctx context.Context, city string) (weather.RawForecast, error) {
	if p.apiKey == "" {
		return weather.RawForecast{}, apperr.NewUpstream(p.name, 0, "api key is not configured", nil)
	}

	var raw weather.RawForecast
	err := doRequest(ctx, p.name, p.httpCfg, p.circuit, p.apiKey, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetQueryParams(map[string]string{
				"place_id": city,
				"sections": "all",
				"timezone": "UTC",
				"language": "en",
				"units":    "metric",
				"key":      p.apiKey,
			}).
			SetResult(&raw).
			Get("/point")
	})
	if err != nil {
		return weather.RawForecast{}, err
	}
	return raw, nil
}
