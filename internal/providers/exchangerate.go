package providers

import (
	"context"
	"strings"

	"github.com/sony/gobreaker"
	"resty.dev/v3"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/currency"
)

// DefaultExchangeRateURL is the ExchangeRate-API v6 root.
const DefaultExchangeRateURL = "https://v6.exchangerate-api.com/v6"

// ExchangeRateProvider implements the currency.Provider interface for
// ExchangeRate-API. The API key travels in the URL path.
type ExchangeRateProvider struct {
	name    string
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ currency.Provider = (*ExchangeRateProvider)(nil)

func NewExchangeRateProvider(apiKey string, opts Options) *ExchangeRateProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultExchangeRateURL
	}
	return &ExchangeRateProvider{
		name:    "exchangerate",
		apiKey:  apiKey,
		httpCfg: newHTTPClientConfig(opts),
		circuit: newCircuitBreaker("exchangerate"),
	}
}

func (p *ExchangeRateProvider) Name() string {
	return p.name
}

// LatestRates fetches the rate table quoted against base.
func (p *ExchangeRateProvider) LatestRates(ctx context.Context, base string) (currency.RawRates, error) {
	if p.apiKey == "" {
		return currency.RawRates{}, apperr.NewUpstream(p.name, 0, "api key is not configured", nil)
	}

	var raw currency.RawRates
	err := doRequest(ctx, p.name, p.httpCfg, p.circuit, p.apiKey, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParams(map[string]string{
				"key":  p.apiKey,
				"base": strings.ToUpper(base),
			}).
			SetResult(&raw).
			Get("/{key}/latest/{base}")
	})
	if err != nil {
		return currency.RawRates{}, err
	}

	// The API can answer 200 with an error envelope.
	if raw.Result == "error" {
		return currency.RawRates{}, apperr.NewUpstream(p.name, 0, "provider reported "+raw.ErrorType, nil)
	}
	return raw, nil
}
