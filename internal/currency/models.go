// Package currency holds the exchange-rate value types and the normalizer
// that turns a provider rate table into a single Rate.
package currency

import (
	"context"
	"encoding/json"
)

// Rate is the normalized conversion rate between two currencies.
type Rate struct {
	From string  `json:"from_currency"`
	To   string  `json:"to_currency"`
	Rate float64 `json:"rate"`
}

// RawRates is the provider-shaped payload for a base currency.
type RawRates struct {
	Result          string          `json:"result"`
	ErrorType       string          `json:"error-type"`
	BaseCode        string          `json:"base_code"`
	ConversionRates json.RawMessage `json:"conversion_rates"`
}

// Provider abstracts the upstream exchange-rate source.
type Provider interface {
	Name() string
	LatestRates(ctx context.Context, base string) (RawRates, error)
}
