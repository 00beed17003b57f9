package weather

import "context"

// Provider abstracts the upstream weather source (e.g. Meteosource).
type Provider interface {
	Name() string
	Forecast(ctx context.Context, city string) (RawForecast, error)
}
