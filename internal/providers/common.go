package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/common"
	"github.com/i474232898/weather-currency-cache/internal/metrics"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

// Options configures a provider client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS caps outbound requests per second; <= 0 means unlimited.
	RPS     float64
	Metrics *metrics.Metrics
}

// HTTPClientConfig bundles the HTTP client and the guards around it.
type HTTPClientConfig struct {
	Client  *resty.Client
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
}

func newHTTPClientConfig(opts Options) HTTPClientConfig {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(0)

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	return HTTPClientConfig{
		Client:  client,
		Limiter: rate.NewLimiter(limit, 1),
		Metrics: opts.Metrics,
	}
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// The provider answered; a body we cannot read says nothing about
		// its availability.
		IsSuccessful: func(err error) bool {
			var de *decodeError
			return err == nil || errors.As(err, &de)
		},
	})
}

// statusError marks responses that should count against the breaker.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server error: %d", e.code)
}

// decodeError marks a 2xx response whose body is not valid JSON.
type decodeError struct {
	code int
	err  error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %d response: %v", e.code, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

// doRequest issues exactly one request built by send, behind the rate
// limiter and the circuit breaker. The body is always decoded as JSON. Every
// failure, including an unparseable body, is an apperr.KindUpstream error
// with secret redacted from its text. Only transport errors, 429 and 5xx
// count against the breaker.
func doRequest(
	ctx context.Context,
	provider string,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	secret string,
	send func(r *resty.Request) (*resty.Response, error),
) error {
	start := time.Now()
	err := execute(ctx, provider, cfg, cb, secret, send)
	cfg.Metrics.Upstream(provider, err, time.Since(start))
	return err
}

func execute(
	ctx context.Context,
	provider string,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	secret string,
	send func(r *resty.Request) (*resty.Response, error),
) error {
	if cfg.Client == nil {
		return apperr.NewUpstream(provider, 0, "http client not configured", nil)
	}

	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(ctx); err != nil {
			return apperr.NewUpstream(provider, 0, "rate limiter", causeOf(ctx, err, secret))
		}
	}

	result, err := cb.Execute(func() (interface{}, error) {
		// Decode as JSON whatever the Content-Type says, so an HTML error
		// page served with 200 fails here instead of yielding an empty result.
		req := cfg.Client.R().
			SetContext(ctx).
			SetForceResponseContentType("application/json")
		resp, execErr := send(req)
		if execErr != nil {
			if resp != nil && resp.IsSuccess() && ctx.Err() == nil {
				return nil, &decodeError{code: resp.StatusCode(), err: execErr}
			}
			return nil, execErr
		}
		code := resp.StatusCode()
		if code == http.StatusTooManyRequests || code >= 500 {
			return nil, &statusError{code: code}
		}
		return resp, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.NewUpstream(provider, 0, "circuit breaker open", err)
		}
		var se *statusError
		if errors.As(err, &se) {
			return apperr.NewUpstream(provider, se.code, "unexpected status", nil)
		}
		var de *decodeError
		if errors.As(err, &de) {
			return apperr.NewUpstream(provider, de.code, "unparseable response body", causeOf(ctx, de.err, secret))
		}
		return apperr.NewUpstream(provider, 0, "request failed", causeOf(ctx, err, secret))
	}

	resp, ok := result.(*resty.Response)
	if !ok {
		return apperr.NewUpstream(provider, 0, "unexpected result type from circuit breaker", nil)
	}
	if !resp.IsSuccess() {
		return apperr.NewUpstream(provider, resp.StatusCode(), "unexpected status", nil)
	}
	return nil
}

// causeOf keeps context errors intact for errors.Is and strips the secret
// from anything else.
func causeOf(ctx context.Context, err error, secret string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return errors.New(common.Redact(err.Error(), secret))
}
