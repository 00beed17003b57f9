package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-currency-cache/internal/config"
	"github.com/i474232898/weather-currency-cache/internal/weather"
)

const (
	jobTimeout      = 30 * time.Second
	defaultInterval = 15 * time.Minute
)

// Fetcher is the read-through surface the warmer drives.
type Fetcher interface {
	FetchWeather(ctx context.Context, city string) (weather.Snapshot, error)
	FetchConversionRate(ctx context.Context, from, to string) (float64, error)
}

// Scheduler periodically refreshes configured cities and currency pairs
// so that user requests land on a warm cache.
type Scheduler struct {
	scheduler *gocron.Scheduler
	fetch     Fetcher
	cities    []string
	pairs     []config.Pair
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(cities []string, pairs []config.Pair, interval time.Duration, fetch Fetcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		fetch:     fetch,
		cities:    cities,
		pairs:     pairs,
		interval:  interval,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules the warm job every interval, exactly as configured, and
// starts the underlying scheduler. The first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.cities) == 0 && len(s.pairs) == 0 {
		s.logger.Info("nothing to warm; scheduler idle")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = defaultInterval
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.Warm(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Warm fetches every configured city and pair once, concurrently. Failures
// are logged and do not stop the other fetches.
func (s *Scheduler) Warm(ctx context.Context) {
	s.logger.Info("running cache warm job", "cities", len(s.cities), "pairs", len(s.pairs))

	var wg sync.WaitGroup
	for _, city := range s.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.fetch.FetchWeather(ctx, city); err != nil {
				s.logger.Warn("warm weather failed", "city", city, "error", err)
			}
		}()
	}
	for _, p := range s.pairs {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.fetch.FetchConversionRate(ctx, p.From, p.To); err != nil {
				s.logger.Warn("warm rate failed", "from", p.From, "to", p.To, "error", err)
			}
		}()
	}
	wg.Wait()

	s.logger.Info("completed cache warm job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
