package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-currency-cache/internal/api/http"
	"github.com/i474232898/weather-currency-cache/internal/app"
	"github.com/i474232898/weather-currency-cache/internal/config"
	"github.com/i474232898/weather-currency-cache/internal/metrics"
	"github.com/i474232898/weather-currency-cache/internal/scheduler"
)

func main() {
	// Load configuration (also reads .env when present).
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	m := metrics.New()

	// Cache adapter, providers and coordinator.
	coord, release, err := app.NewFactory(cfg, log, m)(context.Background())
	if err != nil {
		log.Error("failed to build coordinator", "error", err)
		os.Exit(1)
	}
	defer release()

	// Warmer that keeps configured cities and pairs in cache.
	sched := scheduler.New(cfg.WarmCities, cfg.WarmPairs, cfg.WarmInterval, coord, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	fiberApp := fiber.New(fiber.Config{
		AppName:               "weather-currency-cache",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2*cfg.UpstreamTimeout + cfg.CacheTimeout,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	fiberApp.Use(logger.New())
	fiberApp.Use(recover.New())
	fiberApp.Use(cors.New())

	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-currency-cache",
		})
	})
	fiberApp.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	httpapi.RegisterRoutes(fiberApp, coord)

	go func() {
		log.Info("listening", "port", cfg.Port, "cache_backend", cfg.CacheBackend)
		if err := fiberApp.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
