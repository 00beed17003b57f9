package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/i474232898/weather-currency-cache/internal/app"
	"github.com/i474232898/weather-currency-cache/internal/cli"
	"github.com/i474232898/weather-currency-cache/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Diagnostics go to stderr so stdout carries only the answer.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cli.New(app.NewFactory(cfg, log, nil)).Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
