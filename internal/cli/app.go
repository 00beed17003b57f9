// Package cli is a one-shot command front end over the coordinator.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-currency-cache/internal/coordinator"
)

// App represents the CLI application.
type App struct {
	root    *cobra.Command
	factory coordinator.Factory
	stdout  io.Writer
}

// New creates the CLI. Every command builds its coordinator from factory
// and releases it before returning.
func New(factory coordinator.Factory) *App {
	app := &App{
		factory: factory,
		stdout:  os.Stdout,
	}

	app.root = &cobra.Command{
		Use:   "fetch",
		Short: "Look up weather and exchange rates through the shared cache",
		Long: `fetch answers one query and exits. Results are read from the same cache
the server uses; a miss goes to the provider and populates the cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	app.root.AddCommand(
		app.newWeatherCmd(),
		app.newRateCmd(),
		app.newConvertCmd(),
	)

	return app
}

// WithOutput sets a custom output writer.
func (a *App) WithOutput(stdout io.Writer) *App {
	a.stdout = stdout
	a.root.SetOut(stdout)
	return a
}

// Execute runs the CLI with os.Args.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.root.ExecuteContext(ctx)
}

func (a *App) newWeatherCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "weather <city>",
		Short: "Show current weather and the two-day outlook for a city",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			city := strings.Join(args, " ")
			return coordinator.With(cmd.Context(), a.factory, func(ctx context.Context, c *coordinator.Coordinator) error {
				snap, err := c.FetchWeather(ctx, city)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(snap)
				}
				fmt.Fprintf(a.stdout, "%s: %.1f°C, %s\n", snap.City, snap.TemperatureNowC, snap.DescriptionNow)
				fmt.Fprintf(a.stdout, "today: %s\n", snap.SummaryToday)
				fmt.Fprintf(a.stdout, "tomorrow: %s\n", snap.SummaryTomorrow)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func (a *App) newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <from> <to>",
		Short: "Show the exchange rate between two currencies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := strings.ToUpper(args[0]), strings.ToUpper(args[1])
			return coordinator.With(cmd.Context(), a.factory, func(ctx context.Context, c *coordinator.Coordinator) error {
				rate, err := c.FetchConversionRate(ctx, from, to)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "1 %s = %g %s\n", from, rate, to)
				return nil
			})
		},
	}
}

func (a *App) newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <amount> <from> <to>",
		Short: "Convert an amount between currencies",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			from, to := strings.ToUpper(args[1]), strings.ToUpper(args[2])
			return coordinator.With(cmd.Context(), a.factory, func(ctx context.Context, c *coordinator.Coordinator) error {
				converted, err := c.Convert(ctx, from, to, amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%.2f %s = %.2f %s\n", amount, from, converted, to)
				return nil
			})
		},
	}
}
