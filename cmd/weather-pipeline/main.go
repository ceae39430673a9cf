package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	httpapi "github.com/i474232898/weather-pipeline/internal/api/http"
	"github.com/i474232898/weather-pipeline/internal/config"
	"github.com/i474232898/weather-pipeline/internal/logging"
	"github.com/i474232898/weather-pipeline/internal/metrics"
	"github.com/i474232898/weather-pipeline/internal/scheduler"
	"github.com/i474232898/weather-pipeline/internal/store"
	"github.com/i474232898/weather-pipeline/internal/weather"
	"github.com/i474232898/weather-pipeline/internal/weather/providers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

const statusWindow = 7 * 24 * time.Hour

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("weather-pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o config.Overrides
	fs.StringVar(&o.Mode, "mode", "", "run mode: single, continuous or status (env PIPELINE_MODE)")
	fs.StringVar(&o.Cities, "cities", "", "comma separated cities (env CITIES)")
	fs.DurationVar(&o.Interval, "interval", 0, "continuous mode interval, e.g. 30m (env FETCH_INTERVAL)")
	fs.StringVar(&o.ConfigFile, "config", "", "optional YAML config file (env PIPELINE_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(o)
	if err != nil {
		fmt.Fprintf(stderr, "weather-pipeline: %v\n", err)
		return exitUsage
	}

	log := logging.New(logging.Options{
		AppEnv:  cfg.AppEnv,
		Level:   cfg.LogLevel,
		Version: version,
		Output:  stderr,
	})
	slog.SetDefault(log)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		"mode", cfg.Mode,
		"provider", cfg.Provider,
		"warehouse", cfg.Warehouse.Driver,
		"cities", len(cfg.Cities),
	)

	st, err := store.Open(ctx, cfg.StoreConfig(), log)
	if err != nil {
		log.Error("open warehouse", "error", err)
		return exitFatal
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("close warehouse", "error", err)
		}
	}()

	schemaCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	err = st.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		log.Error("warehouse not ready", "kind", weather.ErrorKind(err), "error", err)
		return exitFatal
	}

	provider, err := providers.New(cfg.Provider, &http.Client{Timeout: cfg.HTTPTimeout}, cfg.ProviderConfig())
	if err != nil {
		log.Error("build provider", "error", err)
		return exitUsage
	}
	limited := providers.NewRateLimited(provider, cfg.RequestsPerSecond, cfg.RequestBurst)
	validator := weather.NewValidator(cfg.Rules(), time.Now)
	pipeline := weather.NewPipeline(cfg.PipelineConfig(), limited, validator, st, log)

	probeErr := probe(ctx, pipeline, log)
	if errors.Is(probeErr, weather.ErrAuth) {
		return exitFatal
	}

	switch cfg.Mode {
	case config.ModeStatus:
		return runStatus(ctx, stdout, limited.Name(), probeErr, st, cfg.Cities)
	case config.ModeContinuous:
		return runContinuous(ctx, cfg, pipeline, st, log, stderr)
	default:
		if _, err := pipeline.RunPass(context.WithoutCancel(ctx)); err != nil {
			log.Error("pass failed", "error", err)
			return exitFatal
		}
		return exitOK
	}
}

// probe checks connectivity and the credential with one fetch. Only an auth
// failure is fatal; anything else is logged and the pipeline proceeds.
func probe(ctx context.Context, pipeline *weather.Pipeline, log *slog.Logger) error {
	rec, err := pipeline.Probe(ctx)
	switch {
	case err == nil:
		log.Info("provider probe ok", "city", rec.City)
	case errors.Is(err, weather.ErrAuth):
		log.Error("provider rejected credential", "error", err)
	default:
		log.Warn("provider probe failed", "kind", weather.ErrorKind(err), "error", err)
	}
	return err
}

func runContinuous(ctx context.Context, cfg *config.AppConfig, pipeline *weather.Pipeline, st weather.Store, log *slog.Logger, accessLog io.Writer) int {
	if cfg.HTTPAddr != "" {
		app := httpapi.NewApp(accessLog)
		httpapi.RegisterRoutes(app, pipeline, st, log)

		go func() {
			log.Info("ops api listening", "addr", cfg.HTTPAddr)
			if err := app.Listen(cfg.HTTPAddr); err != nil {
				log.Error("ops api stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				log.Error("ops api shutdown", "error", err)
			}
		}()
	}

	if cfg.Cron != "" {
		c, err := scheduler.NewCron(cfg.Cron, pipeline, log)
		if err != nil {
			log.Error("cron scheduler", "error", err)
			return exitUsage
		}
		if err := c.Start(); err != nil {
			log.Error("cron scheduler", "error", err)
			return exitFatal
		}

		select {
		case <-ctx.Done():
			c.Stop()
			return exitOK
		case err := <-c.Errors():
			c.Stop()
			log.Error("stopping after fatal error", "error", err)
			return exitFatal
		}
	}

	loop := &scheduler.Loop{Interval: cfg.FetchInterval, Clock: scheduler.SystemClock{}, Logger: log}
	log.Info("continuous mode", "interval", cfg.FetchInterval)
	if err := loop.Run(ctx, pipeline); err != nil {
		return exitFatal
	}
	return exitOK
}

// runStatus prints the provider probe result, the newest row per configured
// city and statistics for the last seven days.
func runStatus(ctx context.Context, out io.Writer, providerName string, probeErr error, reader weather.Reader, cities []string) int {
	probeStatus := "ok"
	if probeErr != nil {
		probeStatus = "failed (" + weather.ErrorKind(probeErr) + ")"
	}
	fmt.Fprintf(out, "provider %s: %s\n\n", providerName, probeStatus)

	latest, err := reader.Latest(ctx, "")
	if err != nil {
		slog.Error("latest query failed", "error", err)
		return exitFatal
	}
	byCity := make(map[string]weather.Record, len(latest))
	for _, rec := range latest {
		byCity[rec.City] = rec
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CITY\tCOUNTRY\tOBSERVED\tTEMP\tHUMIDITY\tPRESSURE\tWIND\tCONDITION")
	for _, city := range cities {
		rec, ok := byCity[city]
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t-\n", city)
			continue
		}
		temp := "-"
		if rec.Temperature != nil {
			temp = fmt.Sprintf("%.1f %s", *rec.Temperature, tempUnit(rec.Units))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%d hPa\t%.1f\t%s\n",
			rec.City, rec.Country, rec.ObservedAt.Format(time.RFC3339), temp,
			rec.Humidity, rec.Pressure, rec.WindSpeed, rec.Condition)
	}
	if err := tw.Flush(); err != nil {
		return exitFatal
	}

	stats, err := reader.Stats(ctx, "", time.Now().Add(-statusWindow))
	if err != nil {
		slog.Error("stats query failed", "error", err)
		return exitFatal
	}
	fmt.Fprintf(out, "\nlast 7 days: %d records, %d cities, temperature avg %.1f °C (min %.1f, max %.1f), humidity avg %.0f%%, pressure avg %.0f hPa\n",
		stats.TotalRecords, stats.CitiesCovered,
		stats.AvgTemperature, stats.MinTemperature, stats.MaxTemperature,
		stats.AvgHumidity, stats.AvgPressure)
	return exitOK
}

func tempUnit(u weather.Units) string {
	if u == weather.UnitsImperial {
		return "°F"
	}
	return "°C"
}
