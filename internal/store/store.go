package store

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

// Warehouse drivers.
const (
	DriverBigQuery = "bigquery"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects and configures a warehouse backend.
type Config struct {
	Driver     string
	BigQuery   BigQueryConfig
	SQLitePath string
}

// Open builds the configured backend. Schema is not touched; callers run
// EnsureSchema before the first pass.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (weather.Store, error) {
	switch cfg.Driver {
	case DriverBigQuery, "":
		s, err := NewBigQueryStore(ctx, cfg.BigQuery, logger, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
}
