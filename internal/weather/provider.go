package weather

import (
	"context"
	"time"
)

// Provider abstracts a current-conditions source (e.g. OpenWeatherMap, WeatherAPI).
// Fetch performs exactly one outbound request and never retries.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (Record, error)
}

// RecordValidator decides whether a record may be written.
type RecordValidator interface {
	Validate(rec Record) Verdict
}

// Writer is the contract every warehouse backend must satisfy.
// Append is not idempotent: retrying after a partial failure may duplicate rows.
type Writer interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, records []Record) (int, error)
}

// Reader is implemented by backends that can answer status queries.
type Reader interface {
	// Latest returns the newest record per city; an empty city means all cities.
	Latest(ctx context.Context, city string) ([]Record, error)
	// History returns every record observed at or after since, newest first.
	// An empty city means all cities.
	History(ctx context.Context, city string, since time.Time) ([]Record, error)
	// Stats aggregates the records History would return.
	Stats(ctx context.Context, city string, since time.Time) (Stats, error)
}

// Store is a backend that can be both written and read.
type Store interface {
	Writer
	Reader
	Close() error
}
