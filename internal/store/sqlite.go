package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

//go:embed sql/create-table.sql
var createTableSQL string

//go:embed sql/insert-observation.sql
var insertObservationSQL string

//go:embed sql/get-latest.sql
var getLatestSQL string

//go:embed sql/get-history.sql
var getHistorySQL string

//go:embed sql/get-stats.sql
var getStatsSQL string

//go:embed sql/get-table-info.sql
var getTableInfoSQL string

// timestampLayout is fixed-width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the local warehouse, one row per observation in
// weather_observations.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite: path is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
}

// EnsureSchema creates the table when absent and otherwise checks that every
// column of Columns exists with a matching declared type.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	existing, err := s.tableInfo(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", weather.ErrWrite, err)
	}

	if len(existing) == 0 {
		if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("%w: create table: %w", weather.ErrWrite, err)
		}
		s.logger.Info("sqlite table created", "table", DefaultTable)
		return nil
	}

	return checkSQLiteSchema(existing)
}

func (s *SQLiteStore) tableInfo(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, getTableInfoSQL)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close table info rows", "error", err)
		}
	}()

	out := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = strings.ToUpper(typ)
	}
	return out, rows.Err()
}

func sqliteType(t ColumnType) string {
	switch t {
	case TypeFloat:
		return "REAL"
	case TypeInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func checkSQLiteSchema(existing map[string]string) error {
	var problems []string
	for _, c := range Columns {
		got, ok := existing[c.Name]
		want := sqliteType(c.Type)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing column %s", c.Name))
		case got != want:
			problems = append(problems, fmt.Sprintf("column %s is %s, want %s", c.Name, got, want))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", weather.ErrSchema, strings.Join(problems, "; "))
	}
	return nil
}

// Append inserts all records in one transaction; either all rows land or none.
func (s *SQLiteStore) Append(ctx context.Context, records []weather.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", weather.ErrWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertObservationSQL)
	if err != nil {
		return 0, classifySQLiteError(err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var temp any
		if rec.Temperature != nil {
			temp = *rec.Temperature
		}
		_, err := stmt.ExecContext(ctx,
			rec.City,
			rec.Country,
			rec.ObservedAt.UTC().Format(timestampLayout),
			temp,
			string(rec.Units),
			rec.Humidity,
			rec.Pressure,
			rec.WindSpeed,
			string(rec.Condition),
			rec.RawPayload,
		)
		if err != nil {
			return 0, classifySQLiteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", weather.ErrWrite, err)
	}
	return len(records), nil
}

// classifySQLiteError treats a missing table or column as a schema problem.
func classifySQLiteError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "has no column") || strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %w", weather.ErrSchema, err)
	}
	return fmt.Errorf("%w: %w", weather.ErrWrite, err)
}

// Latest returns the newest row per city, ordered by city.
func (s *SQLiteStore) Latest(ctx context.Context, city string) ([]weather.Record, error) {
	records, err := s.queryRecords(ctx, getLatestSQL, strings.TrimSpace(city))
	if err != nil {
		return nil, fmt.Errorf("sqlite latest: %w", err)
	}
	return records, nil
}

// History returns every row observed at or after since, newest first.
func (s *SQLiteStore) History(ctx context.Context, city string, since time.Time) ([]weather.Record, error) {
	records, err := s.queryRecords(ctx, getHistorySQL, since.UTC().Format(timestampLayout), strings.TrimSpace(city))
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	return records, nil
}

// queryRecords runs a query selecting the record columns in table order.
func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]weather.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close rows", "error", err)
		}
	}()

	var out []weather.Record
	for rows.Next() {
		var (
			rec                       weather.Record
			country, units, condition sql.NullString
			ts                        string
			temp, wind                sql.NullFloat64
			humidity, pressure        sql.NullInt64
		)
		if err := rows.Scan(&rec.City, &country, &ts, &temp, &units, &humidity, &pressure, &wind, &condition); err != nil {
			return nil, err
		}
		observedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}

		rec.Country = country.String
		rec.ObservedAt = observedAt.UTC()
		if temp.Valid {
			rec.Temperature = weather.Float(temp.Float64)
		}
		rec.Units = weather.Units(units.String)
		rec.Humidity = int(humidity.Int64)
		rec.Pressure = int(pressure.Int64)
		rec.WindSpeed = wind.Float64
		rec.Condition = weather.Condition(condition.String)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates the rows History would return. Temperatures are °C.
func (s *SQLiteStore) Stats(ctx context.Context, city string, since time.Time) (weather.Stats, error) {
	city = strings.TrimSpace(city)
	var (
		total, cities                int
		avgT, minT, maxT, avgH, avgP sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, getStatsSQL, since.UTC().Format(timestampLayout), city).
		Scan(&total, &avgT, &minT, &maxT, &avgH, &avgP, &cities)
	if err != nil {
		return weather.Stats{}, fmt.Errorf("sqlite stats: %w", err)
	}

	return weather.Stats{
		City:           city,
		TotalRecords:   total,
		AvgTemperature: avgT.Float64,
		MinTemperature: minT.Float64,
		MaxTemperature: maxT.Float64,
		AvgHumidity:    avgH.Float64,
		AvgPressure:    avgP.Float64,
		CitiesCovered:  cities,
		From:           since.UTC(),
		To:             time.Now().UTC(),
	}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ weather.Store = (*SQLiteStore)(nil)
