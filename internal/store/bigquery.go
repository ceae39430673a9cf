package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

// BigQueryConfig locates the observations table.
type BigQueryConfig struct {
	ProjectID string
	DatasetID string
	TableID   string
	Location  string
}

// BigQueryStore appends records to a day-partitioned BigQuery table through
// the streaming inserter and answers status queries with standard SQL.
type BigQueryStore struct {
	client *bigquery.Client
	cfg    BigQueryConfig
	logger *slog.Logger
}

// NewBigQueryStore creates the client. No API call is made until EnsureSchema.
// opts lets tests point the client at an emulator.
func NewBigQueryStore(ctx context.Context, cfg BigQueryConfig, logger *slog.Logger, opts ...option.ClientOption) (*BigQueryStore, error) {
	if cfg.ProjectID == "" || cfg.DatasetID == "" {
		return nil, errors.New("bigquery: project and dataset are required")
	}
	if cfg.TableID == "" {
		cfg.TableID = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	return &BigQueryStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *BigQueryStore) table() *bigquery.Table {
	return s.client.Dataset(s.cfg.DatasetID).Table(s.cfg.TableID)
}

// EnsureSchema creates the dataset and table when absent and verifies an
// existing table carries every required column.
func (s *BigQueryStore) EnsureSchema(ctx context.Context) error {
	ds := s.client.Dataset(s.cfg.DatasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: dataset %s: %w", weather.ErrWrite, s.cfg.DatasetID, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.cfg.Location}); err != nil && !isStatus(err, http.StatusConflict) {
			return fmt.Errorf("%w: create dataset %s: %w", weather.ErrWrite, s.cfg.DatasetID, err)
		}
		s.logger.Info("bigquery dataset created", "dataset", s.cfg.DatasetID, "location", s.cfg.Location)
	}

	t := s.table()
	meta, err := t.Metadata(ctx)
	switch {
	case err == nil:
		return CheckBigQuerySchema(meta.Schema)
	case !isStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: table %s: %w", weather.ErrWrite, s.cfg.TableID, err)
	}

	err = t.Create(ctx, &bigquery.TableMetadata{
		Schema: BigQuerySchema(),
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: PartitionColumn,
		},
	})
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("%w: create table %s: %w", weather.ErrWrite, s.cfg.TableID, err)
	}
	s.logger.Info("bigquery table created", "table", s.fullTableName())
	return nil
}

// Append streams records into the table. It is not idempotent.
func (s *BigQueryStore) Append(ctx context.Context, records []weather.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]bigquery.ValueSaver, 0, len(records))
	for _, rec := range records {
		rows = append(rows, row{rec: rec})
	}

	if err := s.table().Inserter().Put(ctx, rows); err != nil {
		return s.insertedCount(err, len(records)), classifyInsertError(err)
	}
	return len(records), nil
}

// insertedCount is the number of rows that were not reported as failed.
func (s *BigQueryStore) insertedCount(err error, total int) int {
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return total - len(multi)
	}
	return 0
}

// classifyInsertError maps an inserter failure to ErrSchema or ErrWrite.
func classifyInsertError(err error) error {
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		for _, rowErr := range multi {
			for _, e := range rowErr.Errors {
				if strings.Contains(strings.ToLower(e.Error()), "no such field") {
					return fmt.Errorf("%w: %w", weather.ErrSchema, err)
				}
			}
		}
		return fmt.Errorf("%w: %d rows rejected: %w", weather.ErrWrite, len(multi), err)
	}
	// Streaming inserts can 404 for a while after the table is created.
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: table not visible to streaming inserts yet: %w", weather.ErrWrite, err)
	}
	return fmt.Errorf("%w: %w", weather.ErrWrite, err)
}

// bqRecord is a query result row.
type bqRecord struct {
	City        string               `bigquery:"city"`
	Country     bigquery.NullString  `bigquery:"country"`
	ObservedAt  time.Time            `bigquery:"observed_at"`
	Temperature bigquery.NullFloat64 `bigquery:"temperature"`
	Units       bigquery.NullString  `bigquery:"units"`
	Humidity    bigquery.NullInt64   `bigquery:"humidity"`
	Pressure    bigquery.NullInt64   `bigquery:"pressure"`
	WindSpeed   bigquery.NullFloat64 `bigquery:"wind_speed"`
	Condition   bigquery.NullString  `bigquery:"condition"`
}

func (r bqRecord) toRecord() weather.Record {
	rec := weather.Record{
		City:       r.City,
		Country:    r.Country.StringVal,
		ObservedAt: r.ObservedAt.UTC(),
		Units:      weather.Units(r.Units.StringVal),
		Humidity:   int(r.Humidity.Int64),
		Pressure:   int(r.Pressure.Int64),
		WindSpeed:  r.WindSpeed.Float64,
		Condition:  weather.Condition(r.Condition.StringVal),
	}
	if r.Temperature.Valid {
		rec.Temperature = weather.Float(r.Temperature.Float64)
	}
	return rec
}

func (s *BigQueryStore) fullTableName() string {
	return fmt.Sprintf("`%s.%s.%s`", s.cfg.ProjectID, s.cfg.DatasetID, s.cfg.TableID)
}

// Latest returns the newest row per city, ordered by city.
func (s *BigQueryStore) Latest(ctx context.Context, city string) ([]weather.Record, error) {
	q := s.client.Query(fmt.Sprintf(`
SELECT city, country, observed_at, temperature, units, humidity, pressure, wind_speed, condition
FROM %s
WHERE @city = '' OR LOWER(city) = LOWER(@city)
QUALIFY ROW_NUMBER() OVER (PARTITION BY city ORDER BY observed_at DESC) = 1
ORDER BY city`, s.fullTableName()))
	q.Parameters = []bigquery.QueryParameter{{Name: "city", Value: strings.TrimSpace(city)}}

	records, err := readRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("bigquery latest: %w", err)
	}
	return records, nil
}

// History returns every row observed at or after since, newest first.
func (s *BigQueryStore) History(ctx context.Context, city string, since time.Time) ([]weather.Record, error) {
	q := s.client.Query(fmt.Sprintf(`
SELECT city, country, observed_at, temperature, units, humidity, pressure, wind_speed, condition
FROM %s
WHERE observed_at >= @since
  AND (@city = '' OR LOWER(city) = LOWER(@city))
ORDER BY observed_at DESC`, s.fullTableName()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "since", Value: since.UTC()},
		{Name: "city", Value: strings.TrimSpace(city)},
	}

	records, err := readRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("bigquery history: %w", err)
	}
	return records, nil
}

func readRecords(ctx context.Context, q *bigquery.Query) ([]weather.Record, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	var out []weather.Record
	for {
		var r bqRecord
		err := it.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r.toRecord())
	}
	return out, nil
}

// bqStats is the result row of the stats query. Temperatures are in °C.
type bqStats struct {
	TotalRecords   int64                `bigquery:"total_records"`
	AvgTemperature bigquery.NullFloat64 `bigquery:"avg_temperature"`
	MinTemperature bigquery.NullFloat64 `bigquery:"min_temperature"`
	MaxTemperature bigquery.NullFloat64 `bigquery:"max_temperature"`
	AvgHumidity    bigquery.NullFloat64 `bigquery:"avg_humidity"`
	AvgPressure    bigquery.NullFloat64 `bigquery:"avg_pressure"`
	CitiesCovered  int64                `bigquery:"cities_covered"`
}

// Stats aggregates the rows History would return. Temperatures are °C.
func (s *BigQueryStore) Stats(ctx context.Context, city string, since time.Time) (weather.Stats, error) {
	city = strings.TrimSpace(city)
	q := s.client.Query(fmt.Sprintf(`
WITH obs AS (
  SELECT city, humidity, pressure,
    IF(units = 'imperial', (temperature - 32) * 5 / 9, temperature) AS temp_c
  FROM %s
  WHERE observed_at >= @since
    AND (@city = '' OR LOWER(city) = LOWER(@city))
)
SELECT
  COUNT(*) AS total_records,
  AVG(temp_c) AS avg_temperature,
  MIN(temp_c) AS min_temperature,
  MAX(temp_c) AS max_temperature,
  AVG(humidity) AS avg_humidity,
  AVG(pressure) AS avg_pressure,
  COUNT(DISTINCT LOWER(city)) AS cities_covered
FROM obs`, s.fullTableName()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "since", Value: since.UTC()},
		{Name: "city", Value: city},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return weather.Stats{}, fmt.Errorf("bigquery stats: %w", err)
	}

	var r bqStats
	if err := it.Next(&r); err != nil && !errors.Is(err, iterator.Done) {
		return weather.Stats{}, fmt.Errorf("bigquery stats: %w", err)
	}

	return weather.Stats{
		City:           city,
		TotalRecords:   int(r.TotalRecords),
		AvgTemperature: r.AvgTemperature.Float64,
		MinTemperature: r.MinTemperature.Float64,
		MaxTemperature: r.MaxTemperature.Float64,
		AvgHumidity:    r.AvgHumidity.Float64,
		AvgPressure:    r.AvgPressure.Float64,
		CitiesCovered:  int(r.CitiesCovered),
		From:           since.UTC(),
		To:             time.Now().UTC(),
	}, nil
}

func (s *BigQueryStore) Close() error {
	return s.client.Close()
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var _ weather.Store = (*BigQueryStore)(nil)
