package store

import (
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

// ColumnType is the warehouse-neutral type of a column.
type ColumnType string

const (
	TypeString    ColumnType = "STRING"
	TypeTimestamp ColumnType = "TIMESTAMP"
	TypeFloat     ColumnType = "FLOAT"
	TypeInteger   ColumnType = "INTEGER"
)

// Column is one column of the observations table.
type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// Columns is the fixed observations schema, in insert order. Existing tables
// must carry every one of these; extra columns are tolerated.
var Columns = []Column{
	{Name: "city", Type: TypeString, Required: true},
	{Name: "country", Type: TypeString},
	{Name: "observed_at", Type: TypeTimestamp, Required: true},
	{Name: "temperature", Type: TypeFloat, Required: true},
	{Name: "units", Type: TypeString},
	{Name: "humidity", Type: TypeInteger},
	{Name: "pressure", Type: TypeInteger},
	{Name: "wind_speed", Type: TypeFloat},
	{Name: "condition", Type: TypeString},
	{Name: "raw_payload", Type: TypeString},
}

// DefaultTable is the table name used when none is configured.
const DefaultTable = "weather_observations"

// PartitionColumn is the column BigQuery partitions the table on, by day.
const PartitionColumn = "observed_at"

func bigQueryType(t ColumnType) bigquery.FieldType {
	switch t {
	case TypeTimestamp:
		return bigquery.TimestampFieldType
	case TypeFloat:
		return bigquery.FloatFieldType
	case TypeInteger:
		return bigquery.IntegerFieldType
	default:
		return bigquery.StringFieldType
	}
}

// BigQuerySchema derives the BigQuery table schema from Columns.
func BigQuerySchema() bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(Columns))
	for _, c := range Columns {
		schema = append(schema, &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     bigQueryType(c.Type),
			Required: c.Required,
		})
	}
	return schema
}

// CheckBigQuerySchema returns an ErrSchema-wrapping error listing every column
// of Columns that is absent from existing or present with a different type.
func CheckBigQuerySchema(existing bigquery.Schema) error {
	have := make(map[string]bigquery.FieldType, len(existing))
	for _, f := range existing {
		have[strings.ToLower(f.Name)] = f.Type
	}

	var problems []string
	for _, c := range Columns {
		got, ok := have[c.Name]
		want := bigQueryType(c.Type)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing column %s", c.Name))
		case !sameBigQueryType(got, want):
			problems = append(problems, fmt.Sprintf("column %s is %s, want %s", c.Name, got, want))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", weather.ErrSchema, strings.Join(problems, "; "))
	}
	return nil
}

// sameBigQueryType treats the legacy and standard SQL spellings as equal.
func sameBigQueryType(got, want bigquery.FieldType) bool {
	if got == want {
		return true
	}
	switch want {
	case bigquery.FloatFieldType:
		return got == "FLOAT64"
	case bigquery.IntegerFieldType:
		return got == "INT64"
	}
	return false
}

// row adapts a Record to bigquery.ValueSaver.
type row struct {
	rec weather.Record
}

// Save implements bigquery.ValueSaver. Rows carry no insert ID, so a retried
// Append can duplicate rows.
func (r row) Save() (map[string]bigquery.Value, string, error) {
	values := make(map[string]bigquery.Value, len(Columns))
	for _, c := range Columns {
		values[c.Name] = columnValue(r.rec, c.Name)
	}
	return values, bigquery.NoDedupeID, nil
}

// columnValue returns the value of the named column for rec.
func columnValue(rec weather.Record, name string) any {
	switch name {
	case "city":
		return rec.City
	case "country":
		return rec.Country
	case "observed_at":
		return rec.ObservedAt.UTC()
	case "temperature":
		if rec.Temperature == nil {
			return nil
		}
		return *rec.Temperature
	case "units":
		return string(rec.Units)
	case "humidity":
		return rec.Humidity
	case "pressure":
		return rec.Pressure
	case "wind_speed":
		return rec.WindSpeed
	case "condition":
		return string(rec.Condition)
	case "raw_payload":
		return rec.RawPayload
	default:
		return nil
	}
}
