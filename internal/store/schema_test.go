package store

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

func TestBigQuerySchemaMatchesColumns(t *testing.T) {
	schema := BigQuerySchema()
	if len(schema) != len(Columns) {
		t.Fatalf("schema has %d fields, want %d", len(schema), len(Columns))
	}
	if err := CheckBigQuerySchema(schema); err != nil {
		t.Fatalf("derived schema is not compatible with itself: %v", err)
	}

	for _, f := range schema {
		if f.Name == PartitionColumn && f.Type != bigquery.TimestampFieldType {
			t.Fatalf("partition column %s is %s", f.Name, f.Type)
		}
	}
}

func TestCheckBigQuerySchema(t *testing.T) {
	base := BigQuerySchema()

	withExtra := append(bigquery.Schema{}, base...)
	withExtra = append(withExtra, &bigquery.FieldSchema{Name: "ingested_at", Type: bigquery.TimestampFieldType})
	if err := CheckBigQuerySchema(withExtra); err != nil {
		t.Fatalf("extra column rejected: %v", err)
	}

	standardSQL := bigquery.Schema{}
	for _, f := range base {
		cp := *f
		switch cp.Type {
		case bigquery.FloatFieldType:
			cp.Type = "FLOAT64"
		case bigquery.IntegerFieldType:
			cp.Type = "INT64"
		}
		standardSQL = append(standardSQL, &cp)
	}
	if err := CheckBigQuerySchema(standardSQL); err != nil {
		t.Fatalf("standard SQL type names rejected: %v", err)
	}

	missing := bigquery.Schema{}
	for _, f := range base {
		if f.Name != "humidity" {
			missing = append(missing, f)
		}
	}
	err := CheckBigQuerySchema(missing)
	if !errors.Is(err, weather.ErrSchema) || !strings.Contains(err.Error(), "humidity") {
		t.Fatalf("missing column: got %v", err)
	}

	retyped := bigquery.Schema{}
	for _, f := range base {
		cp := *f
		if cp.Name == "temperature" {
			cp.Type = bigquery.StringFieldType
		}
		retyped = append(retyped, &cp)
	}
	if err := CheckBigQuerySchema(retyped); !errors.Is(err, weather.ErrSchema) {
		t.Fatalf("retyped column: got %v", err)
	}
}

func TestRowSave(t *testing.T) {
	rec := testRecord("London", baseTime, 14.5)

	values, insertID, err := row{rec: rec}.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if insertID != bigquery.NoDedupeID {
		t.Fatalf("insert id: %q", insertID)
	}
	if len(values) != len(Columns) {
		t.Fatalf("values: got %d, want %d", len(values), len(Columns))
	}
	if values["city"] != "London" || values["temperature"] != 14.5 || values["units"] != "metric" {
		t.Fatalf("values: %v", values)
	}
	if values["observed_at"] != baseTime {
		t.Fatalf("observed_at: %v", values["observed_at"])
	}

	rec.Temperature = nil
	values, _, _ = row{rec: rec}.Save()
	if values["temperature"] != nil {
		t.Fatalf("nil temperature saved as %v", values["temperature"])
	}
}

func TestClassifyInsertError(t *testing.T) {
	schemaErr := bigquery.PutMultiError{
		{RowIndex: 0, Errors: bigquery.MultiError{&bigquery.Error{Reason: "invalid", Message: "no such field: humidty."}}},
	}
	if err := classifyInsertError(schemaErr); !errors.Is(err, weather.ErrSchema) {
		t.Fatalf("no such field: got %v", err)
	}

	rowErr := bigquery.PutMultiError{
		{RowIndex: 0, Errors: bigquery.MultiError{&bigquery.Error{Reason: "backendError", Message: "try again"}}},
	}
	if err := classifyInsertError(rowErr); !errors.Is(err, weather.ErrWrite) {
		t.Fatalf("backend error: got %v", err)
	}

	if err := classifyInsertError(errors.New("connection reset")); !errors.Is(err, weather.ErrWrite) {
		t.Fatalf("transport error: got %v", err)
	}
}

func TestClassifyInsertErrorTableNotFoundIsRetryable(t *testing.T) {
	notFound := fmt.Errorf("insert: %w", &googleapi.Error{Code: http.StatusNotFound, Message: "Table not found"})

	err := classifyInsertError(notFound)
	if !errors.Is(err, weather.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if errors.Is(err, weather.ErrSchema) {
		t.Fatalf("404 must not abort the pass: %v", err)
	}
	if !weather.Retryable(err) {
		t.Fatalf("expected 404 to be retried: %v", err)
	}
}
