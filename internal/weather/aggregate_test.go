package weather

import (
	"math"
	"testing"
	"time"
)

func TestAggregateRecords(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	records := []Record{
		{City: "London", Temperature: Float(10), Units: UnitsMetric, Humidity: 80, Pressure: 1010},
		{City: "london ", Temperature: Float(68), Units: UnitsImperial, Humidity: 60, Pressure: 1020},
		{City: "Paris", Temperature: Float(12), Units: UnitsMetric, Humidity: 70, Pressure: 1015},
		{City: "Oslo", Units: UnitsMetric, Humidity: 50, Pressure: 1000},
	}

	got := AggregateRecords(records, from, to)

	if got.TotalRecords != 4 {
		t.Fatalf("expected 4 records, got %d", got.TotalRecords)
	}
	if got.CitiesCovered != 3 {
		t.Fatalf("expected 3 cities, got %d", got.CitiesCovered)
	}
	// 68 °F is 20 °C; Oslo has no temperature.
	if math.Abs(got.AvgTemperature-14) > 1e-9 {
		t.Fatalf("expected avg temperature 14, got %v", got.AvgTemperature)
	}
	if got.MinTemperature != 10 || math.Abs(got.MaxTemperature-20) > 1e-9 {
		t.Fatalf("expected min 10 max 20, got %v %v", got.MinTemperature, got.MaxTemperature)
	}
	if got.AvgHumidity != 65 {
		t.Fatalf("expected avg humidity 65, got %v", got.AvgHumidity)
	}
	if got.AvgPressure != 1011.25 {
		t.Fatalf("expected avg pressure 1011.25, got %v", got.AvgPressure)
	}
	if !got.From.Equal(from) || !got.To.Equal(to) {
		t.Fatalf("window not preserved: %v %v", got.From, got.To)
	}
}

func TestAggregateRecordsEmpty(t *testing.T) {
	got := AggregateRecords(nil, time.Time{}, time.Time{})
	if got.TotalRecords != 0 || got.AvgTemperature != 0 || got.CitiesCovered != 0 {
		t.Fatalf("expected zero stats, got %+v", got)
	}
}

func TestAggregateRecordsNegativeTemperatures(t *testing.T) {
	got := AggregateRecords([]Record{
		{City: "Oslo", Temperature: Float(-5), Units: UnitsMetric},
		{City: "Oslo", Temperature: Float(-15), Units: UnitsMetric},
	}, time.Time{}, time.Time{})

	if got.MinTemperature != -15 || got.MaxTemperature != -5 || got.AvgTemperature != -10 {
		t.Fatalf("unexpected temperatures: %+v", got)
	}
}
