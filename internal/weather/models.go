package weather

import (
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Units selects the unit system of temperature and wind speed in a Record.
type Units string

const (
	// UnitsMetric is °C and m/s.
	UnitsMetric Units = "metric"
	// UnitsImperial is °F and mph.
	UnitsImperial Units = "imperial"
)

// Record is one observation for one city at one provider-reported instant.
// Records are values; the pipeline never mutates one in place.
type Record struct {
	City       string    `json:"city" validate:"required"`
	Country    string    `json:"country"`
	ObservedAt time.Time `json:"observedAt"` // always UTC

	// Temperature is nil when the provider omitted it.
	Temperature *float64 `json:"temperature" validate:"required"`
	Units       Units    `json:"units"`

	Humidity  int       `json:"humidityPercent" validate:"min=0,max=100"`
	Pressure  int       `json:"pressureHpa"`
	WindSpeed float64   `json:"windSpeed" validate:"min=0"`
	Condition Condition `json:"condition"`

	// RawPayload is the provider response body, retained for audit.
	RawPayload string `json:"-"`
}

// TemperatureC returns the temperature in °C regardless of Units.
func (r Record) TemperatureC() (float64, bool) {
	if r.Temperature == nil {
		return 0, false
	}
	if r.Units == UnitsImperial {
		return FahrenheitToCelsius(*r.Temperature), true
	}
	return *r.Temperature, true
}

// Float returns a pointer to v. Handy for building records.
func Float(v float64) *float64 {
	return &v
}

func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

// MetersPerSecondToMPH converts m/s to miles per hour.
func MetersPerSecondToMPH(ms float64) float64 { return ms * 2.2369362920544 }

// Stats summarizes stored observations over a time window.
type Stats struct {
	City           string    `json:"city,omitempty"` // empty when every city is covered
	TotalRecords   int       `json:"totalRecords"`
	AvgTemperature float64   `json:"avgTemperature"`
	MinTemperature float64   `json:"minTemperature"`
	MaxTemperature float64   `json:"maxTemperature"`
	AvgHumidity    float64   `json:"avgHumidity"`
	AvgPressure    float64   `json:"avgPressure"`
	CitiesCovered  int       `json:"citiesCovered"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}
