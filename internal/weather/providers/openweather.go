package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

const defaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	units   weather.Units
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, cfg Config) *OpenWeatherProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenWeatherBaseURL
	}
	units := cfg.Units
	if units == "" {
		units = weather.UnitsMetric
	}

	return &OpenWeatherProvider{
		name:    NameOpenWeather,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		units:   units,
		client:  client,
		circuit: newCircuitBreaker(NameOpenWeather),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// openWeatherPayload is the subset of /weather we map. Pointers mark fields
// whose absence must be distinguishable from zero.
type openWeatherPayload struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *int     `json:"humidity"`
		Pressure *int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, city string) (weather.Record, error) {
	if p.apiKey == "" {
		return weather.Record{}, fmt.Errorf("openweather: %w", errNoAPIKey)
	}

	values := url.Values{}
	values.Set("q", city)
	values.Set("appid", p.apiKey)
	// Always metric; imperial is converted locally so the raw payload is
	// comparable across configurations.
	values.Set("units", "metric")

	body, err := doRequest(ctx, p.client, p.circuit, fmt.Sprintf("%s/weather?%s", p.baseURL, values.Encode()))
	if err != nil {
		return weather.Record{}, fmt.Errorf("openweather %q: %w", city, err)
	}

	var payload openWeatherPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Record{}, fmt.Errorf("openweather %q: %w", city, decodeError(err))
	}
	if payload.Main == nil {
		return weather.Record{}, fmt.Errorf("openweather %q: %w: missing main block", city, weather.ErrMalformedResponse)
	}
	if payload.Main.Humidity == nil || payload.Main.Pressure == nil {
		return weather.Record{}, fmt.Errorf("openweather %q: %w: missing humidity or pressure", city, weather.ErrMalformedResponse)
	}

	rec := weather.Record{
		City:       payload.Name,
		Country:    payload.Sys.Country,
		Units:      p.units,
		Humidity:   *payload.Main.Humidity,
		Pressure:   *payload.Main.Pressure,
		WindSpeed:  payload.Wind.Speed,
		Condition:  mapOpenWeatherCondition(payload.Weather),
		RawPayload: string(body),
	}
	if payload.Dt > 0 {
		rec.ObservedAt = time.Unix(payload.Dt, 0).UTC()
	}
	if payload.Main.Temp != nil {
		rec.Temperature = weather.Float(*payload.Main.Temp)
	}

	return convertUnits(rec, p.units), nil
}

func mapOpenWeatherCondition(items []struct {
	Main string `json:"main"`
}) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand", "Ash":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}

// convertUnits turns a metric record (°C, m/s) into the configured units.
func convertUnits(rec weather.Record, units weather.Units) weather.Record {
	if units != weather.UnitsImperial {
		rec.Units = weather.UnitsMetric
		return rec
	}
	rec.Units = weather.UnitsImperial
	if rec.Temperature != nil {
		rec.Temperature = weather.Float(weather.CelsiusToFahrenheit(*rec.Temperature))
	}
	rec.WindSpeed = weather.MetersPerSecondToMPH(rec.WindSpeed)
	return rec
}
