package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-pipeline/internal/common"
	"github.com/i474232898/weather-pipeline/internal/weather"
)

const defaultWeatherAPIBaseURL = "https://api.weatherapi.com/v1"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	units   weather.Units
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, cfg Config) *WeatherAPIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultWeatherAPIBaseURL
	}
	return &WeatherAPIProvider{
		name:    NameWeatherAPI,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		units:   cfg.Units,
		client:  client,
		circuit: newCircuitBreaker(NameWeatherAPI),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, city string) (weather.Record, error) {
	if p.apiKey == "" {
		return weather.Record{}, fmt.Errorf("weatherapi: %w", errNoAPIKey)
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	values.Set("q", city)

	body, err := doRequest(ctx, p.client, p.circuit, fmt.Sprintf("%s/current.json?%s", p.baseURL, values.Encode()))
	if err != nil {
		return weather.Record{}, fmt.Errorf("weatherapi %q: %w", city, err)
	}

	var payload struct {
		Location *struct {
			Name    string `json:"name"`
			Country string `json:"country"`
		} `json:"location"`
		Current *struct {
			LastUpdatedEpoch int64    `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			Humidity         *int     `json:"humidity"`
			WindKph          float64  `json:"wind_kph"`
			PressureMb       *float64 `json:"pressure_mb"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Record{}, fmt.Errorf("weatherapi %q: %w", city, decodeError(err))
	}
	if payload.Location == nil || payload.Current == nil {
		return weather.Record{}, fmt.Errorf("weatherapi %q: %w: missing location or current block", city, weather.ErrMalformedResponse)
	}
	cur := payload.Current
	if cur.Humidity == nil || cur.PressureMb == nil {
		return weather.Record{}, fmt.Errorf("weatherapi %q: %w: missing humidity or pressure", city, weather.ErrMalformedResponse)
	}

	rec := weather.Record{
		City:     payload.Location.Name,
		Country:  payload.Location.Country,
		Humidity: *cur.Humidity,
		Pressure: int(math.Round(*cur.PressureMb)),
		// kph to m/s
		WindSpeed:  cur.WindKph / 3.6,
		Condition:  mapWeatherAPICondition(cur.Condition.Text),
		RawPayload: string(body),
	}
	if cur.LastUpdatedEpoch > 0 {
		rec.ObservedAt = time.Unix(cur.LastUpdatedEpoch, 0).UTC()
	}
	if cur.TempC != nil {
		rec.Temperature = weather.Float(*cur.TempC)
	}

	return convertUnits(rec, p.units), nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.ContainsAnyFold(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.ContainsAnyFold(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.ContainsAnyFold(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.ContainsAnyFold(text, "mist", "fog", "haze"):
		return weather.ConditionMist
	case common.ContainsAnyFold(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.ContainsAnyFold(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
