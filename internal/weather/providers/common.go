package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

const (
	NameOpenWeather = "openweathermap"
	NameWeatherAPI  = "weatherapi"

	// maxBodyBytes caps how much of a provider response is read.
	maxBodyBytes = 1 << 20
)

// Config carries the provider credential and endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Units   weather.Units
}

// New builds the named provider.
func New(name string, client *http.Client, cfg Config) (weather.Provider, error) {
	switch name {
	case NameOpenWeather, "":
		return NewOpenWeatherProvider(client, cfg), nil
	case NameWeatherAPI:
		return NewWeatherAPIProvider(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", name)
	}
}

var (
	errNoHTTPClient = errors.New("http client not configured")
	errNoAPIKey     = errors.New("api key is not configured")
)

// newCircuitBreaker trips after five consecutive transport or 5xx failures.
// Auth, not-found and decoding failures are the caller's problem, not the
// provider's, so they do not count.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, weather.ErrNetwork)
		},
	})
}

// doRequest executes one GET through the circuit breaker and returns the body
// of a 2xx response. Every failure wraps one of the weather.Err* sentinels.
func doRequest(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, rawURL string) ([]byte, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", weather.ErrNetwork, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", weather.ErrNetwork, err)
		}
		if err := statusError(resp.StatusCode, body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker %s: %w", weather.ErrNetwork, cb.Name(), err)
		}
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

// statusError maps an HTTP status to the client error taxonomy.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := providerMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", weather.ErrAuth, status, msg)
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", weather.ErrNotFound, status, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", weather.ErrNetwork, status, msg)
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", weather.ErrMalformedResponse, status, msg)
	}
}

// providerMessage pulls a human-readable message out of an error body.
// OpenWeatherMap uses {"message": ...}, WeatherAPI {"error": {"message": ...}}.
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error.Message != "" {
			return payload.Error.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %w", weather.ErrMalformedResponse, err)
}
