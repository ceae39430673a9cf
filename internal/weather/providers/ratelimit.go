package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

// RateLimited wraps a Provider so that requests never exceed the provider's
// quota (OpenWeatherMap free tier: 60 calls/minute).
type RateLimited struct {
	provider weather.Provider
	limiter  *rate.Limiter
}

// NewRateLimited creates a rate limited provider. rps can be fractional;
// rps <= 0 disables limiting.
func NewRateLimited(provider weather.Provider, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (r *RateLimited) Name() string {
	return r.provider.Name()
}

// Fetch waits for limiter permission, then forwards to the wrapped provider.
func (r *RateLimited) Fetch(ctx context.Context, city string) (weather.Record, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return weather.Record{}, fmt.Errorf("%w: rate limit wait canceled: %w", weather.ErrNetwork, err)
	}
	return r.provider.Fetch(ctx, city)
}

var (
	_ weather.Provider = (*RateLimited)(nil)
	_ weather.Provider = (*OpenWeatherProvider)(nil)
	_ weather.Provider = (*WeatherAPIProvider)(nil)
)
