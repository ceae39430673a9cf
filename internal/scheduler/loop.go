package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

var errInvalidInterval = errors.New("scheduler: interval must be positive")

// Clock abstracts time for the loop so tests can drive it deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PassRunner is what the schedulers drive; *weather.Pipeline implements it.
type PassRunner interface {
	RunPass(ctx context.Context) (weather.Summary, error)
}

// Loop runs a pass immediately and then at start + k*Interval. A pass that
// overruns one or more ticks causes those ticks to be skipped, never queued.
type Loop struct {
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
}

// Run blocks until ctx is done or a pass fails fatally. Cancellation is only
// observed between passes; a running pass always completes. It returns nil on
// a clean stop and the pass error otherwise.
func (l *Loop) Run(ctx context.Context, runner PassRunner) error {
	clock := l.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if l.Interval <= 0 {
		return errInvalidInterval
	}

	start := clock.Now()
	for k := int64(0); ; {
		if ctx.Err() != nil {
			logger.Info("scheduler stopping")
			return nil
		}

		if _, err := runner.RunPass(context.WithoutCancel(ctx)); err != nil {
			logger.Error("scheduler: fatal pass error, stopping", "error", err)
			return err
		}

		// Advance to the first tick that is not in the past.
		now := clock.Now()
		k++
		next := start.Add(time.Duration(k) * l.Interval)
		if next.Before(now) {
			due := int64(now.Sub(start) / l.Interval)
			if start.Add(time.Duration(due) * l.Interval).Before(now) {
				due++
			}
			logger.Warn("scheduler: pass overran interval, skipping ticks",
				"skipped", due-k,
				"interval", l.Interval,
			)
			k = due
			next = start.Add(time.Duration(k) * l.Interval)
		}

		if err := clock.Sleep(ctx, next.Sub(now)); err != nil {
			logger.Info("scheduler stopping")
			return nil
		}
	}
}
