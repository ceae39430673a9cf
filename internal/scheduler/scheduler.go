package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
)

// Cron runs passes on a standard five-field cron schedule, plus one pass at
// startup. Ticks that arrive while a pass is running are skipped.
type Cron struct {
	spec      string
	schedule  cron.Schedule
	scheduler *gocron.Scheduler
	runner    PassRunner
	logger    *slog.Logger

	// running is held for the duration of a pass.
	running sync.Mutex
	stopped atomic.Bool

	fatal     chan error
	fatalOnce sync.Once
}

// ParseCron validates a standard cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

// NewCron creates a Cron scheduler. It does not start it.
func NewCron(spec string, runner PassRunner, logger *slog.Logger) (*Cron, error) {
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := gocron.NewScheduler(time.UTC)
	s.SetMaxConcurrentJobs(1, gocron.RescheduleMode)

	return &Cron{
		spec:      spec,
		schedule:  schedule,
		scheduler: s,
		runner:    runner,
		logger:    logger,
		fatal:     make(chan error, 1),
	}, nil
}

// Start schedules the job, starts the underlying scheduler and kicks off the
// startup pass in the background.
func (c *Cron) Start() error {
	if _, err := c.scheduler.Cron(c.spec).Do(c.run); err != nil {
		return fmt.Errorf("schedule %q: %w", c.spec, err)
	}
	c.scheduler.StartAsync()
	c.logger.Info("cron scheduler started", "cron", c.spec, "next", c.schedule.Next(time.Now().UTC()))

	go c.run()
	return nil
}

// Errors delivers the first fatal pass error. After it fires no further
// passes run.
func (c *Cron) Errors() <-chan error {
	return c.fatal
}

func (c *Cron) run() {
	if !c.running.TryLock() {
		c.logger.Warn("cron: previous pass still running, skipping tick")
		return
	}
	defer c.running.Unlock()

	if c.stopped.Load() {
		return
	}

	if _, err := c.runner.RunPass(context.Background()); err != nil {
		c.logger.Error("cron: fatal pass error, stopping", "error", err)
		c.stopped.Store(true)
		c.fatalOnce.Do(func() { c.fatal <- err })
		return
	}
	c.logger.Debug("cron: next pass", "at", c.schedule.Next(time.Now().UTC()))
}

// Stop cancels future runs and waits for a running pass to finish.
func (c *Cron) Stop() {
	c.stopped.Store(true)
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	c.running.Lock()
	defer c.running.Unlock()
	c.logger.Info("cron scheduler stopped")
}
