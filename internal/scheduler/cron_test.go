package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *blockingRunner) RunPass(context.Context) (weather.Summary, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	return weather.Summary{}, r.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseCron(t *testing.T) {
	for _, spec := range []string{"*/30 * * * *", "0 6 * * 1-5", "@hourly"} {
		if _, err := ParseCron(spec); err != nil {
			t.Fatalf("ParseCron(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every minute", "61 * * * *", "* * * * * *"} {
		if _, err := ParseCron(spec); err == nil {
			t.Fatalf("ParseCron(%q): expected error", spec)
		}
	}
}

func TestCronRunsAtStartup(t *testing.T) {
	runner := &blockingRunner{}
	c, err := NewCron("0 0 1 1 *", runner, discard)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitFor(t, func() bool { return runner.calls.Load() >= 1 })
}

func TestCronSkipsOverlappingRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	c, err := NewCron("0 0 1 1 *", runner, discard)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return runner.calls.Load() == 1 })

	// A tick arriving mid-pass is dropped.
	c.run()
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("calls: got %d, want 1", got)
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	// No passes after Stop.
	c.run()
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("calls after stop: got %d, want 1", got)
	}
}

func TestCronReportsFatalError(t *testing.T) {
	fatal := errors.New("schema drift")
	runner := &blockingRunner{err: fatal}
	c, err := NewCron("0 0 1 1 *", runner, discard)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	select {
	case err := <-c.Errors():
		if !errors.Is(err, fatal) {
			t.Fatalf("got %v, want %v", err, fatal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error delivered")
	}

	c.run()
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("calls after fatal error: got %d, want 1", got)
	}
}

func TestNewCronRejectsBadSpec(t *testing.T) {
	if _, err := NewCron("nope", &blockingRunner{}, discard); err == nil {
		t.Fatal("expected error")
	}
}
