package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/i474232898/weather-pipeline/internal/metrics"
)

// Stage is the orchestrator's per-city state.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageFetching   Stage = "fetching"
	StageValidating Stage = "validating"
	StageWriting    Stage = "writing"
)

// State is a snapshot of what the orchestrator is doing right now.
type State struct {
	Stage  Stage     `json:"stage"`
	City   string    `json:"city,omitempty"`
	PassID string    `json:"passId,omitempty"`
	Since  time.Time `json:"since"`
}

// RetryPolicy bounds the retries of transient fetch and write failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice: 500ms, then 1s (capped at 5s), with 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// PipelineConfig is everything the orchestrator needs besides its collaborators.
type PipelineConfig struct {
	Cities       []string
	FetchTimeout time.Duration
	WriteTimeout time.Duration
	Retry        RetryPolicy
}

// Summary is emitted at the end of each pass.
type Summary struct {
	PassID     string            `json:"passId"`
	StartedAt  time.Time         `json:"startedAt"`
	Duration   time.Duration     `json:"duration"`
	Attempted  int               `json:"attempted"`
	Accepted   int               `json:"accepted"`
	Rejected   int               `json:"rejected"`
	Written    int               `json:"written"`
	Errored    int               `json:"errored"`
	Rejections map[Reason]int    `json:"rejections,omitempty"`
	Failures   map[string]string `json:"failures,omitempty"` // city -> error
	Aborted    bool              `json:"aborted,omitempty"`
}

func (s *Summary) fail(city string, err error) {
	s.Errored++
	if s.Failures == nil {
		s.Failures = make(map[string]string)
	}
	s.Failures[city] = err.Error()
}

func (s *Summary) reject(reason Reason) {
	s.Rejected++
	if s.Rejections == nil {
		s.Rejections = make(map[Reason]int)
	}
	s.Rejections[reason]++
}

// Pipeline drives passes over the configured city list: fetch, validate and
// append, one city at a time.
type Pipeline struct {
	cfg       PipelineConfig
	provider  Provider
	validator RecordValidator
	writer    Writer
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	state State
	last  *Summary
}

// NewPipeline creates a new Pipeline.
func NewPipeline(cfg PipelineConfig, provider Provider, validator RecordValidator, writer Writer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:       cfg,
		provider:  provider,
		validator: validator,
		writer:    writer,
		logger:    logger,
		now:       time.Now,
	}
	p.state = State{Stage: StageIdle, Since: p.now().UTC()}
	return p
}

// Cities returns the configured city list in pass order.
func (p *Pipeline) Cities() []string {
	return append([]string(nil), p.cfg.Cities...)
}

// State returns the current orchestrator state. Safe for concurrent use.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastSummary returns the summary of the most recent pass, if any.
func (p *Pipeline) LastSummary() (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Summary{}, false
	}
	return *p.last, true
}

func (p *Pipeline) setState(stage Stage, city, passID string) {
	p.mu.Lock()
	p.state = State{Stage: stage, City: city, PassID: passID, Since: p.now().UTC()}
	p.mu.Unlock()
}

// Probe fetches the first configured city once, without retries. Used at
// startup to verify the provider credential.
func (p *Pipeline) Probe(ctx context.Context) (Record, error) {
	if len(p.cfg.Cities) == 0 {
		return Record{}, errors.New("no cities configured")
	}
	ctx, cancel := p.withTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.provider.Fetch(ctx, p.cfg.Cities[0])
}

// RunPass processes every configured city once. Per-city failures are
// counted in the summary; only ErrSchema aborts the pass and is returned.
func (p *Pipeline) RunPass(ctx context.Context) (Summary, error) {
	sum := Summary{
		PassID:    uuid.NewString(),
		StartedAt: p.now().UTC(),
	}
	log := p.logger.With("pass_id", sum.PassID)
	log.Info("pass started", "cities", len(p.cfg.Cities), "provider", p.provider.Name())

	var fatal error
	for _, city := range p.cfg.Cities {
		if err := p.processCity(ctx, log, sum.PassID, city, &sum); err != nil {
			fatal = err
			sum.Aborted = true
			break
		}
	}
	p.setState(StageIdle, "", "")

	sum.Duration = p.now().Sub(sum.StartedAt)

	p.mu.Lock()
	last := sum
	p.last = &last
	p.mu.Unlock()

	result := "success"
	switch {
	case fatal != nil:
		result = "aborted"
	case sum.Errored > 0 || sum.Rejected > 0:
		result = "partial"
	}
	metrics.ObservePass(result, sum.Duration)

	attrs := []any{
		"attempted", sum.Attempted,
		"accepted", sum.Accepted,
		"rejected", sum.Rejected,
		"written", sum.Written,
		"errored", sum.Errored,
		"duration", sum.Duration,
	}
	if fatal != nil {
		log.Error("pass aborted", append(attrs, "error", fatal)...)
		return sum, fmt.Errorf("pass %s aborted: %w", sum.PassID, fatal)
	}
	log.Info("pass completed", attrs...)
	return sum, nil
}

func (p *Pipeline) processCity(ctx context.Context, log *slog.Logger, passID, city string, sum *Summary) error {
	sum.Attempted++
	log = log.With("city", city)

	p.setState(StageFetching, city, passID)
	rec, err := p.fetch(ctx, log, city)
	if err != nil {
		sum.fail(city, err)
		metrics.IncCity("errored")
		log.Warn("fetch failed", "kind", ErrorKind(err), "error", err)
		return nil
	}

	p.setState(StageValidating, city, passID)
	verdict := p.validator.Validate(rec)
	if !verdict.Accepted {
		sum.reject(verdict.Reason)
		metrics.IncCity("rejected")
		metrics.IncRejection(string(verdict.Reason))
		log.Warn("record rejected", "reason", verdict.Reason)
		return nil
	}
	sum.Accepted++

	p.setState(StageWriting, city, passID)
	n, err := p.write(ctx, log, verdict.Record)
	if err != nil {
		sum.fail(city, err)
		metrics.IncCity("errored")
		if errors.Is(err, ErrSchema) {
			return err
		}
		log.Warn("write failed", "kind", ErrorKind(err), "error", err)
		return nil
	}
	sum.Written += n
	metrics.IncCity("written")
	log.Debug("record written", "observed_at", verdict.Record.ObservedAt, "rows", n)
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, log *slog.Logger, city string) (Record, error) {
	var rec Record
	err := p.retry(ctx, log, "fetch", func() error {
		attemptCtx, cancel := p.withTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()

		start := p.now()
		r, err := p.provider.Fetch(attemptCtx, city)
		metrics.ObserveFetch(resultLabel(err), p.now().Sub(start))
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

func (p *Pipeline) write(ctx context.Context, log *slog.Logger, rec Record) (int, error) {
	var written int
	err := p.retry(ctx, log, "write", func() error {
		attemptCtx, cancel := p.withTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()

		start := p.now()
		n, err := p.writer.Append(attemptCtx, []Record{rec})
		metrics.ObserveWrite(resultLabel(err), n, p.now().Sub(start))
		if err != nil {
			return err
		}
		written = n
		return nil
	})
	return written, err
}

// retry runs op until it succeeds, fails permanently, or the retry budget
// is spent. Only Retryable errors are retried.
func (p *Pipeline) retry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Retry.InitialInterval
	b.MaxInterval = p.cfg.Retry.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()

	maxRetries := p.cfg.Retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		log.Warn("transient failure, retrying", "op", op, "attempt", attempt, "backoff", next, "error", err)
	})
}

func (p *Pipeline) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return ErrorKind(err)
}
