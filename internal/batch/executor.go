// Package batch runs session conversions on a bounded worker pool and
// aggregates their outcomes into an ordered report.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/nwbbatch/internal/models"
)

// Runner executes one session and reports its outcome. *Task implements it.
type Runner interface {
	Execute(ctx context.Context, d models.SessionDescriptor) models.Outcome
}

// OutcomeFunc is called once per session as its outcome becomes known.
// Calls are serialized; index is the session's position in the input list.
type OutcomeFunc func(index int, o models.Outcome)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithOutcomeFunc registers a progress callback.
func WithOutcomeFunc(fn OutcomeFunc) Option {
	return func(e *Executor) { e.onOutcome = fn }
}

// Executor dispatches sessions to a fixed-size worker pool.
type Executor struct {
	runner      Runner
	concurrency int
	log         *slog.Logger
	onOutcome   OutcomeFunc
	mu          sync.Mutex
}

// NewExecutor returns an Executor with concurrency workers. A concurrency
// below 1 is a configuration error.
func NewExecutor(r Runner, concurrency int, opts ...Option) (*Executor, error) {
	if concurrency < 1 {
		return nil, &models.ConfigurationError{Key: "concurrency", Msg: fmt.Sprintf("must be at least 1, got %d", concurrency)}
	}
	if r == nil {
		return nil, &models.ConfigurationError{Key: "engine", Msg: "no task runner"}
	}
	e := &Executor{runner: r, concurrency: concurrency, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes every descriptor and returns one outcome per descriptor in
// input order. When ctx is cancelled no further sessions are dispatched,
// in-flight sessions run to completion, and undispatched sessions are
// reported as abandoned.
func (e *Executor) Run(ctx context.Context, descs []models.SessionDescriptor) *models.Report {
	report := &models.Report{
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]models.Outcome, len(descs)),
	}
	started := make([]bool, len(descs))

	workers := e.concurrency
	if workers > len(descs) {
		workers = len(descs)
	}
	e.log.Debug("starting worker pool", "workers", workers, "sessions", len(descs))

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range queue {
				// A stop request wins over a session already handed over.
				if ctx.Err() != nil {
					continue
				}
				started[i] = true
				o := e.execute(ctx, id, descs[i])
				report.Outcomes[i] = o
				e.notify(i, o)
			}
		}(w)
	}

dispatch:
	for i := range descs {
		if ctx.Err() != nil {
			break
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	for i, d := range descs {
		if started[i] {
			continue
		}
		report.Cancelled = true
		o := models.Outcome{
			SessionID:  d.ID,
			Status:     models.StatusAbandoned,
			Reason:     ErrCancelled.Error(),
			OutputPath: d.OutputPath,
			Err:        ErrCancelled,
		}
		report.Outcomes[i] = o
		e.notify(i, o)
	}

	report.FinishedAt = time.Now().UTC()
	c := report.Counts()
	e.log.Info("batch finished",
		"succeeded", c.Succeeded, "skipped", c.Skipped, "failed", c.Failed, "abandoned", c.Abandoned,
		"cancelled", report.Cancelled, "duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// execute runs one session, converting a runner panic into a failed outcome.
func (e *Executor) execute(ctx context.Context, worker int, d models.SessionDescriptor) (o models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic recovered in worker", "worker", worker, "session", d.ID, "panic", r)
			err := fmt.Errorf("panic: %v", r)
			o = models.Outcome{
				SessionID:  d.ID,
				Status:     models.StatusFailed,
				Reason:     err.Error(),
				OutputPath: d.OutputPath,
				Err:        err,
			}
		}
	}()
	return e.runner.Execute(ctx, d)
}

func (e *Executor) notify(i int, o models.Outcome) {
	if e.onOutcome == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOutcome(i, o)
}
