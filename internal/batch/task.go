package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joescharf/nwbbatch/internal/engine"
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

// TaskConfig holds the collaborators of a Task.
type TaskConfig struct {
	Gate     *gate.Gate
	Composer *metadata.Composer
	Engine   engine.Engine

	// Inspector, when set, derives metadata from the InspectKind source.
	Inspector   engine.SourceInspector
	InspectKind models.SourceKind

	Stub    bool
	Timeout time.Duration // zero means no timeout
	Logger  *slog.Logger
}

// Task converts one session. Execute never panics and never returns an
// error; every failure becomes an outcome.
type Task struct {
	cfg TaskConfig
	log *slog.Logger
}

// NewTask returns a Task for cfg.
func NewTask(cfg TaskConfig) *Task {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.Composer == nil {
		cfg.Composer = metadata.NewComposer(nil, nil)
	}
	return &Task{cfg: cfg, log: log}
}

// Execute runs the gate, composes metadata, and invokes the engine for d.
// Batch cancellation carried by ctx does not interrupt an engine call that
// has already started.
func (t *Task) Execute(ctx context.Context, d models.SessionDescriptor) (out models.Outcome) {
	start := time.Now()
	out = models.Outcome{SessionID: d.ID, OutputPath: d.OutputPath, StartedAt: start}
	log := t.log.With("session", d.ID)
	engineStarted := false

	defer func() {
		if r := recover(); r != nil {
			if engineStarted {
				removePartial(d.OutputPath)
			}
			out.Status = models.StatusFailed
			out.Err = fmt.Errorf("panic: %v", r)
			out.Reason = out.Err.Error()
		}
		out.Duration = time.Since(start)
		log.Info("session finished", "status", out.Status, "duration", out.Duration, "reason", out.Reason)
	}()

	dec := t.cfg.Gate.Decide(d)
	switch dec.Verdict {
	case gate.Abandon:
		out.Status = models.StatusAbandoned
		out.Reason = dec.Reason
		out.Err = fmt.Errorf("%w: %s", ErrAbandoned, dec.Reason)
		return out
	case gate.Skip:
		out.Status = models.StatusSkipped
		out.Reason = dec.Reason
		out.Err = fmt.Errorf("%w: %s", ErrAlreadyConverted, dec.Reason)
		return out
	}

	missing, err := t.cfg.Gate.CheckInputs(d)
	if err != nil {
		out.Status = models.StatusFailed
		out.Reason = err.Error()
		out.Err = err
		return out
	}
	for _, k := range missing {
		log.Warn("optional source missing, omitted from conversion", "source", k)
	}

	job := engine.NewJob(d, t.cfg.Stub, missing...)
	log.Info("processing", "output", d.OutputPath, "sources", sourceList(job))

	engineStarted = true
	if err := t.runEngine(context.WithoutCancel(ctx), d, job); err != nil {
		if !errors.Is(err, ErrTimeout) {
			removePartial(d.OutputPath)
		}
		out.Status = models.StatusFailed
		out.Reason = err.Error()
		out.Err = err
		return out
	}

	out.Status = models.StatusSucceeded
	return out
}

// runEngine runs the engine steps, bounded by the configured timeout. On
// timeout it returns without waiting for the engine, whose context is
// cancelled.
func (t *Task) runEngine(ctx context.Context, d models.SessionDescriptor, job engine.Job) error {
	if t.cfg.Timeout <= 0 {
		return t.convert(ctx, d, job)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- t.convert(ctx, d, job)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrTimeout, t.cfg.Timeout)
	}
}

func (t *Task) convert(ctx context.Context, d models.SessionDescriptor, job engine.Job) error {
	defaults, err := t.cfg.Engine.Metadata(ctx, job)
	if err != nil {
		return err
	}

	var derived *metadata.Record
	if t.cfg.Inspector != nil && t.cfg.InspectKind != "" {
		if src, ok := job.Sources[t.cfg.InspectKind]; ok {
			derived, err = t.cfg.Inspector.Inspect(ctx, t.cfg.InspectKind, src)
			if err != nil {
				return err
			}
		}
	}

	rec := t.cfg.Composer.Compose(d.ID, defaults, derived)
	job.Metadata = &rec

	return t.cfg.Engine.Convert(ctx, job)
}

// sourceList renders the job's inputs as "kind=path" in kind order.
func sourceList(job engine.Job) []string {
	kinds := job.Kinds()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, fmt.Sprintf("%s=%s", k, job.Sources[k].Path()))
	}
	return out
}

// removePartial deletes a half-written output so the next run does not
// mistake it for a finished conversion.
func removePartial(path string) {
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		_ = os.Remove(path)
	}
}
