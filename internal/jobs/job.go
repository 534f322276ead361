// Package jobs implements the batch passes of the link pipeline: queue
// drain, health checks, public archival, self-hosted snapshots, document
// remediation and the bulk external-link sync.
//
// Every job is one sequential pass over a bounded batch. Per-record failures
// are logged and counted in the run Summary; they never abort the batch.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/id/uuid"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
)

// ErrUnavailable reports that a job's capability is not configured.
var ErrUnavailable = errors.New("jobs: capability unavailable")

var tracer = otel.Tracer("github.com/JakeFAU/linkkeeper/internal/jobs")

// Options tune a single run. Zero values select the configured defaults.
type Options struct {
	Limit  int
	DryRun bool
	// Domain restricts the snapshot job to one domain.
	Domain string
}

// Summary is the outcome of one run.
type Summary struct {
	Job         string          `json:"job"`
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Processed   int             `json:"processed"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	DryRun      bool            `json:"dry_run,omitempty"`
	Unavailable link.Capability `json:"unavailable,omitempty"`
	// Actions lists what a dry run would have done.
	Actions []string `json:"actions,omitempty"`
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: processed=%d succeeded=%d failed=%d skipped=%d",
		s.Job, s.Processed, s.Succeeded, s.Failed, s.Skipped)
	if s.DryRun {
		b.WriteString(" dry_run=true")
	}
	if s.Unavailable != "" {
		fmt.Fprintf(&b, " unavailable=%s", s.Unavailable)
	}
	fmt.Fprintf(&b, " duration=%s", s.Duration.Round(time.Millisecond))
	return b.String()
}

// Err returns ErrUnavailable when the run was skipped for a missing capability.
func (s Summary) Err() error {
	if s.Unavailable != "" {
		return fmt.Errorf("%s: %w (%s)", s.Job, ErrUnavailable, s.Unavailable)
	}
	return nil
}

func (s *Summary) intend(action string) {
	s.Actions = append(s.Actions, action)
}

// run tracks the span, timing and logger of a job invocation.
type run struct {
	summary Summary
	span    trace.Span
	logger  *zap.Logger
	clock   link.Clock
}

func startRun(ctx context.Context, job string, clock link.Clock, logger *zap.Logger, opts Options) (context.Context, *run) {
	runID := uuid.RunID()
	ctx, span := tracer.Start(ctx, "jobs."+job, trace.WithAttributes(
		attribute.String("linkkeeper.job", job),
		attribute.String("linkkeeper.run_id", runID),
		attribute.Int("linkkeeper.limit", opts.Limit),
		attribute.Bool("linkkeeper.dry_run", opts.DryRun),
	))
	r := &run{
		summary: Summary{Job: job, RunID: runID, StartedAt: clock.Now(), DryRun: opts.DryRun},
		span:    span,
		logger:  logger.With(zap.String("run_id", runID)),
		clock:   clock,
	}
	r.logger.Info("job started", zap.Int("limit", opts.Limit), zap.Bool("dry_run", opts.DryRun))
	return ctx, r
}

// finish closes the span and records metrics. err is a run-level failure.
func (r *run) finish(err error) (Summary, error) {
	s := r.summary
	s.Duration = r.clock.Now().Sub(s.StartedAt)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	case s.Unavailable != "":
		status = "unavailable"
	}
	r.span.SetAttributes(
		attribute.Int("linkkeeper.processed", s.Processed),
		attribute.Int("linkkeeper.succeeded", s.Succeeded),
		attribute.Int("linkkeeper.failed", s.Failed),
		attribute.Int("linkkeeper.skipped", s.Skipped),
	)
	r.span.End()
	metrics.ObserveJobRun(s.Job, status, s.Duration)

	fields := []zap.Field{
		zap.Int("processed", s.Processed),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Duration("duration", s.Duration),
	}
	if err != nil {
		r.logger.Error("job failed", append(fields, zap.Error(err))...)
		return s, err
	}
	r.logger.Info("job finished", fields...)
	return s, nil
}

func batchSize(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func loggerOrNop(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}

func recordFields(rec link.Record) []zap.Field {
	return []zap.Field{zap.Int64("record_id", rec.ID), zap.String("url", rec.URL)}
}
