package verify

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

const instrumentationName = "github.com/louisbranch/audittrail/verify"

type telemetry struct {
	tracer   trace.Tracer
	runs     metric.Int64Counter
	breaks   metric.Int64Counter
	verified metric.Int64Histogram
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}

	var err error
	if t.runs, err = meter.Int64Counter("audittrail.verify.runs",
		metric.WithDescription("Verification runs by scope and status")); err != nil {
		t.runs = noop.Int64Counter{}
	}
	if t.breaks, err = meter.Int64Counter("audittrail.verify.breaks",
		metric.WithDescription("Chain breaks by reason")); err != nil {
		t.breaks = noop.Int64Counter{}
	}
	if t.verified, err = meter.Int64Histogram("audittrail.verify.entries",
		metric.WithDescription("Entries confirmed per run")); err != nil {
		t.verified = noop.Int64Histogram{}
	}
	return t
}

func (t *telemetry) start(ctx context.Context, run storage.VerificationRun) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "audittrail.verify",
		trace.WithAttributes(
			attribute.String("audittrail.run_id", run.ID),
			attribute.String("audittrail.scope", string(run.Scope)),
			attribute.String("audittrail.actor_id", run.ActorID),
			attribute.String("audittrail.trigger", run.SourceTrigger),
		),
	)
}

func (t *telemetry) end(ctx context.Context, span trace.Span, run storage.VerificationRun, recordErr error) {
	scope := attribute.String("scope", string(run.Scope))
	status := attribute.String("status", string(run.Status))
	t.runs.Add(ctx, 1, metric.WithAttributes(scope, status))
	t.verified.Record(ctx, run.VerifiedEntries, metric.WithAttributes(scope))
	if run.Status == storage.RunBroken {
		t.breaks.Add(ctx, 1, metric.WithAttributes(scope, attribute.String("reason", run.BreakReason)))
	}

	span.SetAttributes(
		attribute.String("audittrail.status", string(run.Status)),
		attribute.Int64("audittrail.total_entries", run.TotalEntries),
		attribute.Int64("audittrail.verified_entries", run.VerifiedEntries),
	)
	if run.BrokenAtEntryID != nil {
		span.SetAttributes(
			attribute.Int64("audittrail.broken_at_entry_id", *run.BrokenAtEntryID),
			attribute.String("audittrail.break_reason", run.BreakReason),
		)
	}
	switch {
	case recordErr != nil:
		span.RecordError(recordErr)
		span.SetStatus(codes.Error, "record run failed")
	case run.Status == storage.RunError:
		span.SetStatus(codes.Error, run.Error)
	}
	span.End()
}
