// Package metrics instruments the OARS platform's RED counters
// (throughput, errors, duration) with OpenTelemetry, the way
// core/pkg/observability/observability.go instruments HELM. That package
// wires a full SDK (OTLP exporters, sdktrace/sdkmetric providers,
// semconv resource attributes); this module only carries the bare
// go.opentelemetry.io/otel/{metric,trace} API packages, so Recorder
// obtains its instruments from otel.Meter's global, provider-less Meter
// instead of constructing an exporter pipeline. A deployment that wants
// the counters to actually leave the process registers an SDK
// MeterProvider with otel.SetMeterProvider during startup, outside this
// package — Recorder's instruments pick that up automatically since they
// are resolved against the global otel API, not a provider Recorder
// owns.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic-convention-style attribute keys for the OARS domain, the way
// core/pkg/observability/helm.go names its own.
var (
	AttrTenantID   = attribute.Key("oars.tenant.id")
	AttrActionKind = attribute.Key("oars.action.kind")
	AttrState      = attribute.Key("oars.action.state")
	AttrStageID    = attribute.Key("oars.approval.stage_id")
	AttrSiemKind   = attribute.Key("oars.siem.target_kind")
	AttrSiemTarget = attribute.Key("oars.siem.target_id")
)

// Recorder holds the RED instruments for the action pipeline, approval
// escalation scanning, and SIEM delivery. It is safe for concurrent use
// (otel instruments are) and nil-safe at the call site: every component
// that takes a *Recorder accepts nil and skips instrumentation rather
// than requiring one be wired.
type Recorder struct {
	actionThroughput metric.Int64Counter
	actionDuration   metric.Float64Histogram

	approvalEscalations metric.Int64Counter

	siemDeliveryDuration metric.Float64Histogram
	siemDeliveryErrors   metric.Int64Counter
}

// NewRecorder builds a Recorder from the global otel Meter named for this
// module. Instruments resolve against whatever MeterProvider is globally
// registered at call time (a no-op one if none is), matching the
// teacher's own otel.Meter(...) pattern in Provider.New.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("github.com/MokiMeow/OARS-sub000")

	actionThroughput, err := meter.Int64Counter("oars.action.throughput",
		metric.WithDescription("Actions reaching a terminal state, by outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}
	actionDuration, err := meter.Float64Histogram("oars.action.duration",
		metric.WithDescription("Time from action submission to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	approvalEscalations, err := meter.Int64Counter("oars.approval.sla_breaches",
		metric.WithDescription("Approval stages escalated for missing their SLA deadline"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return nil, err
	}
	siemDeliveryDuration, err := meter.Float64Histogram("oars.siem.delivery.duration",
		metric.WithDescription("Time to deliver a security event to one SIEM target"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	siemDeliveryErrors, err := meter.Int64Counter("oars.siem.delivery.errors",
		metric.WithDescription("Failed SIEM delivery attempts, by target"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		actionThroughput:     actionThroughput,
		actionDuration:       actionDuration,
		approvalEscalations:  approvalEscalations,
		siemDeliveryDuration: siemDeliveryDuration,
		siemDeliveryErrors:   siemDeliveryErrors,
	}, nil
}

// RecordActionOutcome records one Action reaching a terminal state
// (denied, quarantined, executed, failed), and how long it took from
// submission.
func (r *Recorder) RecordActionOutcome(ctx context.Context, tenantID, actionKind, state string, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTenantID.String(tenantID), AttrActionKind.String(actionKind), AttrState.String(state))
	r.actionThroughput.Add(ctx, 1, attrs)
	r.actionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordApprovalEscalation records one approval stage crossing its SLA
// deadline and being escalated.
func (r *Recorder) RecordApprovalEscalation(ctx context.Context, tenantID, stageID string) {
	if r == nil {
		return
	}
	r.approvalEscalations.Add(ctx, 1, metric.WithAttributes(AttrTenantID.String(tenantID), AttrStageID.String(stageID)))
}

// RecordSiemDelivery records the outcome and latency of one delivery
// attempt against a single target.
func (r *Recorder) RecordSiemDelivery(ctx context.Context, targetID, targetKind string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(AttrSiemTarget.String(targetID), AttrSiemKind.String(targetKind))
	r.siemDeliveryDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		r.siemDeliveryErrors.Add(ctx, 1, attrs)
	}
}
