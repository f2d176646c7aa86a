package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

const meterName = "library"

// Metrics holds the lending instruments. A nil *Metrics records nothing.
type Metrics struct {
	operations    metric.Int64Counter
	finesAssessed metric.Float64Counter
	sweepRuns     metric.Int64Counter
	sweepAffected metric.Int64Counter
	notifications metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	operations, err := meter.Int64Counter("library.circulation.operations",
		metric.WithDescription("Lifecycle operations by operation and outcome"))
	if err != nil {
		return nil, err
	}
	fines, err := meter.Float64Counter("library.circulation.fines_assessed",
		metric.WithDescription("Sum of fines assessed on return or loss"))
	if err != nil {
		return nil, err
	}
	sweepRuns, err := meter.Int64Counter("library.sweep.runs",
		metric.WithDescription("Scheduled sweep runs by job and outcome"))
	if err != nil {
		return nil, err
	}
	sweepAffected, err := meter.Int64Counter("library.sweep.affected",
		metric.WithDescription("Transactions touched by sweep jobs"))
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("library.notifications",
		metric.WithDescription("Notifications by kind and outcome"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operations:    operations,
		finesAssessed: fines,
		sweepRuns:     sweepRuns,
		sweepAffected: sweepAffected,
		notifications: notifications,
	}, nil
}

// Outcome labels an error for metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func (m *Metrics) RecordOperation(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", Outcome(err)),
	))
}

func (m *Metrics) RecordFine(ctx context.Context, reason string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.finesAssessed.Add(ctx, amount, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordSweep(ctx context.Context, job string, affected int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job))
	m.sweepRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", Outcome(err)),
	))
	if affected > 0 {
		m.sweepAffected.Add(ctx, affected, attrs)
	}
}

func (m *Metrics) RecordNotification(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
