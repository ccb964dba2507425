package monitoring

import (
	"context"
	"fmt"
	"time"

	monitoringmetrics "github.com/examforge/examforge/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives engine events worth counting.
type Recorder interface {
	ProviderAttempt(ctx context.Context, provider, outcome string)
	FallbackInvoked(ctx context.Context, outcome string)
	UnitCompleted(ctx context.Context, kind, outcome string, duration time.Duration)
	TaskCompleted(ctx context.Context, kind, status string, duration time.Duration)
}

// Metrics implements Recorder with OpenTelemetry instruments.
type Metrics struct {
	attempts     metric.Int64Counter
	fallbacks    metric.Int64Counter
	units        metric.Int64Counter
	tasks        metric.Int64Counter
	unitDuration metric.Float64Histogram
	taskDuration metric.Float64Histogram
}

// Nop returns a Recorder that discards everything.
func Nop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	if err != nil {
		panic(fmt.Sprintf("monitoring: noop metrics: %v", err))
	}
	return m
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		target      *metric.Int64Counter
		subsystem   string
		name        string
		description string
	}{
		{&m.attempts, "provider", "attempts_total", "Provider calls by provider and outcome"},
		{&m.fallbacks, "provider", "fallback_total", "Fallback provider invocations by outcome"},
		{&m.units, "unit", "completed_total", "Generation units finished by kind and outcome"},
		{&m.tasks, "task", "completed_total", "Tasks reaching a terminal state by kind and status"},
	}
	for _, def := range counters {
		c, err := meter.Int64Counter(
			monitoringmetrics.MetricNameWithSubsystem(def.subsystem, def.name),
			metric.WithDescription(def.description),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s_%s counter: %w", def.subsystem, def.name, err)
		}
		*def.target = c
	}
	var err error
	m.unitDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("unit", "duration_seconds"),
		metric.WithDescription("Wall time of one unit including retries and fallback"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.UnitDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit duration histogram: %w", err)
	}
	m.taskDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("task", "duration_seconds"),
		metric.WithDescription("Wall time from task start to terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.TaskDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) ProviderAttempt(ctx context.Context, provider, outcome string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) FallbackInvoked(ctx context.Context, outcome string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) UnitCompleted(ctx context.Context, kind, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("content_kind", kind), attribute.String("outcome", outcome))
	m.units.Add(ctx, 1, attrs)
	m.unitDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) TaskCompleted(ctx context.Context, kind, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status))
	m.tasks.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}
