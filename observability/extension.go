package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/quorumhq/steward/ext"
	"github.com/quorumhq/steward/id"
)

// meterName is the instrumentation scope name for steward lifecycle metrics.
const meterName = "github.com/quorumhq/steward/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobSubmitted   = (*MetricsExtension)(nil)
	_ ext.JobWaiting     = (*MetricsExtension)(nil)
	_ ext.SlotGranted    = (*MetricsExtension)(nil)
	_ ext.AttemptStarted = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobSuspect     = (*MetricsExtension)(nil)
	_ ext.JobFaulted     = (*MetricsExtension)(nil)
	_ ext.JobCanceled    = (*MetricsExtension)(nil)
	_ ext.JobRescheduled = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as a Steward extension to automatically track submission
// rates, slot grants, attempt starts, completion counts, retry counts,
// suspect reports, fault rates, cancellations, and recurrence reschedules.
type MetricsExtension struct {
	jobSubmitted   metric.Int64Counter
	jobWaiting     metric.Int64Counter
	slotGranted    metric.Int64Counter
	attemptStarted metric.Int64Counter
	jobCompleted   metric.Int64Counter
	jobRetried     metric.Int64Counter
	jobSuspect     metric.Int64Counter
	jobFaulted     metric.Int64Counter
	jobCanceled    metric.Int64Counter
	jobRescheduled metric.Int64Counter

	jobDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// Instrument creation errors leave noop instruments behind, so the
	// extension degrades gracefully rather than failing registration.
	m.jobSubmitted, _ = meter.Int64Counter("steward.job.submitted",
		metric.WithDescription("Total jobs submitted"), metric.WithUnit("{job}"))
	m.jobWaiting, _ = meter.Int64Counter("steward.job.waiting",
		metric.WithDescription("Total slot wait entries"), metric.WithUnit("{job}"))
	m.slotGranted, _ = meter.Int64Counter("steward.slot.granted",
		metric.WithDescription("Total concurrency slots granted"), metric.WithUnit("{slot}"))
	m.attemptStarted, _ = meter.Int64Counter("steward.attempt.started",
		metric.WithDescription("Total job attempts started"), metric.WithUnit("{attempt}"))
	m.jobCompleted, _ = meter.Int64Counter("steward.job.completed",
		metric.WithDescription("Total jobs completed"), metric.WithUnit("{job}"))
	m.jobRetried, _ = meter.Int64Counter("steward.job.retried",
		metric.WithDescription("Total job retries scheduled"), metric.WithUnit("{job}"))
	m.jobSuspect, _ = meter.Int64Counter("steward.job.suspect",
		metric.WithDescription("Total suspect attempt reports"), metric.WithUnit("{attempt}"))
	m.jobFaulted, _ = meter.Int64Counter("steward.job.faulted",
		metric.WithDescription("Total jobs faulted terminally"), metric.WithUnit("{job}"))
	m.jobCanceled, _ = meter.Int64Counter("steward.job.canceled",
		metric.WithDescription("Total jobs canceled"), metric.WithUnit("{job}"))
	m.jobRescheduled, _ = meter.Int64Counter("steward.job.rescheduled",
		metric.WithDescription("Total recurring job reschedules"), metric.WithUnit("{job}"))
	m.jobDuration, _ = meter.Float64Histogram("steward.job.duration",
		metric.WithDescription("End-to-end duration of completed jobs in seconds"),
		metric.WithUnit("s"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, _ id.JobID, _ string) error {
	m.jobSubmitted.Add(ctx, 1)
	return nil
}

// OnJobWaiting implements ext.JobWaiting.
func (m *MetricsExtension) OnJobWaiting(ctx context.Context, _ id.JobID, _ string) error {
	m.jobWaiting.Add(ctx, 1)
	return nil
}

// OnSlotGranted implements ext.SlotGranted.
func (m *MetricsExtension) OnSlotGranted(ctx context.Context, _ id.JobID, _, _ string) error {
	m.slotGranted.Add(ctx, 1)
	return nil
}

// OnAttemptStarted implements ext.AttemptStarted.
func (m *MetricsExtension) OnAttemptStarted(ctx context.Context, _ id.JobID, _ id.AttemptID, _ int) error {
	m.attemptStarted.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ id.JobID, _ string, elapsed time.Duration) error {
	m.jobCompleted.Add(ctx, 1)
	m.jobDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ id.JobID, _ int, _ time.Duration) error {
	m.jobRetried.Add(ctx, 1)
	return nil
}

// OnJobSuspect implements ext.JobSuspect.
func (m *MetricsExtension) OnJobSuspect(ctx context.Context, _ id.JobID, _ id.AttemptID) error {
	m.jobSuspect.Add(ctx, 1)
	return nil
}

// OnJobFaulted implements ext.JobFaulted.
func (m *MetricsExtension) OnJobFaulted(ctx context.Context, _ id.JobID, _, _ string) error {
	m.jobFaulted.Add(ctx, 1)
	return nil
}

// OnJobCanceled implements ext.JobCanceled.
func (m *MetricsExtension) OnJobCanceled(ctx context.Context, _ id.JobID) error {
	m.jobCanceled.Add(ctx, 1)
	return nil
}

// OnJobRescheduled implements ext.JobRescheduled.
func (m *MetricsExtension) OnJobRescheduled(ctx context.Context, _ id.JobID, _ time.Time) error {
	m.jobRescheduled.Add(ctx, 1)
	return nil
}
