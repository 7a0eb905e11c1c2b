package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for steward metrics.
const meterName = "github.com/quorumhq/steward"

// Metrics returns middleware that records per-message handling metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - steward.event.duration (Float64Histogram): handling time in seconds,
//     with attributes: message, status ("ok" or "error")
//   - steward.event.handled (Int64Counter): total handled messages,
//     with attributes: message, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"steward.event.duration",
		metric.WithDescription("Duration of protocol event handling in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	handled, hErr := meter.Int64Counter(
		"steward.event.handled",
		metric.WithDescription("Total number of protocol events handled"),
		metric.WithUnit("{event}"),
	)
	_ = hErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, msg any, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("message", Kind(msg)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		handled.Add(ctx, 1, attrs)

		return err
	}
}
