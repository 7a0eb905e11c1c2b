// Package observability provides an OpenTelemetry-based metrics extension
// for Steward. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job submission, slot grants, attempt starts,
// completion, retry, suspect, fault, cancel, and reschedule events.
//
// For per-message tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
