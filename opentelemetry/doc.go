// Package opentelemetry provides OpenTelemetry instrumentation, in the form
// of traces and metrics, for event.Store implementations and checkpoint.Store
// instances.
package opentelemetry
