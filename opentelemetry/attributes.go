package opentelemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys used by the instrumentation in this package.
const (
	ErrorKey                      attribute.Key = "error"
	EventStreamIDKey              attribute.Key = "event_stream.id"
	EventStreamExpectedVersionKey attribute.Key = "event_stream.expected_version"
	EventStreamNewVersionKey      attribute.Key = "event_stream.new_version"
	EventStreamSelectFromKey      attribute.Key = "event_stream.select_from_version"
	EventStreamMaxCountKey        attribute.Key = "event_stream.max_count"
	EventStoreNumRecordsKey       attribute.Key = "event_store.num_records"
	CheckpointBackendKey          attribute.Key = "checkpoint.backend"
)
