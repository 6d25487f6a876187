package opentelemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

var _ event.Store = &InstrumentedEventStore{}

// InstrumentedEventStore is a wrapper type over an event.Store
// instance to provide instrumentation, in the form of metrics and traces
// using OpenTelemetry.
//
// Use NewInstrumentedEventStore for constructing a new instance of this type.
type InstrumentedEventStore struct {
	eventStore event.Store
	config     config

	tracer           trace.Tracer
	appendDuration   metric.Int64Histogram
	readDuration     metric.Int64Histogram
	metadataDuration metric.Int64Histogram
}

func (ies *InstrumentedEventStore) registerMetrics(meter metric.Meter) error {
	var err error

	if ies.appendDuration, err = meter.Int64Histogram(
		"checkpoint.event_store.append.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Store.Append operations performed."),
	); err != nil {
		return fmt.Errorf("opentelemetry.InstrumentedEventStore: failed to register metric, %w", err)
	}

	if ies.readDuration, err = meter.Int64Histogram(
		"checkpoint.event_store.read_backward.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Store.ReadBackward operations performed."),
	); err != nil {
		return fmt.Errorf("opentelemetry.InstrumentedEventStore: failed to register metric, %w", err)
	}

	if ies.metadataDuration, err = meter.Int64Histogram(
		"checkpoint.event_store.metadata.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Store stream metadata operations performed."),
	); err != nil {
		return fmt.Errorf("opentelemetry.InstrumentedEventStore: failed to register metric, %w", err)
	}

	return nil
}

// NewInstrumentedEventStore returns a wrapper type to provide OpenTelemetry
// instrumentation (metrics and traces) around an event.Store.
//
// An error is returned if metrics could not be registered.
func NewInstrumentedEventStore(eventStore event.Store, options ...Option) (*InstrumentedEventStore, error) {
	cfg := newConfig(options...)

	ies := &InstrumentedEventStore{
		eventStore: eventStore,
		config:     cfg,
		tracer:     cfg.tracer(),
	}

	if err := ies.registerMetrics(cfg.meter()); err != nil {
		return nil, err
	}

	return ies, nil
}

func (ies *InstrumentedEventStore) observe(
	ctx context.Context,
	histogram metric.Int64Histogram,
	attributes []attribute.KeyValue,
	span trace.Span,
	start time.Time,
	err error,
) {
	histogram.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(
		append(attributes, ErrorKey.Bool(err != nil))...,
	))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// Append calls the wrapped event.Store.Append method and records metrics and traces around it.
func (ies *InstrumentedEventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	records ...event.Record,
) (newVersion version.Version, err error) {
	expectedVersion := int64(-1)
	if v, ok := expected.(version.CheckExact); ok {
		expectedVersion = int64(v)
	}

	attributes := ies.config.with(EventStreamIDKey.String(string(id)))

	ctx, span := ies.tracer.Start(ctx, "event.Store.Append", trace.WithAttributes(ies.config.with(
		EventStreamIDKey.String(string(id)),
		EventStreamExpectedVersionKey.Int64(expectedVersion),
		EventStoreNumRecordsKey.Int(len(records)),
	)...))

	start := time.Now()
	defer func() { ies.observe(ctx, ies.appendDuration, attributes, span, start, err) }()

	newVersion, err = ies.eventStore.Append(ctx, id, expected, records...)
	if err == nil {
		span.SetAttributes(EventStreamNewVersionKey.Int64(int64(newVersion)))
	}

	return newVersion, err
}

// ReadBackward calls the wrapped event.Store.ReadBackward method and records metrics and traces around it.
func (ies *InstrumentedEventStore) ReadBackward(
	ctx context.Context,
	id event.StreamID,
	selector version.Selector,
	maxCount int,
) (records []event.Persisted, err error) {
	attributes := ies.config.with(EventStreamIDKey.String(string(id)))

	ctx, span := ies.tracer.Start(ctx, "event.Store.ReadBackward", trace.WithAttributes(ies.config.with(
		EventStreamIDKey.String(string(id)),
		EventStreamSelectFromKey.Int64(selector.Bound()),
		EventStreamMaxCountKey.Int(maxCount),
	)...))

	start := time.Now()
	defer func() { ies.observe(ctx, ies.readDuration, attributes, span, start, err) }()

	records, err = ies.eventStore.ReadBackward(ctx, id, selector, maxCount)
	if err == nil {
		span.SetAttributes(EventStoreNumRecordsKey.Int(len(records)))
	}

	return records, err
}

// SetStreamMetadata calls the wrapped event.Store.SetStreamMetadata method
// and records metrics and traces around it.
func (ies *InstrumentedEventStore) SetStreamMetadata(
	ctx context.Context,
	id event.StreamID,
	metadata event.StreamMetadata,
) (err error) {
	attributes := ies.config.with(EventStreamIDKey.String(string(id)))

	ctx, span := ies.tracer.Start(ctx, "event.Store.SetStreamMetadata", trace.WithAttributes(ies.config.with(
		EventStreamIDKey.String(string(id)),
		EventStreamMaxCountKey.Int64(int64(metadata.MaxCount)),
	)...))

	start := time.Now()
	defer func() { ies.observe(ctx, ies.metadataDuration, attributes, span, start, err) }()

	return ies.eventStore.SetStreamMetadata(ctx, id, metadata)
}

// StreamMetadata calls the wrapped event.Store.StreamMetadata method
// and records metrics and traces around it.
func (ies *InstrumentedEventStore) StreamMetadata(
	ctx context.Context,
	id event.StreamID,
) (metadata event.StreamMetadata, err error) {
	attributes := ies.config.with(EventStreamIDKey.String(string(id)))

	ctx, span := ies.tracer.Start(ctx, "event.Store.StreamMetadata", trace.WithAttributes(ies.config.with(
		EventStreamIDKey.String(string(id)),
	)...))

	start := time.Now()
	defer func() { ies.observe(ctx, ies.metadataDuration, attributes, span, start, err) }()

	return ies.eventStore.StreamMetadata(ctx, id)
}
