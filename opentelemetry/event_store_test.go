package opentelemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/integrationtest"
	"github.com/get-eventually/go-checkpoint/opentelemetry"
	"github.com/get-eventually/go-checkpoint/version"
)

func newProviders() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider, *tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	recorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return reader, meterProvider, recorder, tracerProvider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	metrics := make(map[string]metricdata.Aggregation)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			metrics[m.Name] = m.Data
		}
	}

	return metrics
}

func TestInstrumentedEventStore(t *testing.T) {
	t.Run("passes the event.Store conformance suite", func(t *testing.T) {
		_, meterProvider, _, tracerProvider := newProviders()

		eventStore, err := opentelemetry.NewInstrumentedEventStore(
			event.NewInMemoryStore(),
			opentelemetry.WithMeterProvider(meterProvider),
			opentelemetry.WithTracerProvider(tracerProvider),
		)
		require.NoError(t, err)

		integrationtest.EventStore(eventStore)(t)
	})

	t.Run("records spans and durations for every call", func(t *testing.T) {
		ctx := context.Background()
		reader, meterProvider, recorder, tracerProvider := newProviders()
		backend := opentelemetry.CheckpointBackendKey.String("memory")

		eventStore, err := opentelemetry.NewInstrumentedEventStore(
			event.NewInMemoryStore(),
			opentelemetry.WithMeterProvider(meterProvider),
			opentelemetry.WithTracerProvider(tracerProvider),
			opentelemetry.WithAttributes(backend),
		)
		require.NoError(t, err)

		id := event.StreamID("checkpoint-instrumented")

		require.NoError(t, eventStore.SetStreamMetadata(ctx, id, event.StreamMetadata{MaxCount: 1}))

		_, err = eventStore.Append(ctx, id, version.Any, event.NewRecord("Checkpoint", []byte(`{}`)))
		require.NoError(t, err)

		_, err = eventStore.Append(ctx, id, version.CheckExact(0), event.NewRecord("Checkpoint", []byte(`{}`)))
		require.Error(t, err)

		_, err = eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 1)
		require.NoError(t, err)

		_, err = eventStore.StreamMetadata(ctx, id)
		require.NoError(t, err)

		spans := recorder.Ended()
		names := make([]string, 0, len(spans))

		for _, span := range spans {
			names = append(names, span.Name())
		}

		assert.Equal(t, []string{
			"event.Store.SetStreamMetadata",
			"event.Store.Append",
			"event.Store.Append",
			"event.Store.ReadBackward",
			"event.Store.StreamMetadata",
		}, names)

		assert.Len(t, spans[2].Events(), 1, "failed append should record the error")

		for _, span := range spans {
			assert.Contains(t, span.Attributes(), backend)
		}

		metrics := collect(t, reader)

		appends, ok := metrics["checkpoint.event_store.append.duration"].(metricdata.Histogram[int64])
		require.True(t, ok)
		assert.Len(t, appends.DataPoints, 2, "one data point per error attribute value")

		var count uint64
		for _, dp := range appends.DataPoints {
			count += dp.Count
		}

		assert.Equal(t, uint64(2), count)

		metadata, ok := metrics["checkpoint.event_store.metadata.duration"].(metricdata.Histogram[int64])
		require.True(t, ok)
		require.Len(t, metadata.DataPoints, 1)
		assert.Equal(t, uint64(2), metadata.DataPoints[0].Count)

		value, ok := metadata.DataPoints[0].Attributes.Value(opentelemetry.CheckpointBackendKey)
		require.True(t, ok)
		assert.Equal(t, "memory", value.AsString())
	})
}
