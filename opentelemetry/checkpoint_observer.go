package opentelemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/get-eventually/go-checkpoint/checkpoint"
	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/position"
)

var _ checkpoint.Observer = &CheckpointObserver{}

// CheckpointObserver is a checkpoint.Observer that records the outcome
// of checkpoint flushes and reads as OpenTelemetry metrics.
//
// Use NewCheckpointObserver to create a new instance, and pass it
// to checkpoint.New using checkpoint.WithObserver.
type CheckpointObserver struct {
	config   config
	streamID attribute.KeyValue

	flushes        metric.Int64Counter
	reads          metric.Int64Counter
	commitPosition metric.Int64Gauge
}

// NewCheckpointObserver returns a new CheckpointObserver for the checkpoint
// stream specified, registering its instruments on the configured metric.MeterProvider.
func NewCheckpointObserver(streamID event.StreamID, options ...Option) (*CheckpointObserver, error) {
	cfg := newConfig(options...)
	meter := cfg.meter()

	co := &CheckpointObserver{
		config:   cfg,
		streamID: EventStreamIDKey.String(string(streamID)),
	}

	var err error

	if co.flushes, err = meter.Int64Counter(
		"checkpoint.flushes",
		metric.WithDescription("Number of checkpoint write-backs attempted."),
	); err != nil {
		return nil, fmt.Errorf("opentelemetry.CheckpointObserver: failed to register metric, %w", err)
	}

	if co.reads, err = meter.Int64Counter(
		"checkpoint.reads",
		metric.WithDescription("Number of checkpoint reads from the backing Event Store."),
	); err != nil {
		return nil, fmt.Errorf("opentelemetry.CheckpointObserver: failed to register metric, %w", err)
	}

	if co.commitPosition, err = meter.Int64Gauge(
		"checkpoint.persisted.commit_position",
		metric.WithDescription("Commit position of the last checkpoint persisted successfully."),
	); err != nil {
		return nil, fmt.Errorf("opentelemetry.CheckpointObserver: failed to register metric, %w", err)
	}

	return co, nil
}

// FlushCompleted implements the checkpoint.Observer interface.
func (co *CheckpointObserver) FlushCompleted(ctx context.Context, p position.Position, err error) {
	co.flushes.Add(ctx, 1, metric.WithAttributes(co.config.with(co.streamID, ErrorKey.Bool(err != nil))...))

	if err == nil {
		co.commitPosition.Record(ctx, int64(p.Commit), metric.WithAttributes(co.config.with(co.streamID)...)) //nolint:gosec // Positions fit.
	}
}

// ReadCompleted implements the checkpoint.Observer interface.
func (co *CheckpointObserver) ReadCompleted(ctx context.Context, _ position.Position, err error) {
	co.reads.Add(ctx, 1, metric.WithAttributes(co.config.with(co.streamID, ErrorKey.Bool(err != nil))...))
}
