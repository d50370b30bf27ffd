package topicview

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/topicview/go-topicview/tele"
)

// Telemetry is the struct that holds a reference to all metrics and the tracer used
// by the pipeline and its components.
// Make sure to also register the [tele.MeterProviderOpts] with your custom or the global
// [metric.MeterProvider].
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Attributes identify the pipeline instance in all recorded metrics.
	Attributes []attribute.KeyValue

	Events       metric.Int64Counter
	DecodeErrors metric.Int64Counter
	Dropped      metric.Int64Counter
	TreeNodes    metric.Int64ObservableGauge

	// nodes is updated by the event loop and read asynchronously by TreeNodes
	nodes atomic.Int64
}

// NewTelemetry initializes a Telemetry struct with the given meter and tracer providers.
func NewTelemetry(instanceID string, meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) (*Telemetry, error) {
	t := &Telemetry{
		Tracer:     tracerProvider.Tracer(tele.TracerName),
		Meter:      meterProvider.Meter(tele.MeterName),
		Attributes: []attribute.KeyValue{tele.AttrInstanceID(instanceID)},
	}

	var err error
	t.Events, err = t.Meter.Int64Counter(
		"pipeline_events",
		metric.WithDescription("Total number of events merged into the tree"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_events counter: %w", err)
	}

	t.DecodeErrors, err = t.Meter.Int64Counter(
		"pipeline_decode_errors",
		metric.WithDescription("Total number of events whose payload could not be decoded"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_decode_errors counter: %w", err)
	}

	t.Dropped, err = t.Meter.Int64Counter(
		"pipeline_dropped_events",
		metric.WithDescription("Total number of events dropped because their source was detached or the pipeline closed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_dropped_events counter: %w", err)
	}

	t.TreeNodes, err = t.Meter.Int64ObservableGauge(
		"pipeline_tree_nodes",
		metric.WithDescription("Number of nodes in the tree"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(t.nodes.Load(), metric.WithAttributes(t.Attributes...))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_tree_nodes gauge: %w", err)
	}

	return t, nil
}

// attrs returns the instance attributes together with those attached to ctx.
func (t *Telemetry) attrs(ctx context.Context) metric.MeasurementOption {
	return metric.WithAttributeSet(tele.FromContext(ctx, t.Attributes...))
}
