package tele

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	motel "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// ctxKey is an unexported type alias for the value of a context key. This is
// used to attach metric values to a context and get them out of a context.
type ctxKey struct{}

const (
	MeterName  = "github.com/topicview/go-topicview"
	TracerName = "go-topicview"
)

// attrsCtxKey is the actual context key value that's used as a key for
// metric values that are attached to a context.
var attrsCtxKey = ctxKey{}

// MeterProviderOpts is a method that returns metric options. Make sure
// to register these options to your [metric.MeterProvider]. Unfortunately,
// attaching these options to an already existing [metric.MeterProvider]
// is not possible. Therefore, you can't just register the options with the
// global MeterProvider that is returned by [otel.GetMeterProvider].
// One example to register a new [metric.MeterProvider] would be:
//
//	provider := metric.NewMeterProvider(tele.MeterProviderOpts...) // <-- also add your options, like a metric reader
//	otel.SetMeterProvider(provider)
//
// The options only define histogram boundaries for the flush cost and
// delay instruments, which are recorded in milliseconds.
var MeterProviderOpts = []motel.Option{
	motel.WithView(motel.NewView(
		motel.Instrument{Name: "*_cost", Scope: instrumentation.Scope{Name: MeterName}},
		motel.Stream{
			Aggregation: motel.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.1, 0.5, 1, 2, 4, 8, 16, 33, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		},
	)),
	motel.WithView(motel.NewView(
		motel.Instrument{Name: "*_delay", Scope: instrumentation.Scope{Name: MeterName}},
		motel.Stream{
			Aggregation: motel.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0, 10, 50, 100, 200, 300, 500, 750, 1000, 2000, 5000, 10000, 30000},
			},
		},
	)),
}

// NoopTracer returns a tracer that does not record anything.
func NoopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("")
}

// NoopMeter returns a meter whose instruments discard all measurements.
func NoopMeter() metric.Meter {
	return noop.NewMeterProvider().Meter("")
}

// AttrInstanceID identifies a pipeline instance. Useful for differentiating
// between several pipelines that run in the same process.
func AttrInstanceID(instanceID string) attribute.KeyValue {
	return attribute.String("instance_id", instanceID)
}

// AttrSourceKey records the subscription key an event was received under.
func AttrSourceKey(key string) attribute.KeyValue {
	return attribute.String("source_key", key)
}

func AttrPath(path string) attribute.KeyValue {
	return attribute.String("path", path)
}

// AttrInEvent creates an attribute that records the type of an event
// passed into a state machine.
func AttrInEvent(ev any) attribute.KeyValue {
	return attribute.String("in_event", fmt.Sprintf("%T", ev))
}

// AttrOutEvent creates an attribute that records the type of the state
// returned by a state machine.
func AttrOutEvent(st any) attribute.KeyValue {
	return attribute.String("out_event", fmt.Sprintf("%T", st))
}

// WithAttributes is a function that attaches the provided attributes to the
// given context. The given attributes will overwrite any already existing ones.
func WithAttributes(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	set := attribute.NewSet(attrs...)
	val := ctx.Value(attrsCtxKey)
	if val != nil {
		existing, ok := val.(attribute.Set)
		if ok {
			set = attribute.NewSet(append(existing.ToSlice(), attrs...)...)
		}
	}
	return context.WithValue(ctx, attrsCtxKey, set)
}

// FromContext returns the attributes that were previously associated with the
// given context via [WithAttributes] plus any attributes that are also passed
// into this function. The given attributes will take precedence over any
// attributes stored in the context.
func FromContext(ctx context.Context, attrs ...attribute.KeyValue) attribute.Set {
	val := ctx.Value(attrsCtxKey)
	if val == nil {
		return attribute.NewSet(attrs...)
	}

	set, ok := val.(attribute.Set)
	if !ok {
		return attribute.NewSet(attrs...)
	}

	return attribute.NewSet(append(set.ToSlice(), attrs...)...)
}
