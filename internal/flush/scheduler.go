package flush

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/topicview/go-topicview/errs"
	"github.com/topicview/go-topicview/movavg"
	"github.com/topicview/go-topicview/tele"
)

// The Scheduler state machine decides when accumulated changes are flushed to
// a consumer.
//
// The state machine is notified of every change via the [EventSchedulerNotify]
// event which carries the latest state. If no flush is pending, the scheduler
// computes a delay and returns [StateSchedulerArmTimer]; the caller must arm a
// timer and report its expiry with [EventSchedulerTimerFired]. While a flush is
// pending, further notifications only replace the held state, so a burst of
// changes results in a single flush of the most recent state.
//
// When the timer fires the scheduler returns to idle and emits
// [StateSchedulerFlush] with the held state. The caller delivers it and reports
// the time the consumer took with [EventSchedulerFlushed]. These costs feed a
// moving average; the delay before the next flush is the forecast cost times
// [Config.Amplification], but at least [Config.MinInterval], minus the time
// since the last flush. A slow consumer therefore gets flushed less often and a
// fast one approaches the minimum interval.
//
// A delivery error does not change the behaviour of the scheduler beyond being
// counted. The [EventSchedulerCancel] event drops a pending flush.
type Scheduler[S any] struct {
	// cfg is a copy of the optional configuration supplied to the Scheduler
	cfg Config

	// est forecasts the cost of the next flush. It is owned by this scheduler.
	est *movavg.Estimator

	// pending is true between arming the timer and the timer firing
	pending bool

	// latest is the most recent state passed with a notify event
	latest S

	// lastFlush is the time the last flush was started
	lastFlush time.Time

	// counterNotifies is a counter that tracks the number of notify events received.
	counterNotifies metric.Int64Counter

	// counterCoalesced is a counter that tracks the number of notify events that were merged into a pending flush.
	counterCoalesced metric.Int64Counter

	// counterDeliveries is a counter that tracks the number of completed flushes.
	counterDeliveries metric.Int64Counter

	// counterDeliveryErrors is a counter that tracks the number of flushes the consumer failed to handle.
	counterDeliveryErrors metric.Int64Counter

	// histogramCost records the time the consumer spent per flush in milliseconds.
	histogramCost metric.Float64Histogram

	// histogramDelay records the computed delays before a flush in milliseconds.
	histogramDelay metric.Float64Histogram

	// gaugeForecast is a gauge that reports the latest cost forecast in milliseconds.
	gaugeForecast metric.Float64ObservableGauge

	// forecastBits holds the last forecast as float64 bits so that gaugeForecast can read it asynchronously
	forecastBits atomic.Uint64
}

// Config specifies optional configuration for a Scheduler
type Config struct {
	Window        time.Duration // the time window of the cost moving average
	Amplification float64       // the factor applied to the forecast cost to obtain the flush interval
	MinInterval   time.Duration // the minimum interval between two flushes
	MaxInterval   time.Duration // the maximum interval between two flushes, zero means unbounded
	Clock         clock.Clock   // a clock that may be replaced by a mock when testing

	// Tracer is the tracer that should be used to trace execution.
	Tracer trace.Tracer

	// Meter is the meter that should be used to record metrics.
	Meter metric.Meter

	// Attributes are added to every metric recorded by the scheduler.
	Attributes []attribute.KeyValue
}

// Validate checks the configuration options and returns an error if any have invalid values.
func (cfg *Config) Validate() error {
	if cfg.Clock == nil {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("clock must not be nil"),
		}
	}

	if cfg.Tracer == nil {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("tracer must not be nil"),
		}
	}

	if cfg.Meter == nil {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("meter must not be nil"),
		}
	}

	if cfg.Window < 1 {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("window must be greater than zero"),
		}
	}

	if cfg.Amplification < 0 || math.IsNaN(cfg.Amplification) || math.IsInf(cfg.Amplification, 0) {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("amplification must be a finite non-negative number"),
		}
	}

	if cfg.MinInterval < 0 {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("minimum interval must not be negative"),
		}
	}

	if cfg.MaxInterval < 0 {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("maximum interval must not be negative"),
		}
	}

	if cfg.MaxInterval != 0 && cfg.MaxInterval < cfg.MinInterval {
		return &errs.ConfigurationError{
			Component: "SchedulerConfig",
			Err:       fmt.Errorf("maximum interval must not be less than minimum interval"),
		}
	}

	return nil
}

// DefaultConfig returns the default configuration options for a Scheduler.
// Options may be overridden before passing to NewScheduler
func DefaultConfig() *Config {
	return &Config{
		Clock:  clock.New(), // use standard time
		Tracer: tele.NoopTracer(),
		Meter:  tele.NoopMeter(),

		Window:        10 * time.Second,       // MAGIC
		Amplification: 20,                     // MAGIC
		MinInterval:   300 * time.Millisecond, // MAGIC
	}
}

// NewScheduler returns an idle scheduler. The time of its creation counts as
// the time of the last flush, so a burst of notifications right after startup
// is coalesced as well.
func NewScheduler[S any](cfg *Config) (*Scheduler[S], error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler[S]{
		cfg:       *cfg,
		est:       movavg.New(cfg.Window, movavg.WithClock(cfg.Clock)),
		lastFlush: cfg.Clock.Now(),
	}

	// initialise metrics
	var err error
	s.counterNotifies, err = cfg.Meter.Int64Counter(
		"flush_notifies",
		metric.WithDescription("Total number of change notifications received by the flush scheduler"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_notifies counter: %w", err)
	}

	s.counterCoalesced, err = cfg.Meter.Int64Counter(
		"flush_coalesced",
		metric.WithDescription("Total number of change notifications merged into an already pending flush"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_coalesced counter: %w", err)
	}

	s.counterDeliveries, err = cfg.Meter.Int64Counter(
		"flush_deliveries",
		metric.WithDescription("Total number of flushes delivered to the consumer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_deliveries counter: %w", err)
	}

	s.counterDeliveryErrors, err = cfg.Meter.Int64Counter(
		"flush_delivery_errors",
		metric.WithDescription("Total number of flushes that the consumer failed to handle"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_delivery_errors counter: %w", err)
	}

	s.histogramCost, err = cfg.Meter.Float64Histogram(
		"flush_cost",
		metric.WithDescription("Time the consumer spent handling a flush"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_cost histogram: %w", err)
	}

	s.histogramDelay, err = cfg.Meter.Float64Histogram(
		"flush_delay",
		metric.WithDescription("Delay computed before a pending flush"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_delay histogram: %w", err)
	}

	s.gaugeForecast, err = cfg.Meter.Float64ObservableGauge(
		"flush_forecast",
		metric.WithDescription("Forecast cost of the next flush"),
		metric.WithUnit("ms"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			o.Observe(math.Float64frombits(s.forecastBits.Load()), metric.WithAttributes(s.cfg.Attributes...))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create flush_forecast gauge: %w", err)
	}

	return s, nil
}

// Advance advances the state of the scheduler by processing the given event.
func (s *Scheduler[S]) Advance(ctx context.Context, ev SchedulerEvent) (out SchedulerState) {
	ctx, span := s.cfg.Tracer.Start(ctx, "Scheduler.Advance", trace.WithAttributes(tele.AttrInEvent(ev)))
	defer func() {
		span.SetAttributes(tele.AttrOutEvent(out))
		span.End()
	}()

	attrs := metric.WithAttributes(s.cfg.Attributes...)

	switch tev := ev.(type) {
	case *EventSchedulerPoll:
		// ignore, nothing to do
	case *EventSchedulerNotify[S]:
		s.counterNotifies.Add(ctx, 1, attrs)
		s.latest = tev.State
		if s.pending {
			s.counterCoalesced.Add(ctx, 1, attrs)
			return &StateSchedulerPending{}
		}

		delay := s.nextDelay()
		span.SetAttributes(attribute.Int64("delay_ms", delay.Milliseconds()))
		s.histogramDelay.Record(ctx, milliseconds(delay), attrs)
		s.pending = true
		return &StateSchedulerArmTimer{Delay: delay}

	case *EventSchedulerTimerFired:
		if !s.pending {
			// ignore a timer that fired after a cancellation
			break
		}
		s.pending = false
		s.lastFlush = s.cfg.Clock.Now()

		st := s.latest
		var zero S
		s.latest = zero
		return &StateSchedulerFlush[S]{State: st}

	case *EventSchedulerFlushed:
		s.est.Push(s.cfg.Clock.Now(), float64(tev.Cost))
		s.histogramCost.Record(ctx, milliseconds(tev.Cost), attrs)
		s.counterDeliveries.Add(ctx, 1, attrs)
		if tev.Err != nil {
			s.counterDeliveryErrors.Add(ctx, 1, attrs)
			span.RecordError(tev.Err)
		}

	case *EventSchedulerCancel:
		s.pending = false
		var zero S
		s.latest = zero

	default:
		panic(fmt.Sprintf("unexpected event: %T", tev))
	}

	if s.pending {
		return &StateSchedulerPending{}
	}
	return &StateSchedulerIdle{}
}

// Forecast returns the expected cost of the next flush.
func (s *Scheduler[S]) Forecast() time.Duration {
	return time.Duration(s.forecast())
}

func (s *Scheduler[S]) forecast() float64 {
	f := s.est.Forecast()
	s.forecastBits.Store(math.Float64bits(f / float64(time.Millisecond)))
	return f
}

// nextDelay computes the time to wait before the next flush.
func (s *Scheduler[S]) nextDelay() time.Duration {
	interval := time.Duration(s.forecast() * s.cfg.Amplification)
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}
	if s.cfg.MaxInterval > 0 && interval > s.cfg.MaxInterval {
		interval = s.cfg.MaxInterval
	}

	delay := interval - s.cfg.Clock.Since(s.lastFlush)
	if delay < 0 {
		return 0
	}
	return delay
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
