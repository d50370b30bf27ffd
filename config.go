package topicview

import (
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"

	"github.com/topicview/go-topicview/internal/flush"
	"github.com/topicview/go-topicview/tele"
)

// Config contains all the configuration options for a [Pipeline]. Use
// [DefaultConfig] to build up your own configuration struct. The [Pipeline]
// constructor [New] uses the below method [*Config.Validate] to test for
// violations of configuration invariants.
type Config struct {
	// Clock
	Clock clock.Clock

	// Window is the time window over which the cost of flushes is averaged.
	Window time.Duration

	// Amplification is the factor applied to the expected flush cost to
	// obtain the interval between two flushes. An amplification of 20 means
	// that the consumer spends at most about 5% of the time handling flushes.
	Amplification float64

	// MinInterval is the lower bound of the interval between two flushes. It
	// applies while the consumer is fast.
	MinInterval time.Duration

	// MaxInterval is the upper bound of the interval between two flushes. It
	// limits how stale the consumer's view can get with a very slow consumer.
	// Zero means unbounded.
	MaxInterval time.Duration

	// InboxSize is the number of received events that may be queued before
	// the handlers registered with the [Source] block.
	InboxSize int

	// PathCacheSize is the number of recently seen paths for which the tree
	// node is cached, which saves walking the tree for frequently updated
	// paths. Zero disables the cache.
	PathCacheSize int

	// CancelFlushOnDetach drops a pending flush when the source is detached.
	// By default the pending flush is still delivered; it reflects a
	// consistent past state of the tree.
	CancelFlushOnDetach bool

	// Logger can be used to configure a custom structured logger instance.
	// By default go.uber.org/zap is used (wrapped in ipfs/go-log).
	Logger *slog.Logger

	// MeterProvider provides access to named Meter instances. It's used to,
	// e.g., expose prometheus metrics. Check out the [opentelemetry docs]:
	//
	// [opentelemetry docs]: https://opentelemetry.io/docs/specs/otel/metrics/api/#meterprovider
	MeterProvider metric.MeterProvider

	// TracerProvider provides Tracers that are used by instrumentation code to
	// trace computational workflows. Check out the [opentelemetry docs]:
	//
	// [opentelemetry docs]: https://opentelemetry.io/docs/concepts/signals/traces/#tracer-provider
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns a configuration struct that can be used as-is to
// instantiate a fully functional [Pipeline].
func DefaultConfig() *Config {
	return &Config{
		Clock:          clock.New(),
		Window:         10 * time.Second,       // MAGIC
		Amplification:  20,                     // MAGIC
		MinInterval:    300 * time.Millisecond, // MAGIC
		MaxInterval:    0,
		InboxSize:      1024, // MAGIC
		PathCacheSize:  4096, // MAGIC
		Logger:         tele.DefaultLogger("topicview"),
		MeterProvider:  otel.GetMeterProvider(),
		TracerProvider: otel.GetTracerProvider(),
	}
}

// Validate validates the configuration struct it is called on. It returns
// an error if any configuration issue was detected and nil if this is
// a valid configuration.
func (c *Config) Validate() error {
	if c.Clock == nil {
		return fmt.Errorf("clock must not be nil")
	}

	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}

	if c.Amplification < 0 || math.IsNaN(c.Amplification) || math.IsInf(c.Amplification, 0) {
		return fmt.Errorf("amplification must be a finite non-negative number, got %v", c.Amplification)
	}

	if c.MinInterval < 0 {
		return fmt.Errorf("minimum interval must not be negative, got %s", c.MinInterval)
	}

	if c.MaxInterval < 0 {
		return fmt.Errorf("maximum interval must not be negative, got %s", c.MaxInterval)
	}

	if c.MaxInterval != 0 && c.MaxInterval < c.MinInterval {
		return fmt.Errorf("maximum interval %s is less than minimum interval %s", c.MaxInterval, c.MinInterval)
	}

	if c.InboxSize < 1 {
		return fmt.Errorf("inbox size must be at least 1, got %d", c.InboxSize)
	}

	if c.PathCacheSize < 0 {
		return fmt.Errorf("path cache size must not be negative, got %d", c.PathCacheSize)
	}

	if c.Logger == nil {
		return fmt.Errorf("logger must not be nil")
	}

	if c.MeterProvider == nil {
		return fmt.Errorf("opentelemetry meter provider must not be nil")
	}

	if c.TracerProvider == nil {
		return fmt.Errorf("opentelemetry tracer provider must not be nil")
	}

	return nil
}

// schedulerConfig derives the configuration of the flush scheduler.
func (c *Config) schedulerConfig(t *Telemetry) *flush.Config {
	cfg := flush.DefaultConfig()
	cfg.Clock = c.Clock
	cfg.Window = c.Window
	cfg.Amplification = c.Amplification
	cfg.MinInterval = c.MinInterval
	cfg.MaxInterval = c.MaxInterval
	cfg.Tracer = t.Tracer
	cfg.Meter = t.Meter
	cfg.Attributes = t.Attributes
	return cfg
}
