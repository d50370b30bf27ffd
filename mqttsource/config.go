package mqttsource

import (
	"crypto/tls"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/exp/slog"

	"github.com/topicview/go-topicview/tele"
)

// Config contains the options of a [Source].
type Config struct {
	// Broker is the address of the broker, e.g. tcp://localhost:1883.
	Broker string

	// ClientID is the MQTT client identifier. If empty, the connection
	// identifier is used.
	ClientID string

	// ConnectionID identifies the connection. Events are published under
	// the key derived from it.
	ConnectionID string

	// Username and Password are sent when Username is not empty.
	Username string
	Password string

	// TLS configures a secured connection, nil for plain TCP.
	TLS *tls.Config

	// Topics are the topic filters to subscribe to.
	Topics []string

	// QoS is the quality of service level of the subscriptions.
	QoS byte

	// ConnectTimeout limits how long connecting to the broker may take.
	ConnectTimeout time.Duration

	// Quiesce is the time given to in-flight work when disconnecting.
	Quiesce time.Duration

	Logger        *slog.Logger
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns the default configuration of a [Source]. Broker and
// ConnectionID have to be set.
func DefaultConfig() *Config {
	return &Config{
		Topics:         []string{"#"},
		QoS:            0,
		ConnectTimeout: 10 * time.Second,       // MAGIC
		Quiesce:        250 * time.Millisecond, // MAGIC
		Logger:         tele.DefaultLogger("mqttsource"),
		MeterProvider:  otel.GetMeterProvider(),
	}
}

// Validate returns an error if the configuration cannot be used.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker must not be empty")
	}

	if c.ConnectionID == "" {
		return fmt.Errorf("connection id must not be empty")
	}

	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one topic filter is required")
	}

	for _, topic := range c.Topics {
		if topic == "" {
			return fmt.Errorf("topic filter must not be empty")
		}
	}

	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.Quiesce < 0 {
		return fmt.Errorf("quiesce must not be negative")
	}

	if c.Logger == nil {
		return fmt.Errorf("logger must not be nil")
	}

	if c.MeterProvider == nil {
		return fmt.Errorf("opentelemetry meter provider must not be nil")
	}

	return nil
}

func (c *Config) clientID() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.ConnectionID
}
