// Package mqttsource connects to an MQTT broker and republishes every
// received message as a raw path event. The topic of a message becomes the
// path of the event.
package mqttsource

import (
	"context"
	"fmt"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/exp/slog"

	topicview "github.com/topicview/go-topicview"
	"github.com/topicview/go-topicview/event"
	"github.com/topicview/go-topicview/tele"
)

// Publisher receives the events of a [Source], e.g. a [bus.Bus].
type Publisher interface {
	Publish(ctx context.Context, key string, raw event.Raw) int
}

// Source is a connection to an MQTT broker. Messages are published under
// [topicview.SourceKey] of the configured connection id.
type Source struct {
	cfg    Config
	client mqtt.Client
	pub    Publisher
	key    string

	// ctx is cancelled on Close and unblocks a full publisher
	ctx    context.Context
	cancel context.CancelFunc

	// subscribed is set after the first successful subscription, the
	// subscriptions are renewed on every reconnect after that
	subscribed atomic.Bool

	attrs    metric.MeasurementOption
	messages metric.Int64Counter
	unrouted metric.Int64Counter
}

// New creates a source with a paho client for the configured broker. The
// client does not connect before [Source.Connect] is called.
func New(pub Publisher, cfg *Config) (*Source, error) {
	s, err := newSource(pub, cfg)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.clientID()).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if s.cfg.TLS != nil {
		opts.SetTLSConfig(s.cfg.TLS)
	}
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// NewWithClient creates a source that uses an existing client. Reconnects
// of the client are not tracked.
func NewWithClient(client mqtt.Client, pub Publisher, cfg *Config) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}

	s, err := newSource(pub, cfg)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

func newSource(pub Publisher, cfg *Config) (*Source, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher must not be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		cfg:    *cfg,
		pub:    pub,
		key:    topicview.SourceKey(cfg.ConnectionID),
		ctx:    ctx,
		cancel: cancel,
		attrs: metric.WithAttributes(
			tele.AttrSourceKey(topicview.SourceKey(cfg.ConnectionID)),
			attribute.String("broker", cfg.Broker),
		),
	}
	s.cfg.Logger = cfg.Logger.With(tele.LogAttrSourceKey(s.key))

	meter := cfg.MeterProvider.Meter(tele.MeterName)

	var err error
	s.messages, err = meter.Int64Counter(
		"mqtt_messages",
		metric.WithDescription("Total number of messages received from the broker"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create mqtt_messages counter: %w", err)
	}

	s.unrouted, err = meter.Int64Counter(
		"mqtt_unrouted_messages",
		metric.WithDescription("Total number of messages received while nothing was subscribed to the connection"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create mqtt_unrouted_messages counter: %w", err)
	}

	return s, nil
}

// Key returns the key the events of this source are published under.
func (s *Source) Key() string {
	return s.key
}

// Connect connects to the broker and subscribes to the configured topic
// filters.
func (s *Source) Connect(ctx context.Context) error {
	if err := wait(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.Broker, err)
	}

	if err := s.subscribe(ctx); err != nil {
		return err
	}
	s.subscribed.Store(true)

	s.cfg.Logger.Info("connected", "broker", s.cfg.Broker, "topics", s.cfg.Topics)
	return nil
}

// Close unsubscribes from the broker and disconnects. Events that are
// blocked on a full publisher are dropped.
func (s *Source) Close() error {
	s.cancel()

	if !s.client.IsConnected() {
		return nil
	}

	var result error
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()
	if err := wait(ctx, s.client.Unsubscribe(s.cfg.Topics...)); err != nil {
		result = multierror.Append(result, fmt.Errorf("unsubscribe %v: %w", s.cfg.Topics, err))
	}

	s.client.Disconnect(uint(s.cfg.Quiesce.Milliseconds()))
	return result
}

func (s *Source) subscribe(ctx context.Context) error {
	filters := make(map[string]byte, len(s.cfg.Topics))
	for _, topic := range s.cfg.Topics {
		filters[topic] = s.cfg.QoS
	}

	if err := wait(ctx, s.client.SubscribeMultiple(filters, s.handleMessage)); err != nil {
		return fmt.Errorf("subscribe %v: %w", s.cfg.Topics, err)
	}
	return nil
}

// handleMessage is called by the client for every received message. It
// blocks while the publisher does.
func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	raw := event.Encode(msg.Topic(), msg.Payload())

	n := s.pub.Publish(s.ctx, s.key, raw)
	s.messages.Add(s.ctx, 1, s.attrs)
	if n == 0 {
		s.unrouted.Add(s.ctx, 1, s.attrs)
	}
}

func (s *Source) onConnect(mqtt.Client) {
	if !s.subscribed.Load() {
		// first connect, Connect subscribes
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
		defer cancel()
		if err := s.subscribe(ctx); err != nil {
			s.cfg.Logger.Warn("resubscribe after reconnect failed", tele.LogAttrError(err))
			return
		}
		s.cfg.Logger.Info("reconnected")
	}()
}

func (s *Source) onConnectionLost(_ mqtt.Client, err error) {
	s.cfg.Logger.LogAttrs(s.ctx, slog.LevelWarn, "connection lost", tele.LogAttrError(err))
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
