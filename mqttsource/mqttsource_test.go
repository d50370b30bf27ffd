package mqttsource

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	topicview "github.com/topicview/go-topicview"
	"github.com/topicview/go-topicview/bus"
	"github.com/topicview/go-topicview/event"
	"github.com/topicview/go-topicview/internal/topictest"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

var _ mqtt.Token = (*fakeToken)(nil)

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient records calls. Methods not overridden panic.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	connectErr   error
	subscribeErr error
	filters      map[string]byte
	handler      mqtt.MessageHandler
	unsubscribed []string
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return completedToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr == nil {
		c.filters = filters
		c.handler = callback
	}
	return completedToken(c.subscribeErr)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

// deliver passes a message to the subscribed handler like the client's
// router does.
func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

var _ mqtt.Message = (*fakeMessage)(nil)

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://localhost:1883"
	cfg.ConnectionID = "c1"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "happy path", mutate: func(c *Config) {}},
		{name: "empty broker", wantErr: true, mutate: func(c *Config) { c.Broker = "" }},
		{name: "empty connection id", wantErr: true, mutate: func(c *Config) { c.ConnectionID = "" }},
		{name: "no topics", wantErr: true, mutate: func(c *Config) { c.Topics = nil }},
		{name: "empty topic", wantErr: true, mutate: func(c *Config) { c.Topics = []string{"a/#", ""} }},
		{name: "invalid qos", wantErr: true, mutate: func(c *Config) { c.QoS = 3 }},
		{name: "0 connect timeout", wantErr: true, mutate: func(c *Config) { c.ConnectTimeout = 0 }},
		{name: "negative quiesce", wantErr: true, mutate: func(c *Config) { c.Quiesce = -1 }},
		{name: "nil logger", wantErr: true, mutate: func(c *Config) { c.Logger = nil }},
		{name: "nil meter provider", wantErr: true, mutate: func(c *Config) { c.MeterProvider = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectSubscribesTopics(t *testing.T) {
	ctx := topictest.CtxShort(t)
	client := &fakeClient{}
	cfg := testConfig()
	cfg.Topics = []string{"sensors/#", "status/+"}
	cfg.QoS = 1

	s, err := NewWithClient(client, bus.New(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "conn/c1/message", s.Key())

	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, map[string]byte{"sensors/#": 1, "status/+": 1}, client.filters)
}

func TestConnectErrors(t *testing.T) {
	ctx := topictest.CtxShort(t)

	client := &fakeClient{connectErr: errors.New("refused")}
	s, err := NewWithClient(client, bus.New(), testConfig())
	require.NoError(t, err)
	err = s.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	client = &fakeClient{subscribeErr: errors.New("not authorized")}
	s, err = NewWithClient(client, bus.New(), testConfig())
	require.NoError(t, err)
	err = s.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestConnectHonoursContext(t *testing.T) {
	client := &pendingClient{}
	s, err := NewWithClient(client, bus.New(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Connect(ctx), context.Canceled)
}

// pendingClient never completes connecting.
type pendingClient struct {
	mqtt.Client
}

func (c *pendingClient) Connect() mqtt.Token {
	return &fakeToken{done: make(chan struct{})}
}

func TestMessagesArePublishedUnderConnectionKey(t *testing.T) {
	ctx := topictest.CtxShort(t)
	client := &fakeClient{}
	b := bus.New()

	var mu sync.Mutex
	var got []event.Raw
	require.NoError(t, b.Subscribe(topicview.SourceKey("c1"), func(ctx context.Context, raw event.Raw) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, raw)
	}))

	mp, reader := topictest.ManualMeterProvider(t)
	cfg := testConfig()
	cfg.MeterProvider = mp
	s, err := NewWithClient(client, b, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))

	client.deliver("sensors/kitchen/temp", []byte("21.5"))
	client.deliver("sensors/kitchen/hum", []byte{0xff, 0x00})

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, "sensors/kitchen/temp", got[0].Path)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("21.5")), got[0].Payload)
	d, err := event.Decode(got[1])
	mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, []string{"sensors", "kitchen", "hum"}, d.Segments)

	require.NoError(t, b.UnsubscribeAll(topicview.SourceKey("c1")))
	client.deliver("sensors/kitchen/temp", []byte("22"))

	messages, ok := topictest.CollectSum(t, reader, "mqtt_messages")
	require.True(t, ok)
	assert.Equal(t, int64(3), messages)

	unrouted, ok := topictest.CollectSum(t, reader, "mqtt_unrouted_messages")
	require.True(t, ok)
	assert.Equal(t, int64(1), unrouted)
}

func TestCloseUnsubscribesAndDisconnects(t *testing.T) {
	ctx := topictest.CtxShort(t)
	client := &fakeClient{}
	s, err := NewWithClient(client, bus.New(), testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"#"}, client.unsubscribed)
	assert.True(t, client.disconnected)

	// the client is no longer connected
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"#"}, client.unsubscribed)
}

func TestNewWithClientRejectsMissingDependencies(t *testing.T) {
	_, err := NewWithClient(nil, bus.New(), testConfig())
	assert.Error(t, err)

	_, err = NewWithClient(&fakeClient{}, nil, testConfig())
	assert.Error(t, err)

	_, err = NewWithClient(&fakeClient{}, bus.New(), nil)
	assert.Error(t, err)
}

func TestNewBuildsClient(t *testing.T) {
	s, err := New(bus.New(), testConfig())
	require.NoError(t, err)
	require.NotNil(t, s.client)

	r := s.client.OptionsReader()
	assert.Equal(t, "c1", r.ClientID())
	assert.True(t, r.AutoReconnect())
	require.Len(t, r.Servers(), 1)
	assert.Equal(t, "localhost:1883", r.Servers()[0].Host)
}
