// Package bus implements an in-process publish/subscribe bus for raw path
// events. Handlers are registered under a key, typically the key derived from
// a connection identifier, and receive every event published under that key.
package bus

import (
	"context"
	"sync"

	"golang.org/x/exp/slog"

	"github.com/topicview/go-topicview/event"
	"github.com/topicview/go-topicview/tele"
)

// Bus dispatches published events to the handlers subscribed under the same
// key. It is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine in the order they were subscribed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]event.Handler
	logger   *slog.Logger
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]event.Handler),
		logger:   tele.DefaultLogger("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events published under key.
func (b *Bus) Subscribe(key string, h event.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key] = append(b.handlers[key], h)
	b.logger.Debug("subscribed", "key", key, "handlers", len(b.handlers[key]))
	return nil
}

// UnsubscribeAll removes all handlers registered under key. Removing a key
// without handlers is a no-op.
func (b *Bus) UnsubscribeAll(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[key]; !ok {
		return nil
	}
	delete(b.handlers, key)
	b.logger.Debug("unsubscribed all", "key", key)
	return nil
}

// Publish delivers raw to every handler subscribed under key and reports the
// number of handlers that received it.
func (b *Bus) Publish(ctx context.Context, key string, raw event.Raw) int {
	b.mu.RLock()
	hs := b.handlers[key]
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, raw)
	}
	return len(hs)
}

// Subscribers returns the number of handlers registered under key.
func (b *Bus) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[key])
}
