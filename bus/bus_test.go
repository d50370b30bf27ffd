package bus

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/topicview/go-topicview/event"
)

func newTestBus() *Bus {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestPublishReachesSubscribersOfKey(t *testing.T) {
	ctx := context.Background()
	b := newTestBus()

	var gotA, gotB []event.Raw
	require.NoError(t, b.Subscribe("a", func(ctx context.Context, raw event.Raw) { gotA = append(gotA, raw) }))
	require.NoError(t, b.Subscribe("b", func(ctx context.Context, raw event.Raw) { gotB = append(gotB, raw) }))

	n := b.Publish(ctx, "a", event.Raw{Path: "x"})
	assert.Equal(t, 1, n)
	assert.Equal(t, []event.Raw{{Path: "x"}}, gotA)
	assert.Empty(t, gotB)

	assert.Zero(t, b.Publish(ctx, "unknown", event.Raw{Path: "y"}))
}

func TestUnsubscribeAll(t *testing.T) {
	ctx := context.Background()
	b := newTestBus()

	calls := 0
	h := func(ctx context.Context, raw event.Raw) { calls++ }
	require.NoError(t, b.Subscribe("a", h))
	require.NoError(t, b.Subscribe("a", h))
	assert.Equal(t, 2, b.Subscribers("a"))

	b.Publish(ctx, "a", event.Raw{})
	assert.Equal(t, 2, calls)

	require.NoError(t, b.UnsubscribeAll("a"))
	assert.Zero(t, b.Subscribers("a"))
	b.Publish(ctx, "a", event.Raw{})
	assert.Equal(t, 2, calls)

	// removing an unknown key is fine
	require.NoError(t, b.UnsubscribeAll("never-subscribed"))
}

func TestConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	b := newTestBus()

	var mu sync.Mutex
	received := 0
	require.NoError(t, b.Subscribe("a", func(ctx context.Context, raw event.Raw) {
		mu.Lock()
		received++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(ctx, "a", event.Raw{Path: "x"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, received)
}
