// Package topicview maintains a live tree view of a hierarchical topic
// namespace. Raw path events from a [Source] are decoded and merged into a
// [pathtree.Tree]; the tree is handed to a consumer at a rate that adapts to
// how long the consumer takes to handle it.
package topicview

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/topicview/go-topicview/errs"
	"github.com/topicview/go-topicview/event"
	"github.com/topicview/go-topicview/internal/flush"
	"github.com/topicview/go-topicview/pathtree"
	"github.com/topicview/go-topicview/tele"
)

// ErrClosed is returned by the methods of a closed [Pipeline].
var ErrClosed = errors.New("pipeline closed")

// Flush is handed to the consumer registered with [Pipeline.OnFlush].
type Flush struct {
	// Tree is the live tree. It must only be read for the duration of the
	// callback and must not be modified.
	Tree *pathtree.Tree

	// LastEvent is the most recent event merged before the flush.
	LastEvent event.Decoded
}

// FlushFunc consumes a flush. The time it takes to return determines how
// often it is called.
type FlushFunc func(ctx context.Context, f Flush) error

// Stats is a point in time summary of a [Pipeline].
type Stats struct {
	Attached     string
	Events       uint64
	DecodeErrors uint64
	Dropped      uint64
	Flushes      uint64
	Nodes        int
	Leaves       int
	Pending      bool
	Forecast     time.Duration
}

// A Pipeline receives events from a [Source], merges them into a tree and
// flushes the tree to a consumer. All state is owned by a single goroutine
// that processes inbound events and commands in the order they were sent.
type Pipeline struct {
	// id is a unique identifier for this pipeline instance
	id string

	// cfg is a copy of the optional configuration supplied to the pipeline
	cfg Config

	src Source

	tele *Telemetry

	// mailbox carries inbound events and commands to the event loop
	mailbox chan pipelineMessage

	// onFlush holds the registered consumer
	onFlush atomic.Pointer[FlushFunc]

	// cancel is used to cancel all running goroutines when the pipeline is closing
	cancel context.CancelFunc

	// done will be closed when the event loop exits
	done chan struct{}

	// the following fields are owned by the event loop

	tree        *pathtree.Tree
	sched       *flush.Scheduler[Flush]
	cache       *lru.Cache[string, *pathtree.Node]
	timer       *clock.Timer
	attached    string
	attachedKey string
	stats       Stats
}

// New creates a pipeline that reads from src. It does not receive anything
// until it is attached to a connection with [Pipeline.Attach].
func New(src Source, cfg *Config) (*Pipeline, error) {
	if src == nil {
		return nil, fmt.Errorf("source must not be nil")
	}

	if cfg == nil {
		cfg = DefaultConfig()
	} else if err := cfg.Validate(); err != nil {
		return nil, &errs.ConfigurationError{Component: "PipelineConfig", Err: err}
	}

	id := uuid.NewString()

	t, err := NewTelemetry(id, cfg.MeterProvider, cfg.TracerProvider)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	sched, err := flush.NewScheduler[Flush](cfg.schedulerConfig(t))
	if err != nil {
		return nil, fmt.Errorf("init flush scheduler: %w", err)
	}

	var cache *lru.Cache[string, *pathtree.Node]
	if cfg.PathCacheSize > 0 {
		cache, err = lru.New[string, *pathtree.Node](cfg.PathCacheSize)
		if err != nil {
			return nil, fmt.Errorf("init path cache: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		id:      id,
		cfg:     *cfg,
		src:     src,
		tele:    t,
		mailbox: make(chan pipelineMessage, cfg.InboxSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		tree:    pathtree.New(pathtree.WithClock(cfg.Clock)),
		sched:   sched,
		cache:   cache,
	}
	p.cfg.Logger = cfg.Logger.With("pipeline", id)

	go p.eventLoop(ctx)

	return p, nil
}

// ID returns the unique identifier of the pipeline.
func (p *Pipeline) ID() string {
	return p.id
}

// Close detaches the pipeline from its source and stops the event loop. A
// pending flush is dropped.
func (p *Pipeline) Close() error {
	p.cancel()
	<-p.done

	var result error
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.attachedKey != "" {
		if err := p.src.UnsubscribeAll(p.attachedKey); err != nil {
			result = multierror.Append(result, fmt.Errorf("unsubscribe %s: %w", p.attachedKey, err))
		}
		p.attached, p.attachedKey = "", ""
	}
	p.sched.Advance(context.Background(), &flush.EventSchedulerCancel{})

	return result
}

// Attach subscribes the pipeline to the messages of the connection with the
// given id. If the pipeline is attached to another connection it is detached
// from it first. Attaching to the current connection again is a no-op, and
// an empty id only detaches.
func (p *Pipeline) Attach(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := p.send(ctx, &msgAttach{id: id, reply: reply}); err != nil {
		return err
	}
	return p.await(ctx, reply)
}

// Detach unsubscribes the pipeline from the connection with the given id.
// Events of the connection that are still queued are discarded. Detaching
// from a connection the pipeline is not attached to is a no-op.
func (p *Pipeline) Detach(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := p.send(ctx, &msgDetach{id: id, reply: reply}); err != nil {
		return err
	}
	return p.await(ctx, reply)
}

// OnFlush registers the consumer of flushes, replacing any earlier one. The
// consumer is called on the event loop; it must not call back into the
// pipeline. A nil fn removes the consumer.
func (p *Pipeline) OnFlush(fn FlushFunc) {
	if fn == nil {
		p.onFlush.Store(nil)
		return
	}
	p.onFlush.Store(&fn)
}

// Stats returns a summary of the pipeline once all events and commands sent
// before the call have been processed.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := p.send(ctx, &msgStats{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-p.done:
		return Stats{}, ErrClosed
	case st := <-reply:
		return st, nil
	}
}

func (p *Pipeline) send(ctx context.Context, msg pipelineMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.mailbox <- msg:
		return nil
	}
}

func (p *Pipeline) await(ctx context.Context, reply <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case err := <-reply:
		return err
	}
}

// handler returns the event handler that is subscribed under key. It blocks
// while the mailbox is full.
func (p *Pipeline) handler(key string) event.Handler {
	return func(ctx context.Context, raw event.Raw) {
		if err := p.send(ctx, &msgInbound{key: key, raw: raw}); err != nil {
			ctx = tele.WithAttributes(context.Background(), tele.AttrSourceKey(key))
			p.tele.Dropped.Add(ctx, 1, p.tele.attrs(ctx))
		}
	}
}

func (p *Pipeline) eventLoop(ctx context.Context) {
	defer close(p.done)

	for {
		var timerC <-chan time.Time
		if p.timer != nil {
			timerC = p.timer.C
		}

		// an expired timer goes before the mailbox so that a steady stream of
		// events cannot hold back a flush
		select {
		case <-timerC:
			p.fire(ctx)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case msg := <-p.mailbox:
			p.dispatch(ctx, msg)
		case <-timerC:
			p.fire(ctx)
		}
	}
}

func (p *Pipeline) fire(ctx context.Context) {
	p.timer = nil
	// take in what arrived while the timer was running so the flush
	// reflects it
	for n := len(p.mailbox); n > 0; n-- {
		p.dispatch(ctx, <-p.mailbox)
	}
	if p.timer != nil {
		// cancelled and re-armed while draining
		return
	}
	p.advance(ctx, &flush.EventSchedulerTimerFired{})
}

func (p *Pipeline) dispatch(ctx context.Context, msg pipelineMessage) {
	switch msg := msg.(type) {
	case *msgInbound:
		p.handleInbound(ctx, msg)
	case *msgAttach:
		msg.reply <- p.attach(ctx, msg.id)
	case *msgDetach:
		msg.reply <- p.detach(ctx, msg.id)
	case *msgStats:
		st := p.stats
		st.Attached = p.attached
		st.Nodes = p.tree.Len()
		st.Leaves = p.tree.Leaves()
		_, st.Pending = p.sched.Advance(ctx, &flush.EventSchedulerPoll{}).(*flush.StateSchedulerPending)
		st.Forecast = p.sched.Forecast()
		msg.reply <- st
	default:
		panic(fmt.Sprintf("unexpected message: %T", msg))
	}
}

func (p *Pipeline) handleInbound(ctx context.Context, msg *msgInbound) {
	ctx = tele.WithAttributes(ctx, tele.AttrSourceKey(msg.key))

	if p.attachedKey == "" || msg.key != p.attachedKey {
		// queued before a detach
		p.stats.Dropped++
		p.tele.Dropped.Add(ctx, 1, p.tele.attrs(ctx))
		return
	}

	ctx, span := p.tele.Tracer.Start(ctx, "Pipeline.handleInbound", trace.WithAttributes(tele.AttrPath(msg.raw.Path)))
	defer span.End()

	d, err := event.Decode(msg.raw)
	if err != nil {
		p.stats.DecodeErrors++
		p.tele.DecodeErrors.Add(ctx, 1, p.tele.attrs(ctx))
		span.RecordError(err)
		p.cfg.Logger.Debug("payload not decoded", tele.LogAttrError(err))
	}

	now := p.cfg.Clock.Now()
	if n, ok := p.lookupCached(msg.raw.Path); ok {
		p.tree.SetValue(n, d.Value, now)
	} else {
		n := p.tree.MergeAt(d.Segments, d.Value, now)
		if p.cache != nil && len(d.Segments) > 0 {
			p.cache.Add(msg.raw.Path, n)
		}
	}
	p.tele.nodes.Store(int64(p.tree.Len()))

	p.stats.Events++
	p.tele.Events.Add(ctx, 1, p.tele.attrs(ctx))

	p.advance(ctx, &flush.EventSchedulerNotify[Flush]{State: Flush{Tree: p.tree, LastEvent: d}})
}

func (p *Pipeline) lookupCached(path string) (*pathtree.Node, bool) {
	if p.cache == nil {
		return nil, false
	}
	return p.cache.Get(path)
}

func (p *Pipeline) attach(ctx context.Context, id string) error {
	if id != "" && id == p.attached {
		return nil
	}

	if p.attached != "" {
		if err := p.detach(ctx, p.attached); err != nil {
			return err
		}
	}

	if id == "" {
		return nil
	}

	key := SourceKey(id)
	if err := p.src.Subscribe(key, p.handler(key)); err != nil {
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	p.attached, p.attachedKey = id, key
	p.cfg.Logger.Info("attached", tele.LogAttrSourceKey(key))

	return nil
}

func (p *Pipeline) detach(ctx context.Context, id string) error {
	if id == "" || id != p.attached {
		return nil
	}

	key := p.attachedKey
	p.attached, p.attachedKey = "", ""

	if p.cfg.CancelFlushOnDetach {
		p.advance(ctx, &flush.EventSchedulerCancel{})
	}

	if err := p.src.UnsubscribeAll(key); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", key, err)
	}
	p.cfg.Logger.Info("detached", tele.LogAttrSourceKey(key))

	return nil
}

// advance passes ev to the scheduler and carries out the resulting state.
func (p *Pipeline) advance(ctx context.Context, ev flush.SchedulerEvent) {
	switch st := p.sched.Advance(ctx, ev).(type) {
	case *flush.StateSchedulerArmTimer:
		p.stopTimer()
		p.timer = p.cfg.Clock.Timer(st.Delay)
	case *flush.StateSchedulerFlush[Flush]:
		cost, err := p.deliver(ctx, st.State)
		p.stats.Flushes++
		p.advance(ctx, &flush.EventSchedulerFlushed{Cost: cost, Err: err})
	case *flush.StateSchedulerIdle:
		p.stopTimer()
	case *flush.StateSchedulerPending:
		// timer is armed
	default:
		panic(fmt.Sprintf("unexpected state: %T", st))
	}
}

func (p *Pipeline) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// deliver calls the consumer and measures how long it took. A panic in the
// consumer is reported as an error.
func (p *Pipeline) deliver(ctx context.Context, f Flush) (cost time.Duration, err error) {
	fn := p.onFlush.Load()
	if fn == nil {
		return 0, nil
	}

	ctx, span := p.tele.Tracer.Start(ctx, "Pipeline.deliver")
	start := p.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
		}
		cost = p.cfg.Clock.Since(start)
		if err != nil {
			err = &errs.DeliveryError{Err: err}
			span.RecordError(err)
			p.cfg.Logger.Warn("flush not delivered", tele.LogAttrError(err))
		}
		span.End()
	}()

	return 0, (*fn)(ctx, f)
}

type pipelineMessage interface {
	pipelineMessage()
}

type msgInbound struct {
	key string
	raw event.Raw
}

type msgAttach struct {
	id    string
	reply chan<- error
}

type msgDetach struct {
	id    string
	reply chan<- error
}

type msgStats struct {
	reply chan<- Stats
}

func (*msgInbound) pipelineMessage() {}
func (*msgAttach) pipelineMessage()  {}
func (*msgDetach) pipelineMessage()  {}
func (*msgStats) pipelineMessage()   {}
