package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Now stamps events that arrive without a timestamp. Defaults to time.Now.
	Now func() time.Time
	// Logger reports dropped events and sink panics. Defaults to slog.Default.
	Logger *slog.Logger
}

// queued pairs an event with the context it was emitted under, minus cancellation, so
// sinks such as SlogSink see the request's values after the request has returned.
type queued struct {
	ctx   context.Context
	event Event
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	now        func() time.Time
	logger     *slog.Logger

	queue      chan queued
	stop       chan struct{}
	wg         sync.WaitGroup
	dropped    atomic.Uint64
	unreported atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is disabled; a nil
// Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		now:        cfg.Now,
		logger:     cfg.Logger,
		queue:      make(chan queued, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.wg.Go(d.loop)
	return d
}

func (d *Dispatcher) loop() {
	for {
		select {
		case q := <-d.queue:
			d.deliver(q)
		case <-d.stop:
			for {
				select {
				case q := <-d.queue:
					d.deliver(q)
				default:
					d.reportDrops()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(q queued) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", "event_type", q.event.EventType, "panic", r)
		}
	}()
	d.reportDrops()
	d.sink.Emit(q.ctx, q.event)
}

// reportDrops logs the drops seen since the last report, once per burst.
func (d *Dispatcher) reportDrops() {
	if n := d.unreported.Swap(0); n > 0 {
		d.logger.Warn("audit events dropped", "count", n, "total", d.dropped.Load())
	}
}

// Emit queues event for delivery. With DropIfFull a full buffer discards the event and
// bumps Dropped; otherwise Emit waits for room, ctx or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	q := queued{ctx: context.WithoutCancel(ctx), event: event}

	if d.dropIfFull {
		select {
		case d.queue <- q:
		case <-d.stop:
		default:
			d.dropped.Add(1)
			d.unreported.Add(1)
		}
		return
	}

	select {
	case d.queue <- q:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting events and waits until everything already queued is delivered.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped counts events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
