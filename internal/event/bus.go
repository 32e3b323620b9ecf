package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBufferSize is the number of events a Bus queues before Emit blocks.
const DefaultBufferSize = 256

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// ErrBusClosed is returned by Emit after Close.
var ErrBusClosed = errors.New("event bus closed")

// Bus delivers events to its handlers from a single goroutine, in the order
// they were emitted. Emit is safe for concurrent use.
type Bus struct {
	runID    string
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	now      func() time.Time

	mu     sync.Mutex
	seq    uint64
	closed bool

	errMu sync.Mutex
	errs  []error
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithRunID stamps every event with id.
func WithRunID(id string) BusOption {
	return func(b *Bus) { b.runID = id }
}

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) { b.queue = make(chan Event, n) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus starts a bus dispatching to handlers. The bus must be closed.
// Delivery is not tied to ctx: events emitted after cancellation, such as
// Aborted, are still delivered. ctx is passed to the handlers.
func NewBus(ctx context.Context, handlers []Handler, opts ...BusOption) *Bus {
	b := &Bus{
		handlers: handlers,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.queue == nil {
		b.queue = make(chan Event, DefaultBufferSize)
	}
	go b.loop(context.WithoutCancel(ctx))
	return b
}

func (b *Bus) loop(ctx context.Context) {
	defer close(b.done)
	for ev := range b.queue {
		for _, h := range b.handlers {
			if err := b.dispatch(ctx, h, ev); err != nil {
				slog.DebugContext(ctx, "event handler failed", "event", ev.Type, "error", err)
				b.errMu.Lock()
				b.errs = append(b.errs, err)
				b.errMu.Unlock()
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked on %s: %v", ev.Type, r)
		}
	}()
	return h.Handle(ctx, ev)
}

// Emit queues ev. Time, Seq and RunID are filled in by the bus.
func (b *Bus) Emit(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	if ev.RunID == "" {
		ev.RunID = b.runID
	}
	b.queue <- ev
	return nil
}

// Close stops accepting events, waits until every queued event has been
// delivered and returns the handler errors.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done

	b.errMu.Lock()
	defer b.errMu.Unlock()
	return errors.Join(b.errs...)
}
