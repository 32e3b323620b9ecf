package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestBusDeliversInEmitOrder(t *testing.T) {
	r := &recorder{}
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := NewBus(t.Context(), []Handler{r}, WithRunID("run-1"), WithBufferSize(1), WithClock(func() time.Time { return fixed }))

	for _, typ := range []Type{SmokeBegin, PackBegin, PackOk, SmokeOk} {
		require.NoError(t, bus.Emit(Event{Type: typ}))
	}
	require.NoError(t, bus.Close())

	require.Len(t, r.events, 4)
	for i, ev := range r.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, fixed, ev.Time)
	}
	assert.Equal(t, SmokeOk, r.events[3].Type)
}

func TestBusConcurrentEmit(t *testing.T) {
	r := &recorder{}
	bus := NewBus(t.Context(), []Handler{r})

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 20 {
				_ = bus.Emit(Event{Type: RuleOk})
			}
		})
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	require.Len(t, r.events, 200)
	for i, ev := range r.events {
		assert.Equal(t, uint64(i+1), ev.Seq, "events are delivered in sequence")
	}
}

func TestBusCollectsHandlerErrors(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{}
	bus := NewBus(t.Context(), []Handler{
		HandlerFunc(func(context.Context, Event) error { return boom }),
		HandlerFunc(func(context.Context, Event) error { panic("oops") }),
		r,
	})
	require.NoError(t, bus.Emit(Event{Type: SmokeBegin}))
	err := bus.Close()
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "handler panicked on SmokeBegin: oops")
	assert.Len(t, r.events, 1, "a failing handler does not starve the others")
}

func TestBusDeliversAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	r := &recorder{}
	bus := NewBus(ctx, []Handler{r})
	cancel()
	require.NoError(t, bus.Emit(Event{Type: Aborted}))
	require.NoError(t, bus.Close())
	require.Len(t, r.events, 1)
	assert.True(t, r.events[0].Type.Terminal())
}

func TestBusEmitAfterClose(t *testing.T) {
	bus := NewBus(t.Context(), nil)
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Emit(Event{Type: SmokeBegin}), ErrBusClosed)
	assert.NoError(t, bus.Close(), "close is idempotent")
}
