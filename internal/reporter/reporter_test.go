package reporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
)

func newReporter(name string, when func(Options) bool) *Reporter {
	return &Reporter{
		Component: component.New(component.KindReporter, "p", name, true),
		Definition: &Definition{
			Name:        name,
			Description: name,
			When:        when,
			Listeners: map[event.Type]Listener{
				event.SmokeOk: func(_ context.Context, rc *Context, ev event.Event) error {
					_, err := fmt.Fprintf(rc.Stdout, "%s:%s\n", name, ev.Type)
					return err
				},
			},
		},
	}
}

func TestSelect(t *testing.T) {
	console := newReporter("console", func(o Options) bool { return !o.JSON })
	jsonR := newReporter("json", func(o Options) bool { return o.JSON })
	never := newReporter("never", nil)
	all := []*Reporter{console, jsonR, never}

	got, err := Select(all, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []*Reporter{console}, got)

	got, err = Select(all, nil, Options{JSON: true})
	require.NoError(t, err)
	assert.Equal(t, []*Reporter{jsonR}, got)

	got, err = Select(all, []string{"never", "console", "never"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []*Reporter{never, console}, got)

	_, err = Select(all, []string{"nope"}, Options{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
}

func TestSessionRoutesEvents(t *testing.T) {
	var out bytes.Buffer
	s := NewSession([]*Reporter{newReporter("a", nil), newReporter("b", nil)}, Options{}, WithOutput(&out, &out))
	require.NoError(t, s.Setup(t.Context()))

	bus := event.NewBus(t.Context(), s.Handlers())
	require.NoError(t, bus.Emit(event.Event{Type: event.SmokeBegin}))
	require.NoError(t, bus.Emit(event.Event{Type: event.SmokeOk}))
	require.NoError(t, bus.Close())
	require.NoError(t, s.Teardown(t.Context()))

	assert.Equal(t, "a:SmokeOk\nb:SmokeOk\n", out.String())
}

func TestSessionLifecycleErrors(t *testing.T) {
	boom := errors.New("boom")
	r := newReporter("a", nil)
	r.Definition.Setup = func(context.Context, *Context) error { return boom }
	r.Definition.Teardown = func(context.Context, *Context) error { return boom }
	s := NewSession([]*Reporter{r}, Options{})
	assert.ErrorIs(t, s.Setup(t.Context()), boom)
	assert.ErrorContains(t, s.Teardown(t.Context()), "reporter a: teardown failed")
}

func TestDefinitionValidate(t *testing.T) {
	err := (&Definition{Listeners: map[event.Type]Listener{event.SmokeOk: nil}}).Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "reporter name is required")
	assert.ErrorContains(t, err, "description is required")
	assert.ErrorContains(t, err, "listener for SmokeOk is nil")
}
