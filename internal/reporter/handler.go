package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/boneskull/midnight-smoker-sub006/internal/event"
)

// Session binds a set of reporters to one run.
type Session struct {
	reporters []*Reporter
	contexts  []*Context
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	stdout, stderr io.Writer
}

// WithOutput replaces os.Stdout and os.Stderr.
func WithOutput(stdout, stderr io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.stdout, c.stderr = stdout, stderr
	}
}

// NewSession creates a context for every reporter.
func NewSession(reporters []*Reporter, opts Options, sopts ...SessionOption) *Session {
	cfg := sessionConfig{stdout: os.Stdout, stderr: os.Stderr}
	for _, o := range sopts {
		o(&cfg)
	}
	s := &Session{reporters: reporters}
	for range reporters {
		s.contexts = append(s.contexts, &Context{
			Options: opts,
			Stdout:  cfg.stdout,
			Stderr:  cfg.stderr,
			State:   make(map[string]any),
		})
	}
	return s
}

// Setup runs every reporter's Setup. The first failure is returned.
func (s *Session) Setup(ctx context.Context) error {
	for i, r := range s.reporters {
		if r.Definition.Setup == nil {
			continue
		}
		if err := r.Definition.Setup(ctx, s.contexts[i]); err != nil {
			return fmt.Errorf("reporter %s: setup failed: %w", r.ID(), err)
		}
	}
	return nil
}

// Teardown runs every reporter's Teardown and joins the failures.
func (s *Session) Teardown(ctx context.Context) error {
	var errs []error
	for i, r := range s.reporters {
		if r.Definition.Teardown == nil {
			continue
		}
		if err := r.Definition.Teardown(ctx, s.contexts[i]); err != nil {
			errs = append(errs, fmt.Errorf("reporter %s: teardown failed: %w", r.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Handlers returns one event handler per reporter.
func (s *Session) Handlers() []event.Handler {
	out := make([]event.Handler, 0, len(s.reporters))
	for i, r := range s.reporters {
		out = append(out, &handler{reporter: r, rc: s.contexts[i]})
	}
	return out
}

type handler struct {
	reporter *Reporter
	rc       *Context
}

func (h *handler) Handle(ctx context.Context, ev event.Event) error {
	l, ok := h.reporter.Definition.Listeners[ev.Type]
	if !ok {
		return nil
	}
	if err := l(ctx, h.rc, ev); err != nil {
		return fmt.Errorf("reporter %s: %s listener failed: %w", h.reporter.ID(), ev.Type, err)
	}
	return nil
}
