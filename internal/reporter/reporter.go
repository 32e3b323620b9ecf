// Package reporter defines reporter components: plugin-supplied listener
// sets that render the events of a run.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
)

// Options is the subset of the run configuration reporters may consult.
type Options struct {
	JSON    bool
	Verbose bool
}

// Context is passed to every reporter callback.
type Context struct {
	Options Options
	Stdout  io.Writer
	Stderr  io.Writer
	// State is private to one reporter for the lifetime of one run.
	State map[string]any
}

// Listener handles one event type.
type Listener func(ctx context.Context, rc *Context, ev event.Event) error

// Definition is the plugin-facing definition of a reporter component.
type Definition struct {
	Name        string
	Description string
	// When selects the reporter when none is requested explicitly. A nil
	// When never selects it implicitly.
	When      func(opts Options) bool
	Setup     func(ctx context.Context, rc *Context) error
	Teardown  func(ctx context.Context, rc *Context) error
	Listeners map[event.Type]Listener
}

// Validate checks the required fields of the definition.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("reporter name is required"))
	}
	if d.Description == "" {
		errs = append(errs, fmt.Errorf("reporter %q: description is required", d.Name))
	}
	if len(d.Listeners) == 0 {
		errs = append(errs, fmt.Errorf("reporter %q: at least one listener is required", d.Name))
	}
	for typ, l := range d.Listeners {
		if l == nil {
			errs = append(errs, fmt.Errorf("reporter %q: listener for %s is nil", d.Name, typ))
		}
	}
	return errors.Join(errs...)
}

// Reporter is a registered reporter.
type Reporter struct {
	Component  component.Component
	Definition *Definition
}

func (r *Reporter) ID() string {
	return r.Component.ID
}

// NotFoundError is returned by Select for an unknown reporter id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no reporter with id %q", e.ID)
}

// Select returns the reporters named by ids, or, when ids is empty, every
// reporter whose When accepts opts.
func Select(all []*Reporter, ids []string, opts Options) ([]*Reporter, error) {
	if len(ids) == 0 {
		var out []*Reporter
		for _, r := range all {
			if r.Definition.When != nil && r.Definition.When(opts) {
				out = append(out, r)
			}
		}
		return out, nil
	}
	out := make([]*Reporter, 0, len(ids))
	for _, id := range ids {
		i := slices.IndexFunc(all, func(r *Reporter) bool { return r.ID() == id })
		if i < 0 {
			return nil, &NotFoundError{ID: id}
		}
		if !slices.Contains(out, all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}
