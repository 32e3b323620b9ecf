// Package smoker orchestrates a smoke run: it discovers workspaces, resolves
// package managers, drives one worker per package manager and reduces their
// outcomes to a single verdict.
//
// The control flow is an explicit state machine. [Transition] is a pure
// function from a [State] and an [Event] to the next state and a list of
// [Effect]s; [Smoker.Run] carries the effects out and feeds completions back
// as events until the state is terminal.
package smoker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// PkgManagerResolver turns desired specifiers into envelopes.
type PkgManagerResolver interface {
	Resolve(ctx context.Context, desired []string) ([]*pkgmanager.Envelope, []string, error)
}

// DiscoverFunc discovers the workspaces below root.
type DiscoverFunc func(ctx context.Context, root string, opts workspace.Options) ([]workspace.Info, error)

// Options configures a run.
type Options struct {
	// Cwd is the directory workspaces are discovered from.
	Cwd        string
	Workspaces workspace.Options
	// PkgManagers are the desired specifiers; defaults to the default
	// package manager.
	PkgManagers []string
	Scripts     []string
	Rules       []rule.Configured
	Lint        bool
	// Bail cancels all outstanding work on the first pack, install or
	// lifecycle failure.
	Bail           bool
	Linger         bool
	InstallTimeout time.Duration
	Verbose        bool
	// Concurrency bounds the operations in flight per package manager.
	Concurrency int
	TmpRoot     string
	// AdapterOptions are keyed by package-manager component id.
	AdapterOptions map[string]map[string]any
}

// Smoker runs smoke tests.
type Smoker struct {
	resolver PkgManagerResolver
	exec     executor.Executor
	opts     Options
	discover DiscoverFunc
	cache    *version.Cache
	session  *reporter.Session
	handlers []event.Handler
}

// Option configures a Smoker.
type Option func(*Smoker)

// WithReporters delivers the events of the run to a reporter session, which
// is set up before the run starts and torn down after it ends.
func WithReporters(s *reporter.Session) Option {
	return func(sm *Smoker) { sm.session = s }
}

// WithHandlers adds event handlers.
func WithHandlers(h ...event.Handler) Option {
	return func(sm *Smoker) { sm.handlers = append(sm.handlers, h...) }
}

// WithDiscover replaces workspace.Discover.
func WithDiscover(fn DiscoverFunc) Option {
	return func(sm *Smoker) { sm.discover = fn }
}

// WithCache sets the normalizer cache shared with the resolver. It is
// purged when the run ends.
func WithCache(c *version.Cache) Option {
	return func(sm *Smoker) { sm.cache = c }
}

// New creates a Smoker.
func New(resolver PkgManagerResolver, exec executor.Executor, opts Options, options ...Option) *Smoker {
	s := &Smoker{
		resolver: resolver,
		exec:     exec,
		opts:     opts,
		discover: workspace.Discover,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run executes one smoke run and returns its terminal outcome. It always
// returns a result: fatal errors and cancellation are reported through it.
func (s *Smoker) Run(ctx context.Context) *RunResult {
	started := time.Now()
	runID := uuid.NewString()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if s.cache != nil {
		defer s.cache.Purge()
	}

	handlers := slices.Clone(s.handlers)
	if s.session != nil {
		if err := s.session.Setup(ctx); err != nil {
			st, _ := fatal(State{}, err)
			return newRunResult(runID, started, st)
		}
		handlers = append(handlers, s.session.Handlers()...)
	}

	d := &driver{
		Smoker:  s,
		bus:     event.NewBus(ctx, handlers, event.WithRunID(runID)),
		cancel:  cancel,
		runID:   runID,
		started: started,
		inbox:   make(chan Event, 16),
	}
	state := d.loop(ctx)
	res := d.result
	if res == nil {
		res = newRunResult(runID, started, state)
	}

	var errs []error
	if err := d.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.session != nil {
		if err := s.session.Teardown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		res.ReporterErr = errors.Join(errs...)
		slog.WarnContext(ctx, "reporter failed", "run", runID, "error", res.ReporterErr)
	}
	slog.DebugContext(ctx, "smoke run finished", "run", runID, "phase", state.Phase, "verdict", state.Verdict, "duration", res.Duration)
	return res
}

type driver struct {
	*Smoker
	bus     *event.Bus
	cancel  context.CancelCauseFunc
	runID   string
	started time.Time
	inbox   chan Event
	wg      sync.WaitGroup
	result  *RunResult
}

func (d *driver) loop(ctx context.Context) State {
	state := State{Phase: PhaseIdle}
	queue := []Event{Start{Bail: d.opts.Bail}}
	done := ctx.Done()
	for !state.Terminal() {
		var ev Event
		if len(queue) > 0 {
			ev, queue = queue[0], queue[1:]
		} else {
			select {
			case ev = <-d.inbox:
			case <-done:
				done = nil
				ev = Cancelled{Cause: context.Cause(ctx)}
			}
		}

		prev := state.Phase
		var effects []Effect
		state, effects = Transition(state, ev)
		if state.Phase != prev {
			slog.DebugContext(ctx, "smoke run transitioned", "run", d.runID, "from", prev, "to", state.Phase)
		}
		for _, eff := range effects {
			if next := d.do(ctx, state, eff); next != nil {
				queue = append(queue, next)
			}
		}
	}
	d.wg.Wait()
	return state
}

func (d *driver) do(ctx context.Context, s State, eff Effect) Event {
	switch e := eff.(type) {
	case Emit:
		d.emit(s, e.Type)
	case Discover:
		infos, err := d.discover(ctx, d.opts.Cwd, d.opts.Workspaces)
		if err != nil {
			return d.failed(ctx, err)
		}
		return WorkspacesDiscovered{Workspaces: infos}
	case Resolve:
		desired := d.opts.PkgManagers
		if len(desired) == 0 {
			desired = []string{pkgmanager.DefaultName}
		}
		envs, unmatched, err := d.resolver.Resolve(ctx, desired)
		if err != nil {
			return d.failed(ctx, err)
		}
		return PkgManagersResolved{Envelopes: envs, Unmatched: unmatched}
	case Spawn:
		for _, env := range e.Envelopes {
			d.spawn(ctx, env, e.Workspaces)
		}
	case Cancel:
		slog.DebugContext(ctx, "cancelling outstanding work", "run", d.runID, "cause", e.Cause)
		d.cancel(e.Cause)
	case Reduce:
		return Aggregated{Verdict: Aggregate(e.Results)}
	}
	return nil
}

// failed turns the error of a pre-run phase into an event. A cancellation
// wins over the error it caused.
func (d *driver) failed(ctx context.Context, err error) Event {
	if ctx.Err() != nil || abort.Is(err) {
		return Cancelled{Cause: context.Cause(ctx)}
	}
	return PhaseFailed{Err: err}
}

func (d *driver) spawn(ctx context.Context, env *pkgmanager.Envelope, workspaces []workspace.Info) {
	label := env.Spec.Label()
	w := worker.New(env, d.exec, d.bus, worker.Options{
		Workspaces:     workspaces,
		Scripts:        d.opts.Scripts,
		Rules:          d.opts.Rules,
		Lint:           d.opts.Lint,
		Linger:         d.opts.Linger,
		InstallTimeout: d.opts.InstallTimeout,
		Verbose:        d.opts.Verbose,
		AdapterOptions: d.opts.AdapterOptions[env.ComponentID()],
		TmpRoot:        d.opts.TmpRoot,
		Concurrency:    d.opts.Concurrency,
		OnFailure: func(err error) {
			d.inbox <- BranchFailure{Label: label, Err: err}
		},
	})
	d.wg.Go(func() {
		res := w.Run(ctx)
		d.inbox <- BranchDone{Label: label, Result: res}
	})
}

func (d *driver) emit(s State, typ event.Type) {
	ev := event.Event{Type: typ}
	if typ.Terminal() {
		d.result = newRunResult(d.runID, d.started, s)
		ev.Data = d.result
		ev.Err = s.Err
	}
	if err := d.bus.Emit(ev); err != nil {
		slog.Debug("dropped event", "event", typ, "error", err)
	}
}
