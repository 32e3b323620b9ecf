package smoker

import (
	"errors"
	"maps"
	"slices"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// ErrBail is the cancellation cause used when a pack, install or lifecycle
// failure stops the run in bail mode.
var ErrBail = errors.New("bailed on first failure")

// Phase tags a State.
type Phase string

const (
	// PhaseIdle is the zero Phase, so a zero State is ready to start.
	PhaseIdle                  Phase = ""
	PhaseDiscoveringWorkspaces Phase = "discovering-workspaces"
	PhaseResolvingPkgManagers  Phase = "resolving-pkg-managers"
	PhaseRunning               Phase = "running"
	PhaseAggregating           Phase = "aggregating"
	PhaseDone                  Phase = "done"
	PhaseAborted               Phase = "aborted"
)

// BranchStatus is the status of one package-manager branch.
type BranchStatus string

const (
	BranchRunning BranchStatus = "running"
	BranchOk      BranchStatus = "ok"
	BranchFailed  BranchStatus = "failed"
	BranchErrored BranchStatus = "errored"
	BranchAborted BranchStatus = "aborted"
)

func branchStatus(r *worker.Result) BranchStatus {
	switch {
	case r.Errored():
		return BranchErrored
	case r.Failed():
		return BranchFailed
	case r.Aborted != nil:
		return BranchAborted
	default:
		return BranchOk
	}
}

// State is the state of a run. Phase selects which fields are meaningful:
// Verdict in PhaseDone, Err in PhaseDone (for VerdictError) and PhaseAborted.
// States are values; Transition never mutates its input.
type State struct {
	Phase Phase
	// Bail is fixed when the run starts.
	Bail bool

	Workspaces []workspace.Info
	Envelopes  []*pkgmanager.Envelope
	Unmatched  []string
	// Branches maps a package-manager label to the status of its branch.
	Branches map[string]BranchStatus
	Results  []*worker.Result

	// Bailing is set once the bail cancellation has been requested.
	Bailing bool
	// Interrupt is the external cancellation cause observed while branches
	// were still running.
	Interrupt error

	Verdict Verdict
	Err     error
}

// Terminal reports whether the run is over.
func (s State) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseAborted
}

// Pending returns the labels of branches still running, sorted.
func (s State) Pending() []string {
	var out []string
	for label, st := range s.Branches {
		if st == BranchRunning {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return out
}

// Event is an input of Transition.
type Event interface {
	isEvent()
}

// Start begins a run.
type Start struct {
	Bail bool
}

// WorkspacesDiscovered completes discovery.
type WorkspacesDiscovered struct {
	Workspaces []workspace.Info
}

// PkgManagersResolved completes resolution.
type PkgManagersResolved struct {
	Envelopes []*pkgmanager.Envelope
	Unmatched []string
}

// PhaseFailed reports a fatal error of discovery or resolution.
type PhaseFailed struct {
	Err error
}

// BranchFailure reports a pack, install or lifecycle failure in a branch
// that is still running.
type BranchFailure struct {
	Label string
	Err   error
}

// BranchDone reports a finished branch.
type BranchDone struct {
	Label  string
	Result *worker.Result
}

// Aggregated carries the verdict computed in PhaseAggregating.
type Aggregated struct {
	Verdict Verdict
}

// Cancelled reports that the run context was cancelled with Cause.
type Cancelled struct {
	Cause error
}

func (Start) isEvent()                {}
func (WorkspacesDiscovered) isEvent() {}
func (PkgManagersResolved) isEvent()  {}
func (PhaseFailed) isEvent()          {}
func (BranchFailure) isEvent()        {}
func (BranchDone) isEvent()           {}
func (Aggregated) isEvent()           {}
func (Cancelled) isEvent()            {}

// Effect is an action requested by Transition and carried out by the
// driver.
type Effect interface {
	isEffect()
}

// Discover requests workspace discovery.
type Discover struct{}

// Resolve requests package-manager resolution.
type Resolve struct{}

// Spawn requests one worker per envelope.
type Spawn struct {
	Envelopes  []*pkgmanager.Envelope
	Workspaces []workspace.Info
}

// Cancel requests cancellation of all outstanding work.
type Cancel struct {
	Cause error
}

// Reduce requests the verdict of the finished branches.
type Reduce struct {
	Results []*worker.Result
}

// Emit requests a run-level event.
type Emit struct {
	Type event.Type
}

func (Discover) isEffect()  {}
func (Resolve) isEffect()   {}
func (Spawn) isEffect()     {}
func (Cancel) isEffect()    {}
func (Reduce) isEffect()    {}
func (Emit) isEffect()      {}

// Transition computes the next state and the effects to carry out. Events
// that make no sense in the current state are ignored, and a terminal state
// never changes.
func Transition(s State, ev Event) (State, []Effect) {
	if s.Terminal() {
		return s, nil
	}
	if c, ok := ev.(Cancelled); ok {
		return cancelled(s, c.Cause)
	}

	switch s.Phase {
	case PhaseIdle:
		if e, ok := ev.(Start); ok {
			s.Phase = PhaseDiscoveringWorkspaces
			s.Bail = e.Bail
			return s, []Effect{Emit{Type: event.SmokeBegin}, Discover{}}
		}

	case PhaseDiscoveringWorkspaces:
		switch e := ev.(type) {
		case WorkspacesDiscovered:
			s.Phase = PhaseResolvingPkgManagers
			s.Workspaces = e.Workspaces
			return s, []Effect{Resolve{}}
		case PhaseFailed:
			return fatal(s, e.Err)
		}

	case PhaseResolvingPkgManagers:
		switch e := ev.(type) {
		case PkgManagersResolved:
			s.Envelopes = e.Envelopes
			s.Unmatched = e.Unmatched
			if len(e.Unmatched) > 0 {
				return fatal(s, &pkgmanager.UnsupportedPackageManagerError{Desired: e.Unmatched})
			}
			if len(e.Envelopes) == 0 {
				return fatal(s, errors.New("no package managers to run"))
			}
			s.Phase = PhaseRunning
			s.Branches = make(map[string]BranchStatus, len(e.Envelopes))
			for _, env := range e.Envelopes {
				s.Branches[env.Spec.Label()] = BranchRunning
			}
			return s, []Effect{Spawn{Envelopes: e.Envelopes, Workspaces: s.Workspaces}}
		case PhaseFailed:
			return fatal(s, e.Err)
		}

	case PhaseRunning:
		switch e := ev.(type) {
		case BranchFailure:
			if s.Bail && !s.Bailing && s.Branches[e.Label] == BranchRunning {
				s.Bailing = true
				return s, []Effect{Cancel{Cause: ErrBail}}
			}
		case BranchDone:
			if st, ok := s.Branches[e.Label]; !ok || st != BranchRunning {
				return s, nil
			}
			s.Branches = maps.Clone(s.Branches)
			s.Branches[e.Label] = branchStatus(e.Result)
			s.Results = append(slices.Clip(s.Results), e.Result)
			if len(s.Pending()) > 0 {
				return s, nil
			}
			if s.Interrupt != nil {
				return aborted(s, s.Interrupt)
			}
			s.Phase = PhaseAggregating
			return s, []Effect{Reduce{Results: s.Results}}
		}

	case PhaseAggregating:
		if e, ok := ev.(Aggregated); ok {
			s.Phase = PhaseDone
			s.Verdict = e.Verdict
			return s, []Effect{Emit{Type: e.Verdict.EventType()}}
		}
	}
	return s, nil
}

// cancelled handles a cancellation. While branches are running the run
// waits for them, since every worker tears down before it reports.
func cancelled(s State, cause error) (State, []Effect) {
	if cause == nil {
		cause = abort.ErrAborted
	}
	if s.Bailing && errors.Is(cause, ErrBail) {
		return s, nil
	}
	if s.Phase == PhaseRunning {
		if s.Interrupt == nil {
			s.Interrupt = cause
		}
		return s, nil
	}
	return aborted(s, cause)
}

func aborted(s State, cause error) (State, []Effect) {
	s.Phase = PhaseAborted
	s.Err = &abort.AbortError{Reason: cause, Op: "smoke"}
	return s, []Effect{Emit{Type: event.Aborted}}
}

func fatal(s State, err error) (State, []Effect) {
	s.Phase = PhaseDone
	s.Verdict = VerdictError
	s.Err = err
	return s, []Effect{Emit{Type: event.SmokeError}}
}
