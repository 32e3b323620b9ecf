package smoker

import (
	"cmp"
	"slices"
	"time"

	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// RunResult is the single terminal outcome of a run.
type RunResult struct {
	ID string `json:"id"`
	// Verdict is empty when the run was aborted.
	Verdict Verdict `json:"verdict,omitempty"`
	Aborted bool    `json:"aborted,omitempty"`
	// Err is the fatal error of an Error verdict, or the *abort.AbortError
	// of an aborted run.
	Err        error            `json:"-"`
	Message    string           `json:"error,omitempty"`
	Workspaces []workspace.Info `json:"workspaces,omitempty"`
	// PkgManagers are the labels of the resolved package managers.
	PkgManagers []string         `json:"pkgManagers,omitempty"`
	Unmatched   []string         `json:"unmatched,omitempty"`
	Branches    []*worker.Result `json:"branches,omitempty"`
	// Lingered lists the temp dirs left on disk.
	Lingered []string `json:"lingered,omitempty"`
	// ReporterErr is reported but does not affect the verdict.
	ReporterErr error         `json:"-"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
}

// Ok reports whether the run completed with an Ok verdict.
func (r *RunResult) Ok() bool {
	return !r.Aborted && r.Verdict == VerdictOk
}

// ExitCode is 0 for an Ok run and 1 otherwise.
func (r *RunResult) ExitCode() int {
	if r.Ok() {
		return 0
	}
	return 1
}

// Issues returns every issue found by the rule checks, in branch order.
func (r *RunResult) Issues() []rule.Issue {
	var out []rule.Issue
	for _, b := range r.Branches {
		for _, c := range b.Checks {
			out = append(out, c.Issues...)
		}
	}
	return out
}

// newRunResult builds the result of a terminal state. Branches are sorted
// by label so the result does not depend on completion order.
func newRunResult(id string, started time.Time, s State) *RunResult {
	res := &RunResult{
		ID:         id,
		Workspaces: s.Workspaces,
		Unmatched:  s.Unmatched,
		Branches:   slices.Clone(s.Results),
		Started:    started,
		Duration:   time.Since(started),
	}
	switch s.Phase {
	case PhaseAborted:
		res.Aborted = true
	case PhaseDone:
		res.Verdict = s.Verdict
	}
	if s.Err != nil {
		res.Err = s.Err
		res.Message = s.Err.Error()
	}
	for _, env := range s.Envelopes {
		res.PkgManagers = append(res.PkgManagers, env.Spec.Label())
	}
	slices.SortFunc(res.Branches, func(a, b *worker.Result) int {
		return cmp.Compare(a.PkgManager, b.PkgManager)
	})
	for _, b := range res.Branches {
		if b.Lingered {
			res.Lingered = append(res.Lingered, b.TmpDir)
		}
	}
	return res
}
