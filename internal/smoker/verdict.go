package smoker

import (
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
)

// Verdict is the outcome of a finished run.
type Verdict string

const (
	VerdictOk     Verdict = "ok"
	VerdictFailed Verdict = "failed"
	// VerdictError means the run itself could not complete normally. It
	// takes precedence over VerdictFailed.
	VerdictError Verdict = "error"
)

// EventType returns the terminal event announcing v.
func (v Verdict) EventType() event.Type {
	switch v {
	case VerdictOk:
		return event.SmokeOk
	case VerdictFailed:
		return event.SmokeFailed
	default:
		return event.SmokeError
	}
}

func (v Verdict) rank() int {
	switch v {
	case VerdictError:
		return 2
	case VerdictFailed:
		return 1
	default:
		return 0
	}
}

// worst returns the more severe of a and b.
func worst(a, b Verdict) Verdict {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// BranchVerdict reduces the result of one branch. Warn-severity issues do
// not fail a branch.
func BranchVerdict(r *worker.Result) Verdict {
	switch {
	case r.Errored():
		return VerdictError
	case r.Failed():
		return VerdictFailed
	default:
		return VerdictOk
	}
}

// Aggregate reduces branch results to the run verdict. The reduction
// is a maximum over the branch verdicts, so the order of results does not
// matter.
func Aggregate(results []*worker.Result) Verdict {
	verdict := VerdictOk
	for _, r := range results {
		verdict = worst(verdict, BranchVerdict(r))
	}
	return verdict
}
