package smoker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
)

func checkResult(severity rule.Severity, issues int) rule.CheckResult {
	res := rule.CheckResult{RuleID: "r", Severity: severity, Verdict: rule.VerdictOk}
	for range issues {
		res.Issues = append(res.Issues, rule.Issue{Message: "bad", Severity: severity})
		res.Verdict = rule.VerdictFailed
	}
	return res
}

func resultGen() *rapid.Generator[*worker.Result] {
	return rapid.Custom(func(t *rapid.T) *worker.Result {
		r := &worker.Result{PkgManager: rapid.StringMatching(`[a-z]{2,5}@1\.0\.[0-9]`).Draw(t, "label")}
		if rapid.Bool().Draw(t, "packFails") {
			r.Packs = append(r.Packs, worker.PackOutcome{Err: errors.New("pack")})
		}
		if rapid.Bool().Draw(t, "installFails") {
			r.Installs = append(r.Installs, worker.InstallOutcome{Err: errors.New("install")})
		}
		if rapid.Bool().Draw(t, "errored") {
			r.Errors = append(r.Errors, errors.New("lifecycle"))
		}
		severity := rapid.SampledFrom([]rule.Severity{rule.SeverityWarn, rule.SeverityError}).Draw(t, "severity")
		r.Checks = append(r.Checks, checkResult(severity, rapid.IntRange(0, 2).Draw(t, "issues")))
		exit := rapid.SampledFrom([]int{0, 0, 1}).Draw(t, "exit")
		r.Scripts = append(r.Scripts, &pkgmanager.RunScriptResult{Result: &executor.Result{ExitCode: exit}})
		if rapid.Bool().Draw(t, "teardownFails") {
			r.TeardownErr = errors.New("teardown")
		}
		return r
	})
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		results := rapid.SliceOfN(resultGen(), 0, 6).Draw(t, "results")
		want := Aggregate(results)
		perm := rapid.Permutation(results).Draw(t, "perm")
		if got := Aggregate(perm); got != want {
			t.Fatalf("Aggregate depends on order: %s != %s", got, want)
		}
	})
}

func TestAggregate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		results []*worker.Result
		want    Verdict
	}{
		{
			name: "no branches",
			want: VerdictOk,
		},
		{
			name:    "warn issues only",
			results: []*worker.Result{{Checks: []rule.CheckResult{checkResult(rule.SeverityWarn, 1)}}},
			want:    VerdictOk,
		},
		{
			name: "an error issue anywhere",
			results: []*worker.Result{
				{Checks: []rule.CheckResult{checkResult(rule.SeverityWarn, 1)}},
				{Checks: []rule.CheckResult{checkResult(rule.SeverityError, 1)}},
			},
			want: VerdictFailed,
		},
		{
			name:    "broken rule",
			results: []*worker.Result{{Checks: []rule.CheckResult{{Verdict: rule.VerdictError}}}},
			want:    VerdictFailed,
		},
		{
			name:    "failed script",
			results: []*worker.Result{{Scripts: []*pkgmanager.RunScriptResult{{Result: &executor.Result{ExitCode: 2}}}}},
			want:    VerdictFailed,
		},
		{
			name:    "skipped script",
			results: []*worker.Result{{Scripts: []*pkgmanager.RunScriptResult{{Skipped: true, Result: &executor.Result{ExitCode: 1}}}}},
			want:    VerdictOk,
		},
		{
			name: "error wins over failure",
			results: []*worker.Result{
				{Installs: []worker.InstallOutcome{{Err: errors.New("install")}}},
				{Errors: []error{errors.New("setup")}},
			},
			want: VerdictError,
		},
		{
			name:    "teardown never overturns",
			results: []*worker.Result{{TeardownErr: errors.New("teardown")}},
			want:    VerdictOk,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.results))
		})
	}
}

func TestVerdictEventType(t *testing.T) {
	assert.Equal(t, event.SmokeOk, VerdictOk.EventType())
	assert.Equal(t, event.SmokeFailed, VerdictFailed.EventType())
	assert.Equal(t, event.SmokeError, VerdictError.EventType())
}
