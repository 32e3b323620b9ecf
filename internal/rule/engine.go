package rule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/result"
)

// Verdict is the outcome of one check.
type Verdict string

const (
	VerdictOk     Verdict = "ok"
	VerdictFailed Verdict = "failed"
	VerdictError  Verdict = "error"
)

// RuleError wraps an error raised by the check logic itself, as opposed to
// an issue it reported.
type RuleError struct {
	RuleID  string
	PkgName string
	Cause   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s failed to check %s: %v", e.RuleID, e.PkgName, e.Cause)
}

func (e *RuleError) Unwrap() error {
	return e.Cause
}

// CheckResult is the reduced outcome of one (rule × package) check.
type CheckResult struct {
	RuleID     string   `json:"rule"`
	PkgName    string   `json:"pkgName"`
	PkgManager string   `json:"pkgManager"`
	Severity   Severity `json:"severity"`
	Verdict    Verdict  `json:"verdict"`
	Issues     []Issue  `json:"issues,omitempty"`
	Err        error    `json:"-"`
}

// HasErrors reports whether the result fails the run: an error-severity
// issue or a broken check.
func (r CheckResult) HasErrors() bool {
	if r.Verdict == VerdictError {
		return true
	}
	return slices.ContainsFunc(r.Issues, Issue.IsError)
}

// Listener observes check progress. All methods may be called concurrently.
type Listener interface {
	RuleBegin(ctx context.Context, rule *Rule, pkg Package)
	RuleEnd(ctx context.Context, res CheckResult)
}

// Engine runs rule checks.
type Engine struct {
	listener Listener
	// concurrency bounds CheckAll; <= 0 is unlimited.
	concurrency int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithListener reports begin/end of every check to l.
func WithListener(l Listener) EngineOption {
	return func(e *Engine) { e.listener = l }
}

// WithConcurrency bounds the number of concurrent checks.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) { e.concurrency = n }
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check runs one configured rule against one package. The context is
// finalized exactly once after the check returns or panics: no issues is Ok,
// issues are Failed and a check error is Error. Cancellation yields an Error
// output carrying an *abort.AbortError.
func (e *Engine) Check(ctx context.Context, cr Configured, pkg Package) result.Output[CheckResult] {
	rule := cr.Rule
	res := CheckResult{
		RuleID:     rule.ID(),
		PkgName:    pkg.Name,
		PkgManager: pkg.PkgManager,
		Severity:   cr.Config.Severity,
	}
	if err := abort.Check(ctx, "rule "+rule.ID()); err != nil {
		res.Verdict = VerdictError
		res.Err = err
		return result.Error(err, res)
	}

	if e.listener != nil {
		e.listener.RuleBegin(ctx, rule, pkg)
	}

	rc := NewContext(rule.ID(), cr.Config.Severity, pkg)
	out := result.Capture(func() (struct{}, error) {
		return struct{}{}, rule.Definition.Check(ctx, rc, cr.options)
	})
	issues, ferr := rc.Finalize()
	if ferr != nil {
		// a context is created per check; reaching this is a bug
		panic(ferr)
	}
	res.Issues = issues

	var output result.Output[CheckResult]
	switch {
	case out.IsError():
		var err error = &RuleError{RuleID: rule.ID(), PkgName: pkg.Name, Cause: out.Err}
		err = abort.Prefer(ctx, "rule "+rule.ID(), err)
		res.Verdict = VerdictError
		res.Err = err
		output = result.Error(err, res)
	case len(issues) > 0:
		res.Verdict = VerdictFailed
		output = result.Ok(res)
	default:
		res.Verdict = VerdictOk
		output = result.Ok(res)
	}

	slog.DebugContext(ctx, "rule checked", "rule", res.RuleID, "pkg", res.PkgName, "verdict", res.Verdict, "issues", len(res.Issues))
	if e.listener != nil {
		e.listener.RuleEnd(ctx, res)
	}
	return output
}

// CheckAll runs the cross-product of enabled rules and packages
// concurrently. Every pair is independent; results are returned sorted by
// package manager, package and rule id so that callers never depend on
// completion order. The error is non-nil only if ctx was cancelled.
func (e *Engine) CheckAll(ctx context.Context, rules []Configured, pkgs []Package) ([]CheckResult, error) {
	var (
		mu      sync.Mutex
		results []CheckResult
		aborted error
	)
	g := new(errgroup.Group)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for _, pkg := range pkgs {
		for _, cr := range rules {
			if !cr.Enabled() {
				continue
			}
			g.Go(func() error {
				out := e.guardedCheck(ctx, cr, pkg)
				mu.Lock()
				defer mu.Unlock()
				if out.IsError() && abort.Is(out.Err) {
					aborted = errors.Join(aborted, out.Err)
					return nil
				}
				results = append(results, out.Value)
				return nil
			})
		}
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b CheckResult) int {
		return cmp.Or(
			cmp.Compare(a.PkgManager, b.PkgManager),
			cmp.Compare(a.PkgName, b.PkgName),
			cmp.Compare(a.RuleID, b.RuleID),
		)
	})
	if aborted != nil {
		return results, abort.FromContext(ctx, "lint")
	}
	return results, nil
}

// guardedCheck is Check with a panicking listener reported as a broken
// check instead of unwinding the goroutine.
func (e *Engine) guardedCheck(ctx context.Context, cr Configured, pkg Package) (out result.Output[CheckResult]) {
	defer func() {
		if r := recover(); r != nil {
			err := &RuleError{RuleID: cr.Rule.ID(), PkgName: pkg.Name, Cause: &result.PanicError{Value: r}}
			out = result.Error(err, CheckResult{
				RuleID:     cr.Rule.ID(),
				PkgName:    pkg.Name,
				PkgManager: pkg.PkgManager,
				Severity:   cr.Config.Severity,
				Verdict:    VerdictError,
				Err:        err,
			})
		}
	}()
	return e.Check(ctx, cr, pkg)
}

// Summarize reduces results to a single verdict: Error if any check broke,
// Failed if any error-severity issue was reported, Ok otherwise. Warnings
// never fail.
func Summarize(results []CheckResult) Verdict {
	verdict := VerdictOk
	for _, r := range results {
		if r.Verdict == VerdictError {
			return VerdictError
		}
		if r.HasErrors() {
			verdict = VerdictFailed
		}
	}
	return verdict
}
