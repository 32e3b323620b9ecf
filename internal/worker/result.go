package worker

import (
	"slices"
	"time"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

// PackOutcome is the outcome of packing one workspace.
type PackOutcome struct {
	Workspace string                      `json:"workspace"`
	Manifest  *pkgmanager.InstallManifest `json:"manifest,omitempty"`
	Err       error                       `json:"-"`
}

// InstallOutcome is the outcome of installing one tarball.
type InstallOutcome struct {
	Workspace string                      `json:"workspace"`
	PkgName   string                      `json:"pkgName"`
	Manifest  *pkgmanager.InstallManifest `json:"manifest,omitempty"`
	Result    *executor.Result            `json:"rawResult,omitempty"`
	Err       error                       `json:"-"`
}

// Result is everything one worker did during a run.
type Result struct {
	PkgManager  string `json:"pkgManager"`
	ComponentID string `json:"componentId"`
	TmpDir      string `json:"tmpDir,omitempty"`
	// Lingered is set when TmpDir was left on disk.
	Lingered bool                          `json:"lingered,omitempty"`
	Packs    []PackOutcome                 `json:"packs,omitempty"`
	Installs []InstallOutcome              `json:"installs,omitempty"`
	Checks   []rule.CheckResult            `json:"checks,omitempty"`
	Scripts  []*pkgmanager.RunScriptResult `json:"scripts,omitempty"`
	// Skipped lists the operations that never ran, because an operation
	// they depend on failed or the run was cancelled.
	Skipped []string `json:"skipped,omitempty"`
	// Errors are orchestration-level failures: lifecycle hooks, malformed
	// manifests and the like.
	Errors []error `json:"-"`
	// TeardownErr is reported but does not affect the verdict.
	TeardownErr error `json:"-"`
	// Aborted is an *abort.AbortError when the worker was cancelled.
	Aborted  error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// PackFailed reports whether any workspace failed to pack.
func (r *Result) PackFailed() bool {
	return slices.ContainsFunc(r.Packs, func(p PackOutcome) bool { return p.Err != nil })
}

// InstallFailed reports whether any tarball failed to install.
func (r *Result) InstallFailed() bool {
	return slices.ContainsFunc(r.Installs, func(i InstallOutcome) bool { return i.Err != nil })
}

// LintFailed reports whether any check found an error-severity issue or
// broke.
func (r *Result) LintFailed() bool {
	return rule.Summarize(r.Checks) != rule.VerdictOk
}

// ScriptsFailed reports whether any script failed.
func (r *Result) ScriptsFailed() bool {
	return slices.ContainsFunc(r.Scripts, (*pkgmanager.RunScriptResult).Failed)
}

// Failed reports whether the branch failed: a pack or install failed, a
// script failed or a check found an error-severity issue.
func (r *Result) Failed() bool {
	return r.PackFailed() || r.InstallFailed() || r.LintFailed() || r.ScriptsFailed()
}

// Errored reports whether the branch could not complete normally.
func (r *Result) Errored() bool {
	return len(r.Errors) > 0
}
