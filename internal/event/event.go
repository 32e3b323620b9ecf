// Package event defines the events emitted during a smoke run and the bus
// delivering them to reporters.
package event

import (
	"time"
)

// Type names an event.
type Type string

const (
	SmokeBegin  Type = "SmokeBegin"
	SmokeOk     Type = "SmokeOk"
	SmokeFailed Type = "SmokeFailed"
	SmokeError  Type = "SmokeError"
	Aborted     Type = "Aborted"

	PkgManagerBegin  Type = "PkgManagerBegin"
	PkgManagerOk     Type = "PkgManagerOk"
	PkgManagerFailed Type = "PkgManagerFailed"

	PackBegin  Type = "PackBegin"
	PackOk     Type = "PackOk"
	PackFailed Type = "PackFailed"

	InstallBegin  Type = "InstallBegin"
	InstallOk     Type = "InstallOk"
	InstallFailed Type = "InstallFailed"

	LintBegin  Type = "LintBegin"
	LintOk     Type = "LintOk"
	LintFailed Type = "LintFailed"

	RuleBegin  Type = "RuleBegin"
	RuleOk     Type = "RuleOk"
	RuleFailed Type = "RuleFailed"
	RuleError  Type = "RuleError"

	RunScriptBegin   Type = "RunScriptBegin"
	RunScriptOk      Type = "RunScriptOk"
	RunScriptFailed  Type = "RunScriptFailed"
	RunScriptSkipped Type = "RunScriptSkipped"

	Lingered Type = "Lingered"
)

// Types lists every event type in logical phase order.
var Types = []Type{
	SmokeBegin,
	PkgManagerBegin,
	PackBegin, PackOk, PackFailed,
	InstallBegin, InstallOk, InstallFailed,
	LintBegin, RuleBegin, RuleOk, RuleFailed, RuleError, LintOk, LintFailed,
	RunScriptBegin, RunScriptOk, RunScriptFailed, RunScriptSkipped,
	PkgManagerOk, PkgManagerFailed,
	Lingered,
	SmokeOk, SmokeFailed, SmokeError, Aborted,
}

// Terminal reports whether t ends a run.
func (t Type) Terminal() bool {
	switch t {
	case SmokeOk, SmokeFailed, SmokeError, Aborted:
		return true
	}
	return false
}

// Event is one notification. Fields that do not apply to the type are
// empty. Data carries the type-specific payload:
//
//   - RuleOk, RuleFailed, RuleError: rule.CheckResult
//   - RunScript*: *pkgmanager.RunScriptResult
//   - InstallOk, InstallFailed: *executor.Result (may be nil)
//   - SmokeOk, SmokeFailed, SmokeError, Aborted: the run result
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	// Seq is assigned by the bus in emission order.
	Seq   uint64 `json:"seq"`
	RunID string `json:"runId,omitempty"`
	// PkgManager is the label of the package manager, e.g. "npm@10.8.2".
	PkgManager string   `json:"pkgManager,omitempty"`
	PkgName    string   `json:"pkgName,omitempty"`
	Workspace  string   `json:"workspace,omitempty"`
	Tarball    string   `json:"tarball,omitempty"`
	Rule       string   `json:"rule,omitempty"`
	Script     string   `json:"script,omitempty"`
	Dirs       []string `json:"dirs,omitempty"`
	Err        error    `json:"-"`
	Data       any      `json:"data,omitempty"`
}

// ErrMessage is the message of Err, for serialization.
func (e Event) ErrMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
