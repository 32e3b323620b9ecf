// Package execplugin loads plugins implemented as external executables.
//
// An executable plugin answers three commands, exchanging JSON over stdin and
// stdout:
//
//	<bin> describe                                  -> Description
//	<bin> check <rule>                              CheckRequest -> CheckResponse
//	<bin> pm <name> pack|install|run-script         *Request -> *Response
//
// A non-zero exit status is a failure of the command; its stderr is
// reported.
package execplugin

import (
	"encoding/json"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
)

// Protocol command names.
const (
	CommandDescribe   = "describe"
	CommandCheck      = "check"
	CommandPkgManager = "pm"

	OpPack      = "pack"
	OpInstall   = "install"
	OpRunScript = "run-script"
)

// Description is the output of "describe".
type Description struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Version         string           `json:"version,omitempty"`
	Rules           []RuleSpec       `json:"rules,omitempty"`
	PackageManagers []PkgManagerSpec `json:"packageManagers,omitempty"`
}

// RuleSpec declares a rule implemented by the executable.
type RuleSpec struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	URL             string          `json:"url,omitempty"`
	DefaultSeverity rule.Severity   `json:"defaultSeverity,omitempty"`
	Schema          json.RawMessage `json:"schema,omitempty"`
}

// PkgManagerSpec declares a package-manager adapter implemented by the
// executable.
type PkgManagerSpec struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Bin               string          `json:"bin,omitempty"`
	SupportedVersions string          `json:"supportedVersions,omitempty"`
	Versions          version.Data    `json:"versions"`
	Schema            json.RawMessage `json:"schema,omitempty"`
}

// CheckRequest is the input of "check".
type CheckRequest struct {
	Package  rule.Package   `json:"package"`
	Manifest map[string]any `json:"manifest,omitempty"`
	Severity rule.Severity  `json:"severity"`
	Options  map[string]any `json:"opts,omitempty"`
}

// CheckResponse is the output of "check".
type CheckResponse struct {
	Issues []ReportedIssue `json:"issues,omitempty"`
}

// ReportedIssue is one issue reported by an executable rule.
type ReportedIssue struct {
	Message  string `json:"message"`
	Data     any    `json:"data,omitempty"`
	Filepath string `json:"filepath,omitempty"`
	JSONPath string `json:"jsonPath,omitempty"`
}

// WorkspaceRef identifies the workspace being packed.
type WorkspaceRef struct {
	Name         string `json:"pkgName"`
	LocalPath    string `json:"localPath"`
	ManifestPath string `json:"pkgJsonPath"`
}

// BaseRequest is shared by every "pm" request.
type BaseRequest struct {
	Spec    pkgmanager.Spec `json:"spec"`
	TmpDir  string          `json:"tmpdir"`
	Options map[string]any  `json:"opts,omitempty"`
	Verbose bool            `json:"verbose,omitempty"`
}

// PackRequest is the input of "pm <name> pack".
type PackRequest struct {
	BaseRequest
	Workspace WorkspaceRef `json:"workspace"`
	PackDir   string       `json:"packDir"`
}

// InstallRequest is the input of "pm <name> install".
type InstallRequest struct {
	BaseRequest
	Manifest pkgmanager.InstallManifest `json:"manifest"`
}

// RunScriptRequest is the input of "pm <name> run-script".
type RunScriptRequest struct {
	BaseRequest
	Manifest pkgmanager.RunScriptManifest `json:"manifest"`
}

// RunScriptResponse is the output of "pm <name> run-script".
type RunScriptResponse struct {
	Result  *executor.Result `json:"rawResult,omitempty"`
	Skipped bool             `json:"skipped,omitempty"`
	Error   string           `json:"error,omitempty"`
}
