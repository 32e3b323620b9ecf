package rule

import (
	"errors"
	"fmt"
	"sync"

	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// ErrContextFinalized is returned by a second call to [Context.Finalize].
var ErrContextFinalized = errors.New("rule context already finalized")

// Package is an installed package subject to rule checks.
type Package struct {
	Name string `json:"pkgName"`
	// InstallPath is the directory of the installed package, i.e.
	// <tmp>/node_modules/<name>.
	InstallPath  string              `json:"installPath"`
	ManifestPath string              `json:"pkgJsonPath"`
	Manifest     *workspace.Manifest `json:"-"`
	// PkgManager is the label of the package manager that installed it.
	PkgManager string `json:"pkgManager"`
	// Workspace is the local path of the workspace it was packed from.
	Workspace string `json:"workspace"`
}

// Issue is one problem reported by a rule.
type Issue struct {
	Message    string   `json:"message"`
	Data       any      `json:"data,omitempty"`
	Filepath   string   `json:"filepath,omitempty"`
	JSONPath   string   `json:"jsonPath,omitempty"`
	Severity   Severity `json:"severity"`
	RuleID     string   `json:"rule"`
	PkgName    string   `json:"pkgName"`
	PkgManager string   `json:"pkgManager"`
}

// IsError reports whether the issue fails the run.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError
}

func (i Issue) String() string {
	if i.Filepath != "" {
		return fmt.Sprintf("%s: %s (%s)", i.RuleID, i.Message, i.Filepath)
	}
	return fmt.Sprintf("%s: %s", i.RuleID, i.Message)
}

// IssueOption decorates an issue.
type IssueOption func(*Issue)

// WithData attaches structured data.
func WithData(data any) IssueOption {
	return func(i *Issue) { i.Data = data }
}

// WithFilepath points the issue at a file.
func WithFilepath(path string) IssueOption {
	return func(i *Issue) { i.Filepath = path }
}

// WithJSONPath points the issue at a location in the package manifest.
func WithJSONPath(path string) IssueOption {
	return func(i *Issue) { i.JSONPath = path }
}

// Context is the frozen view of one (rule × package) execution. Its static
// fields never change; issues are append-only until Finalize.
type Context struct {
	pkg      Package
	severity Severity
	ruleID   string

	mu        sync.Mutex
	issues    []Issue
	finalized bool
}

// NewContext creates the context for running ruleID against pkg.
func NewContext(ruleID string, severity Severity, pkg Package) *Context {
	return &Context{pkg: pkg, severity: severity, ruleID: ruleID}
}

func (c *Context) InstallPath() string           { return c.pkg.InstallPath }
func (c *Context) PkgName() string               { return c.pkg.Name }
func (c *Context) PkgManager() string            { return c.pkg.PkgManager }
func (c *Context) ManifestPath() string          { return c.pkg.ManifestPath }
func (c *Context) Manifest() *workspace.Manifest { return c.pkg.Manifest }
func (c *Context) Severity() Severity            { return c.severity }
func (c *Context) RuleID() string                { return c.ruleID }
func (c *Context) Package() Package              { return c.pkg }

// AddIssue reports a problem. It never fails and never stops the check;
// issues reported after Finalize are dropped.
func (c *Context) AddIssue(message string, opts ...IssueOption) {
	issue := Issue{
		Message:    message,
		Severity:   c.severity,
		RuleID:     c.ruleID,
		PkgName:    c.pkg.Name,
		PkgManager: c.pkg.PkgManager,
	}
	for _, opt := range opts {
		opt(&issue)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.issues = append(c.issues, issue)
}

// Finalize ends issue collection and returns the issues. It may be called
// once; later calls return ErrContextFinalized and no issues.
func (c *Context) Finalize() ([]Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return nil, ErrContextFinalized
	}
	c.finalized = true
	out := make([]Issue, len(c.issues))
	copy(out, c.issues)
	return out, nil
}
