// Package rule implements the static checks run against installed packages.
//
// A rule is a plugin-defined check. For every (rule × installed package) pair
// the [Engine] builds a frozen [Context], invokes the rule's check function
// and reduces the reported issues to a verdict.
package rule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/schema"
)

// Severity classifies the findings of a rule.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityOff   Severity = "off"
)

// DefaultSeverity applies to rules that do not declare one.
const DefaultSeverity = SeverityError

// ParseSeverity parses a severity, accepting "warning" as "warn".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SeverityError):
		return SeverityError, nil
	case string(SeverityWarn), "warning":
		return SeverityWarn, nil
	case string(SeverityOff):
		return SeverityOff, nil
	default:
		return "", fmt.Errorf("invalid severity %q: must be one of error, warn, off", s)
	}
}

// CheckFunc is the logic of a rule. It reports problems through
// [Context.AddIssue]; returning an error means the check itself broke.
type CheckFunc func(ctx context.Context, rc *Context, opts map[string]any) error

// Definition is the plugin-facing definition of a rule component.
type Definition struct {
	Name        string
	Description string
	// URL points to the rule's documentation.
	URL             string
	DefaultSeverity Severity
	// Schema is an optional JSON schema for the rule options.
	Schema []byte
	// Defaults are merged beneath user-supplied options.
	Defaults map[string]any
	Check    CheckFunc
}

// Validate checks the required fields of the definition.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("rule name is required"))
	}
	if d.Description == "" {
		errs = append(errs, fmt.Errorf("rule %q: description is required", d.Name))
	}
	if d.Check == nil {
		errs = append(errs, fmt.Errorf("rule %q: check function is required", d.Name))
	}
	if d.DefaultSeverity != "" {
		if _, err := ParseSeverity(string(d.DefaultSeverity)); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", d.Name, err))
		}
	}
	if len(d.Schema) > 0 {
		if _, err := schema.Compile(d.Schema); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Rule is a registered rule: a definition plus its registry identity.
type Rule struct {
	Component  component.Component
	Definition *Definition

	schema *schema.Schema
}

// New binds a definition to its component identity.
func New(c component.Component, def *Definition) (*Rule, error) {
	r := &Rule{Component: c, Definition: def}
	if len(def.Schema) > 0 {
		s, err := schema.Compile(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", c.ID, err)
		}
		r.schema = s
	}
	return r, nil
}

func (r *Rule) ID() string {
	return r.Component.ID
}

// DefaultSeverity returns the declared default severity.
func (r *Rule) DefaultSeverity() Severity {
	if r.Definition.DefaultSeverity == "" {
		return DefaultSeverity
	}
	return r.Definition.DefaultSeverity
}

// Options merges opts over the rule defaults and validates the result.
func (r *Rule) Options(opts map[string]any) (map[string]any, error) {
	merged := schema.MergeDefaults(r.Definition.Defaults, opts)
	if r.schema != nil {
		if err := r.schema.Validate(r.ID(), merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Config is the user configuration of one rule.
type Config struct {
	Severity Severity       `json:"severity"`
	Options  map[string]any `json:"opts,omitempty"`
}

// Configured pairs a rule with its effective configuration.
type Configured struct {
	Rule    *Rule
	Config  Config
	options map[string]any
}

// Configure validates cfg against r. An empty severity falls back to the
// rule's default. Invalid options are reported before any check runs.
func Configure(r *Rule, cfg Config) (Configured, error) {
	if cfg.Severity == "" {
		cfg.Severity = r.DefaultSeverity()
	}
	opts, err := r.Options(cfg.Options)
	if err != nil {
		return Configured{}, err
	}
	return Configured{Rule: r, Config: cfg, options: opts}, nil
}

// Enabled reports whether the rule runs at all.
func (c Configured) Enabled() bool {
	return c.Config.Severity != SeverityOff
}
