package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

// Config is the content of a configuration file. Zero values mean "not
// set"; the command line overrides every field it names.
type Config struct {
	Plugins     []string `json:"plugin,omitempty"`
	PkgManagers []string `json:"pkgManager,omitempty"`
	Scripts     []string `json:"scripts,omitempty"`
	Workspaces  []string `json:"workspace,omitempty"`
	All         bool     `json:"all,omitempty"`
	IncludeRoot bool     `json:"includeRoot,omitempty"`
	Reporters   []string `json:"reporter,omitempty"`
	Bail        bool     `json:"bail,omitempty"`
	// Lint is nil when unset, which enables linting.
	Lint           *bool    `json:"lint,omitempty"`
	Linger         bool     `json:"linger,omitempty"`
	JSON           bool     `json:"json,omitempty"`
	Verbose        bool     `json:"verbose,omitempty"`
	InstallTimeout Duration `json:"installTimeout,omitzero"`
	// Rules maps rule ids to their settings.
	Rules map[string]RuleSetting `json:"rules,omitempty"`
	// PkgManagerOptions maps adapter ids to adapter options.
	PkgManagerOptions map[string]map[string]any `json:"pkgManagerOptions,omitempty"`
}

// LintEnabled reports whether linting is on.
func (c *Config) LintEnabled() bool {
	return c.Lint == nil || *c.Lint
}

// RuleConfigs returns the rule settings in the shape the rule engine takes.
func (c *Config) RuleConfigs() map[string]rule.Config {
	out := make(map[string]rule.Config, len(c.Rules))
	for id, s := range c.Rules {
		out[id] = rule.Config{Severity: s.Severity, Options: s.Options}
	}
	return out
}

// Validate checks the values a file can get wrong.
func (c *Config) Validate() error {
	var errs []error
	if c.InstallTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("installTimeout must not be negative, got %s", c.InstallTimeout))
	}
	for id, s := range c.Rules {
		if s.Severity == "" {
			continue
		}
		if _, err := rule.ParseSeverity(string(s.Severity)); err != nil {
			errs = append(errs, fmt.Errorf("rules.%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RuleSetting is the configuration of one rule. It is written as a bare
// severity ("warn"), a tuple (["warn", {...}]) or an object
// ({severity: warn, opts: {...}}). A boolean enables or disables the rule.
type RuleSetting struct {
	Severity rule.Severity  `json:"severity,omitempty"`
	Options  map[string]any `json:"opts,omitempty"`
}

func (r *RuleSetting) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var sev string
		if err := json.Unmarshal(data, &sev); err != nil {
			return err
		}
		r.Severity = rule.Severity(sev)
		return nil
	case 't', 'f':
		var on bool
		if err := json.Unmarshal(data, &on); err != nil {
			return err
		}
		r.Severity = rule.SeverityOff
		if on {
			r.Severity = rule.DefaultSeverity
		}
		return nil
	case '[':
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) == 0 || len(tuple) > 2 {
			return fmt.Errorf("rule setting must be [severity] or [severity, options], got %d elements", len(tuple))
		}
		var sev string
		if err := json.Unmarshal(tuple[0], &sev); err != nil {
			return fmt.Errorf("rule severity: %w", err)
		}
		r.Severity = rule.Severity(sev)
		if len(tuple) == 2 {
			if err := json.Unmarshal(tuple[1], &r.Options); err != nil {
				return fmt.Errorf("rule options: %w", err)
			}
		}
		return nil
	case '{':
		type plain RuleSetting
		var p plain
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return err
		}
		*r = RuleSetting(p)
		return nil
	}
	return fmt.Errorf("unsupported rule setting %s", data)
}

// Duration is a time.Duration written as a Go duration string ("90s") or a
// number of milliseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v * float64(time.Millisecond))
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// IsZero reports whether the duration is unset.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}
