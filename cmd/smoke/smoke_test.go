package smoke

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/builtin"
	v1 "github.com/boneskull/midnight-smoker-sub006/internal/configuration/v1"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/smoker"
)

func registry(t *testing.T) *plugin.Registry {
	t.Helper()
	catalog := plugin.NewCatalogLoader()
	require.NoError(t, (&builtin.Plugin{}).AddTo(catalog))
	reg := plugin.NewRegistry()
	res := plugin.NewResolver(catalog, plugin.WithWorkingDir(t.TempDir()))
	require.NoError(t, plugin.Load(t.Context(), res, reg, plugin.DefaultPluginID))
	reg.Seal()
	return reg
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("smoke", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func severities(rules []rule.Configured) map[string]rule.Severity {
	out := make(map[string]rule.Severity, len(rules))
	for _, r := range rules {
		out[r.Rule.ID()] = r.Config.Severity
	}
	return out
}

func TestBuildInvocationFlagsWin(t *testing.T) {
	reg := registry(t)
	lint := false
	cfg := &v1.Config{
		PkgManagers:    []string{"pnpm"},
		Scripts:        []string{"build"},
		Bail:           true,
		Lint:           &lint,
		JSON:           true,
		InstallTimeout: v1.Duration{Duration: time.Minute},
	}

	inv, err := BuildInvocation(flags(t, "--pm", "npm@10", "--pm", "pnpm@9", "--bail=false", "--install-timeout", "5s"), []string{"test"}, cfg, reg, "/work")
	require.NoError(t, err)

	opts := inv.Options
	assert.Equal(t, "/work", opts.Cwd)
	assert.Equal(t, []string{"npm@10", "pnpm@9"}, opts.PkgManagers)
	assert.Equal(t, []string{"test"}, opts.Scripts)
	assert.False(t, opts.Bail)
	assert.False(t, opts.Lint)
	assert.Equal(t, 5*time.Second, opts.InstallTimeout)
	assert.True(t, inv.Reporter.JSON)
}

func TestBuildInvocationConfigFallback(t *testing.T) {
	reg := registry(t)
	cfg := &v1.Config{
		PkgManagers:    []string{"pnpm"},
		Scripts:        []string{"build"},
		Workspaces:     []string{"packages/a"},
		IncludeRoot:    true,
		Linger:         true,
		InstallTimeout: v1.Duration{Duration: time.Minute},
		Rules: map[string]v1.RuleSetting{
			"no-banned-files": {Severity: rule.SeverityWarn},
		},
	}

	inv, err := BuildInvocation(flags(t), nil, cfg, reg, "/work")
	require.NoError(t, err)

	opts := inv.Options
	assert.Equal(t, []string{"pnpm"}, opts.PkgManagers)
	assert.Equal(t, []string{"build"}, opts.Scripts)
	assert.Equal(t, []string{"packages/a"}, opts.Workspaces.Workspaces)
	assert.True(t, opts.Workspaces.IncludeRoot)
	assert.True(t, opts.Linger)
	assert.True(t, opts.Lint)
	assert.Equal(t, time.Minute, opts.InstallTimeout)
	assert.Equal(t, rule.SeverityWarn, severities(opts.Rules)["no-banned-files"])
	assert.Equal(t, rule.SeverityError, severities(opts.Rules)["no-missing-exports"])
}

func TestBuildInvocationNoLintWins(t *testing.T) {
	inv, err := BuildInvocation(flags(t, "--lint", "--no-lint"), []string{"test"}, nil, registry(t), "/work")
	require.NoError(t, err)
	assert.False(t, inv.Options.Lint)
}

func TestBuildInvocationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		cfg  *v1.Config
		err  string
	}{
		{
			name: "nothing to do",
			args: []string{"--no-lint"},
			err:  "nothing to do",
		},
		{
			name: "unknown configured rule",
			cfg:  &v1.Config{Rules: map[string]v1.RuleSetting{"no-such-rule": {Severity: rule.SeverityWarn}}},
			err:  `unknown rule "no-such-rule"`,
		},
		{
			name: "invalid rule options",
			cfg:  &v1.Config{Rules: map[string]v1.RuleSetting{"no-missing-exports": {Options: map[string]any{"glob": "yes"}}}},
			err:  "no-missing-exports",
		},
		{
			name: "unknown package manager options",
			cfg:  &v1.Config{PkgManagerOptions: map[string]map[string]any{"bun": {}}},
			err:  `unknown package manager "bun"`,
		},
		{
			name: "invalid package manager options",
			cfg:  &v1.Config{PkgManagerOptions: map[string]map[string]any{"npm": {"registry": 5}}},
			err:  "npm",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildInvocation(flags(t, tt.args...), nil, tt.cfg, registry(t), "/work")
			require.ErrorContains(t, err, tt.err)
		})
	}
}

func TestConfigureRulesSelection(t *testing.T) {
	reg := registry(t)
	rules, err := ConfigureRules(reg, nil, []string{"no-banned-files"})
	require.NoError(t, err)
	got := severities(rules)
	assert.Len(t, got, 4)
	assert.Equal(t, rule.SeverityError, got["no-banned-files"])
	assert.Equal(t, rule.SeverityOff, got["no-missing-pkg-files"])
	assert.Equal(t, rule.SeverityOff, got["no-missing-exports"])
}

func TestFailedError(t *testing.T) {
	failed := &FailedError{Result: &smoker.RunResult{Verdict: smoker.VerdictFailed}}
	assert.Equal(t, "smoke test failed", failed.Error())
	assert.Equal(t, 1, failed.ExitCode())

	aborted := &FailedError{Result: &smoker.RunResult{Aborted: true, Err: assert.AnError}, Verbose: true}
	assert.Equal(t, "smoke test aborted: "+assert.AnError.Error(), aborted.Error())
	assert.ErrorIs(t, aborted, assert.AnError)

	errored := &FailedError{Result: &smoker.RunResult{Verdict: smoker.VerdictError, Err: assert.AnError}}
	assert.Equal(t, "smoke test errored", errored.Error())
}
