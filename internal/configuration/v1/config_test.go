package v1

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
pkgManager: [npm@10, pnpm]
scripts: [test]
lint: false
installTimeout: 90s
rules:
  no-banned-files: warn
  no-missing-exports: [error, {glob: false}]
  no-missing-pkg-files:
    severity: "off"
  no-missing-entry-point: false
pkgManagerOptions:
  npm:
    registry: http://localhost:4873
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"npm@10", "pnpm"}, cfg.PkgManagers)
	assert.Equal(t, []string{"test"}, cfg.Scripts)
	assert.False(t, cfg.LintEnabled())
	assert.Equal(t, 90*time.Second, cfg.InstallTimeout.Duration)
	assert.Equal(t, map[string]rule.Config{
		"no-banned-files":        {Severity: rule.SeverityWarn},
		"no-missing-exports":     {Severity: rule.SeverityError, Options: map[string]any{"glob": false}},
		"no-missing-pkg-files":   {Severity: rule.SeverityOff},
		"no-missing-entry-point": {Severity: rule.SeverityOff},
	}, cfg.RuleConfigs())
	assert.Equal(t, "http://localhost:4873", cfg.PkgManagerOptions["npm"]["registry"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown field", doc: `pkgManagers: [npm]`},
		{name: "bad severity", doc: `rules: {no-banned-files: loud}`},
		{name: "long tuple", doc: `rules: {no-banned-files: [warn, {}, {}]}`},
		{name: "unknown setting field", doc: `rules: {no-banned-files: {level: warn}}`},
		{name: "bad duration", doc: `installTimeout: soon`},
		{name: "negative duration", doc: `installTimeout: -1s`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestDurationMilliseconds(t *testing.T) {
	cfg, err := Parse([]byte(`{"installTimeout": 1500}`))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.InstallTimeout.Duration)
}

func TestLintDefaultsOn(t *testing.T) {
	assert.True(t, (&Config{}).LintEnabled())
}

func TestFind(t *testing.T) {
	t.Setenv(EnvironmentKey, "")

	root := t.TempDir()
	nested := filepath.Join(root, "packages", "a")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, err := Find(nested)
	if err == nil {
		t.Skip("a configuration file exists above the temp dir")
	}
	require.ErrorIs(t, err, ErrNotFound)

	rc := filepath.Join(root, ".smokerrc.yml")
	require.NoError(t, os.WriteFile(rc, []byte("bail: true\n"), 0o644))
	got, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, rc, got)

	manifest := filepath.Join(nested, "package.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"name":"a","smoker":{"scripts":["test"]}}`), 0o644))
	got, err = Find(nested)
	require.NoError(t, err)
	assert.Equal(t, manifest, got)

	cfg, path, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, manifest, path)
	assert.Equal(t, []string{"test"}, cfg.Scripts)
}

func TestFindEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("linger: true\n"), 0o644))
	t.Setenv(EnvironmentKey, path)

	cfg, got, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.True(t, cfg.Linger)

	t.Setenv(EnvironmentKey, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Find(".")
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	lint := false
	in := &Config{
		PkgManagers:    []string{"npm@10"},
		Lint:           &lint,
		InstallTimeout: Duration{2 * time.Minute},
		Rules:          map[string]RuleSetting{"no-banned-files": {Severity: rule.SeverityWarn}},
	}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "installTimeout: 2m0s")

	out, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
