package smoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

const testPlugin = "@midnight-smoker/plugin-default"

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) Handle(_ context.Context, ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []event.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.Type, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) last() event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// fakePM is an adapter that "packs" a workspace by pointing at its
// directory and "installs" it by writing the manifest to the install path.
type fakePM struct {
	name string
	// install overrides the default install when set
	install func(ctx context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error)
	// scriptExit is the exit code of every script
	scriptExit int
}

func (f *fakePM) candidate() pkgmanager.Candidate {
	def := &pkgmanager.Definition{
		Name:        f.name,
		Description: "fake " + f.name,
		Versions:    version.Data{Versions: []string{"1.0.0", "2.0.0"}, Tags: map[string]string{"latest": "2.0.0"}},
		Pack: func(_ context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			return pkgmanager.InstallTarget(pc.Workspace, pc.Workspace.LocalPath, pc.TmpDir), nil
		},
		Install: func(ctx context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error) {
			if f.install != nil {
				return f.install(ctx, ic)
			}
			return installManifest(ic)
		},
		RunScript: func(context.Context, *pkgmanager.RunScriptContext) (*pkgmanager.RunScriptResult, error) {
			return &pkgmanager.RunScriptResult{Result: &executor.Result{ExitCode: f.scriptExit}}, nil
		},
	}
	return pkgmanager.Candidate{Component: component.New(component.KindPackageManager, testPlugin, f.name, true), Adapter: def}
}

func installManifest(ic *pkgmanager.InstallContext) (*executor.Result, error) {
	if err := os.MkdirAll(ic.Manifest.InstallPath, 0o755); err != nil {
		return nil, err
	}
	data := fmt.Sprintf(`{"name":%q,"version":"1.0.0"}`, ic.Manifest.PkgName)
	return &executor.Result{}, os.WriteFile(filepath.Join(ic.Manifest.InstallPath, workspace.ManifestFilename), []byte(data), 0o644)
}

func discoverFixed(t *testing.T, names ...string) DiscoverFunc {
	root := t.TempDir()
	var infos []workspace.Info
	for _, n := range names {
		dir := filepath.Join(root, n)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		infos = append(infos, workspace.Info{Name: n, LocalPath: dir, Manifest: &workspace.Manifest{Name: n}})
	}
	return func(context.Context, string, workspace.Options) ([]workspace.Info, error) {
		return infos, nil
	}
}

func failInstall(names ...string) func(context.Context, *pkgmanager.InstallContext) (*executor.Result, error) {
	return func(_ context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error) {
		for _, n := range names {
			if ic.Manifest.PkgName == n {
				res := &executor.Result{ExitCode: 1, Stderr: "ENOENT"}
				return res, &executor.ExitError{Result: res}
			}
		}
		return installManifest(ic)
	}
}

func blockInstall(started chan<- struct{}) func(context.Context, *pkgmanager.InstallContext) (*executor.Result, error) {
	var once sync.Once
	return func(ctx context.Context, _ *pkgmanager.InstallContext) (*executor.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func issueRule(t *testing.T, severity rule.Severity) rule.Configured {
	r, err := rule.New(component.New(component.KindRule, testPlugin, "always-complains", true), &rule.Definition{
		Name:        "always-complains",
		Description: "reports one issue",
		Check: func(_ context.Context, rc *rule.Context, _ map[string]any) error {
			rc.AddIssue("something is off in " + rc.PkgName())
			return nil
		},
	})
	require.NoError(t, err)
	cr, err := rule.Configure(r, rule.Config{Severity: severity})
	require.NoError(t, err)
	return cr
}

func newSmoker(t *testing.T, pms []*fakePM, discover DiscoverFunc, opts Options, extra ...Option) (*Smoker, *eventLog) {
	var candidates []pkgmanager.Candidate
	for _, pm := range pms {
		candidates = append(candidates, pm.candidate())
	}
	if opts.TmpRoot == "" {
		opts.TmpRoot = t.TempDir()
	}
	log := &eventLog{}
	cache := version.NewCache(0)
	resolver := pkgmanager.NewResolver(candidates, nil, pkgmanager.WithCache(cache))
	options := append([]Option{WithDiscover(discover), WithHandlers(log), WithCache(cache)}, extra...)
	return New(resolver, nil, opts, options...), log
}

func TestRunPartialInstallFailure(t *testing.T) {
	pm := &fakePM{name: "npm", install: failInstall("a")}
	s, log := newSmoker(t, []*fakePM{pm}, discoverFixed(t, "a", "b"), Options{
		Scripts: []string{"smoke"},
		Lint:    true,
		Rules:   []rule.Configured{issueRule(t, rule.SeverityWarn)},
	})

	res := s.Run(t.Context())
	require.False(t, res.Aborted)
	assert.Equal(t, VerdictFailed, res.Verdict)
	assert.Equal(t, 1, res.ExitCode())
	assert.Equal(t, []string{"npm@2.0.0"}, res.PkgManagers)
	assert.NotEmpty(t, res.ID)

	require.Len(t, res.Branches, 1)
	branch := res.Branches[0]
	require.Len(t, branch.Scripts, 1)
	assert.Equal(t, "b", branch.Scripts[0].PkgName, "b still runs its scripts")
	require.Len(t, branch.Checks, 1)
	assert.Equal(t, "b", branch.Checks[0].PkgName)

	types := log.types()
	assert.Equal(t, event.SmokeBegin, types[0])
	assert.Equal(t, event.SmokeFailed, types[len(types)-1])
	assert.Same(t, res, log.last().Data)
	for _, ev := range log.events {
		assert.Equal(t, res.ID, ev.RunID)
	}
}

func TestRunSeverityAggregation(t *testing.T) {
	for _, tt := range []struct {
		severity rule.Severity
		want     Verdict
	}{
		{severity: rule.SeverityWarn, want: VerdictOk},
		{severity: rule.SeverityError, want: VerdictFailed},
	} {
		t.Run(string(tt.severity), func(t *testing.T) {
			s, log := newSmoker(t, []*fakePM{{name: "npm"}}, discoverFixed(t, "a", "b"), Options{
				Lint:  true,
				Rules: []rule.Configured{issueRule(t, tt.severity)},
			})
			res := s.Run(t.Context())
			assert.Equal(t, tt.want, res.Verdict)
			assert.Len(t, res.Issues(), 2, "every package has an issue either way")
			assert.Equal(t, tt.want.EventType(), log.last().Type)
		})
	}
}

func TestRunScriptFailure(t *testing.T) {
	s, _ := newSmoker(t, []*fakePM{{name: "npm", scriptExit: 1}}, discoverFixed(t, "a"), Options{Scripts: []string{"test"}})
	res := s.Run(t.Context())
	assert.Equal(t, VerdictFailed, res.Verdict)
}

func TestRunMultiplePkgManagers(t *testing.T) {
	s, log := newSmoker(t, []*fakePM{{name: "npm"}, {name: "pnpm"}}, discoverFixed(t, "a"), Options{
		PkgManagers: []string{"npm@1", "pnpm", "npm@1.0.0"},
		Linger:      true,
	})
	res := s.Run(t.Context())
	assert.Equal(t, VerdictOk, res.Verdict)
	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, []string{"npm@1.0.0", "pnpm@2.0.0"}, res.PkgManagers, "duplicate labels collapse")
	require.Len(t, res.Branches, 2)
	assert.Equal(t, "npm@1.0.0", res.Branches[0].PkgManager)
	require.Len(t, res.Lingered, 2)
	for _, dir := range res.Lingered {
		assert.DirExists(t, dir)
	}
	assert.Contains(t, log.types(), event.Lingered)
}

func TestRunBail(t *testing.T) {
	started := make(chan struct{})
	broken := &fakePM{name: "npm", install: failInstall("a")}
	slow := &fakePM{name: "pnpm", install: blockInstall(started)}
	s, _ := newSmoker(t, []*fakePM{broken, slow}, discoverFixed(t, "a"), Options{
		PkgManagers: []string{"npm", "pnpm"},
		Bail:        true,
	})

	res := s.Run(t.Context())
	require.False(t, res.Aborted, "bailing is not an abort")
	assert.Equal(t, VerdictFailed, res.Verdict)
	require.Len(t, res.Branches, 2)
	assert.True(t, res.Branches[0].InstallFailed())
	assert.ErrorIs(t, res.Branches[1].Aborted, ErrBail)
}

func TestRunCancelled(t *testing.T) {
	started := make(chan struct{})
	s, log := newSmoker(t, []*fakePM{{name: "npm", install: blockInstall(started)}}, discoverFixed(t, "a"), Options{
		Scripts: []string{"test"},
	})
	ctx, cancel := context.WithCancelCause(t.Context())
	reason := errors.New("interrupted")
	go func() {
		<-started
		cancel(reason)
	}()

	res := s.Run(ctx)
	require.True(t, res.Aborted)
	assert.Empty(t, res.Verdict)
	assert.Equal(t, 1, res.ExitCode())
	assert.True(t, abort.Is(res.Err))
	assert.ErrorIs(t, res.Err, reason)

	require.Len(t, res.Branches, 1)
	install := res.Branches[0].Installs[0]
	assert.True(t, abort.Is(install.Err))
	var ierr *pkgmanager.InstallError
	assert.False(t, errors.As(install.Err, &ierr))
	assert.Empty(t, res.Branches[0].Scripts)

	assert.Equal(t, event.Aborted, log.last().Type)
	assert.NotContains(t, log.types(), event.RunScriptBegin)
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("unmatched package manager", func(t *testing.T) {
		s, log := newSmoker(t, []*fakePM{{name: "npm"}}, discoverFixed(t, "a"), Options{
			PkgManagers: []string{"npm", "npm@^999"},
		})
		res := s.Run(t.Context())
		assert.Equal(t, VerdictError, res.Verdict)
		var uerr *pkgmanager.UnsupportedPackageManagerError
		require.ErrorAs(t, res.Err, &uerr)
		assert.Equal(t, []string{"npm@^999"}, res.Unmatched)
		assert.Empty(t, res.Branches)
		assert.Equal(t, []event.Type{event.SmokeBegin, event.SmokeError}, log.types())
	})

	t.Run("discovery", func(t *testing.T) {
		discover := func(context.Context, string, workspace.Options) ([]workspace.Info, error) {
			return nil, workspace.ErrNoWorkspaces
		}
		s, _ := newSmoker(t, []*fakePM{{name: "npm"}}, discover, Options{})
		res := s.Run(t.Context())
		assert.Equal(t, VerdictError, res.Verdict)
		assert.ErrorIs(t, res.Err, workspace.ErrNoWorkspaces)
		assert.Equal(t, "no workspaces selected", res.Message)
	})

	t.Run("cancelled during discovery", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(t.Context())
		reason := errors.New("stop")
		discover := func(ctx context.Context, _ string, _ workspace.Options) ([]workspace.Info, error) {
			cancel(reason)
			return nil, ctx.Err()
		}
		s, _ := newSmoker(t, []*fakePM{{name: "npm"}}, discover, Options{})
		res := s.Run(ctx)
		assert.True(t, res.Aborted)
		assert.ErrorIs(t, res.Err, reason)
	})
}

func TestRunPurgesCache(t *testing.T) {
	cache := version.NewCache(0)
	resolver := pkgmanager.NewResolver([]pkgmanager.Candidate{(&fakePM{name: "npm"}).candidate()}, nil, pkgmanager.WithCache(cache))
	s := New(resolver, nil, Options{TmpRoot: t.TempDir()}, WithDiscover(discoverFixed(t, "a")), WithCache(cache))
	res := s.Run(t.Context())
	assert.Equal(t, VerdictOk, res.Verdict)
	assert.Zero(t, cache.Len())
}

func TestRunReporters(t *testing.T) {
	var stdout bytes.Buffer
	var tornDown bool
	rep := &reporter.Reporter{
		Component: component.New(component.KindReporter, testPlugin, "summary", true),
		Definition: &reporter.Definition{
			Name:        "summary",
			Description: "prints the verdict",
			Teardown: func(context.Context, *reporter.Context) error {
				tornDown = true
				return nil
			},
			Listeners: map[event.Type]reporter.Listener{
				event.SmokeOk: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
					_, err := fmt.Fprintf(rc.Stdout, "ok %s\n", ev.Data.(*RunResult).ID)
					return err
				},
				event.PackOk: func(context.Context, *reporter.Context, event.Event) error {
					return errors.New("cannot render")
				},
			},
		},
	}
	session := reporter.NewSession([]*reporter.Reporter{rep}, reporter.Options{}, reporter.WithOutput(&stdout, &stdout))
	s, _ := newSmoker(t, []*fakePM{{name: "npm"}}, discoverFixed(t, "a"), Options{}, WithReporters(session))

	res := s.Run(t.Context())
	assert.Equal(t, VerdictOk, res.Verdict, "a broken reporter does not change the verdict")
	assert.Equal(t, "ok "+res.ID+"\n", stdout.String())
	assert.ErrorContains(t, res.ReporterErr, "cannot render")
	assert.True(t, tornDown)
}
