package worker

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/result"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types(pkg string) []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Type
	for _, ev := range r.events {
		if pkg == "" || ev.PkgName == pkg {
			out = append(out, ev.Type)
		}
	}
	return out
}

func writeTarball(path string, files map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}); err != nil {
			return err
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// fakeAdapter packs real tarballs and installs by writing the manifest to
// the install path.
type fakeAdapter struct {
	failInstall    map[string]bool
	blockInstall   bool
	installStarted chan struct{}
	scriptExit     int

	mu            sync.Mutex
	teardownCalls int
}

func (f *fakeAdapter) definition() *pkgmanager.Definition {
	return &pkgmanager.Definition{
		Name:        "fake",
		Description: "fake",
		Pack: func(_ context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			tarball := filepath.Join(pc.PackDir, pc.Workspace.Name+".tgz")
			if err := writeTarball(tarball, map[string]string{"package/package.json": `{"name":"` + pc.Workspace.Name + `"}`}); err != nil {
				return nil, err
			}
			return pkgmanager.InstallTarget(pc.Workspace, tarball, filepath.Join(pc.TmpDir, "install-"+pc.Workspace.Name)), nil
		},
		Install: func(ctx context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error) {
			if f.blockInstall {
				close(f.installStarted)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if f.failInstall[ic.Manifest.PkgName] {
				res := &executor.Result{ExitCode: 1, Stderr: "E404"}
				return res, &executor.ExitError{Result: res}
			}
			if err := os.MkdirAll(ic.Manifest.InstallPath, 0o755); err != nil {
				return nil, err
			}
			manifest := []byte(`{"name":"` + ic.Manifest.PkgName + `"}`)
			return &executor.Result{}, os.WriteFile(filepath.Join(ic.Manifest.InstallPath, "package.json"), manifest, 0o644)
		},
		RunScript: func(_ context.Context, rc *pkgmanager.RunScriptContext) (*pkgmanager.RunScriptResult, error) {
			return &pkgmanager.RunScriptResult{Result: &executor.Result{ExitCode: f.scriptExit}}, nil
		},
		Teardown: func(context.Context, *pkgmanager.LifecycleContext) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.teardownCalls++
			return nil
		},
	}
}

func envelope(def *pkgmanager.Definition) *pkgmanager.Envelope {
	return &pkgmanager.Envelope{
		Component: component.New(component.KindPackageManager, "p", def.Name, true),
		Adapter:   def,
		Spec:      pkgmanager.Spec{Name: def.Name, Version: "1.0.0"},
	}
}

func workspaces(names ...string) []workspace.Info {
	var out []workspace.Info
	for _, n := range names {
		out = append(out, workspace.Info{Name: n, LocalPath: "/src/" + n, Manifest: &workspace.Manifest{Name: n}})
	}
	return out
}

func configuredRule(t *testing.T, severity rule.Severity, issue bool) rule.Configured {
	r, err := rule.New(component.New(component.KindRule, "p", "r", true), &rule.Definition{
		Name:        "r",
		Description: "r",
		Check: func(_ context.Context, rc *rule.Context, _ map[string]any) error {
			if issue {
				rc.AddIssue("bad")
			}
			return nil
		},
	})
	require.NoError(t, err)
	cr, err := rule.Configure(r, rule.Config{Severity: severity})
	require.NoError(t, err)
	return cr
}

func TestPartialInstallFailure(t *testing.T) {
	fa := &fakeAdapter{failInstall: map[string]bool{"a": true}}
	rec := &recorder{}
	var failures []error
	w := New(envelope(fa.definition()), nil, rec, Options{
		Workspaces: workspaces("a", "b"),
		Scripts:    []string{"test"},
		Lint:       true,
		Rules:      []rule.Configured{configuredRule(t, rule.SeverityError, false)},
		TmpRoot:    t.TempDir(),
		OnFailure:  func(err error) { failures = append(failures, err) },
	})

	res := w.Run(t.Context())
	require.True(t, res.Failed())
	assert.False(t, res.Errored())
	assert.Nil(t, res.Aborted)
	assert.True(t, res.InstallFailed())
	assert.False(t, res.LintFailed())

	var ierr *pkgmanager.InstallError
	require.Len(t, failures, 1)
	require.ErrorAs(t, failures[0], &ierr)
	assert.Equal(t, "a", ierr.PkgName)
	assert.Equal(t, "E404", ierr.Result.Stderr)

	assert.Equal(t, []string{"lint:/src/a", "script:/src/a:test"}, res.Skipped)
	require.Len(t, res.Scripts, 1)
	assert.Equal(t, "b", res.Scripts[0].PkgName)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, "b", res.Checks[0].PkgName)

	assert.Equal(t, []event.Type{event.PackBegin, event.PackOk, event.InstallBegin, event.InstallFailed}, rec.types("a"))
	bTypes := rec.types("b")
	assert.Contains(t, bTypes, event.LintOk)
	assert.Contains(t, bTypes, event.RunScriptOk)
	assert.Less(t, slices.Index(bTypes, event.InstallOk), slices.Index(bTypes, event.RunScriptBegin))

	all := rec.types("")
	assert.Equal(t, event.PkgManagerBegin, all[0])
	assert.Equal(t, event.PkgManagerFailed, all[len(all)-1])
	for _, ev := range rec.events {
		assert.Equal(t, "fake@1.0.0", ev.PkgManager)
	}

	assert.Equal(t, 1, fa.teardownCalls)
	_, err := os.Stat(res.TmpDir)
	assert.True(t, os.IsNotExist(err), "temp dir is removed")
}

func TestSeverityAggregation(t *testing.T) {
	for _, tt := range []struct {
		severity rule.Severity
		failed   bool
	}{
		{severity: rule.SeverityWarn, failed: false},
		{severity: rule.SeverityError, failed: true},
	} {
		t.Run(string(tt.severity), func(t *testing.T) {
			fa := &fakeAdapter{}
			rec := &recorder{}
			w := New(envelope(fa.definition()), nil, rec, Options{
				Workspaces: workspaces("a"),
				Lint:       true,
				Rules:      []rule.Configured{configuredRule(t, tt.severity, true)},
				TmpRoot:    t.TempDir(),
			})
			res := w.Run(t.Context())
			require.Len(t, res.Checks, 1)
			assert.Equal(t, rule.VerdictFailed, res.Checks[0].Verdict, "issues are present either way")
			assert.Equal(t, tt.failed, res.Failed())
			assert.Contains(t, rec.types("a"), event.RuleFailed)
		})
	}
}

func TestScriptFailureIsData(t *testing.T) {
	fa := &fakeAdapter{scriptExit: 1}
	var failures []error
	w := New(envelope(fa.definition()), nil, nil, Options{
		Workspaces: workspaces("a"),
		Scripts:    []string{"test"},
		TmpRoot:    t.TempDir(),
		OnFailure:  func(err error) { failures = append(failures, err) },
	})
	res := w.Run(t.Context())
	assert.True(t, res.ScriptsFailed())
	assert.True(t, res.Failed())
	assert.Empty(t, failures, "script failures never bail")
}

func TestCancelDuringInstall(t *testing.T) {
	fa := &fakeAdapter{blockInstall: true, installStarted: make(chan struct{})}
	rec := &recorder{}
	ctx, cancel := context.WithCancelCause(t.Context())
	reason := errors.New("user pressed ctrl-c")
	go func() {
		<-fa.installStarted
		cancel(reason)
	}()

	var failures []error
	w := New(envelope(fa.definition()), nil, rec, Options{
		Workspaces: workspaces("a"),
		Scripts:    []string{"test"},
		TmpRoot:    t.TempDir(),
		OnFailure:  func(err error) { failures = append(failures, err) },
	})
	res := w.Run(ctx)

	require.Len(t, res.Installs, 1)
	err := res.Installs[0].Err
	require.True(t, abort.Is(err))
	var ierr *pkgmanager.InstallError
	assert.False(t, errors.As(err, &ierr), "a cancellation is not an install error")
	assert.ErrorIs(t, err, reason)
	assert.ErrorIs(t, res.Aborted, reason)
	assert.Empty(t, res.Scripts)
	assert.NotContains(t, rec.types("a"), event.RunScriptBegin)
	assert.Empty(t, failures)
	assert.Equal(t, 1, fa.teardownCalls, "teardown runs after cancellation")
}

func TestInstallTimeout(t *testing.T) {
	fa := &fakeAdapter{blockInstall: true, installStarted: make(chan struct{})}
	var failures []error
	w := New(envelope(fa.definition()), nil, nil, Options{
		Workspaces:     workspaces("a"),
		InstallTimeout: 20 * time.Millisecond,
		TmpRoot:        t.TempDir(),
		OnFailure:      func(err error) { failures = append(failures, err) },
	})
	res := w.Run(t.Context())

	require.Len(t, res.Installs, 1)
	err := res.Installs[0].Err
	assert.True(t, abort.Is(err))
	assert.ErrorIs(t, err, pkgmanager.ErrInstallTimeout)
	assert.Nil(t, res.Aborted, "the timeout is scoped to the install")
	assert.True(t, res.Failed())
	assert.Len(t, failures, 1)
}

func TestLifecycleFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("setup", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Setup = func(context.Context, *pkgmanager.LifecycleContext) error { return boom }
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		require.True(t, res.Errored())
		var lerr *pkgmanager.LifecycleError
		require.ErrorAs(t, res.Errors[0], &lerr)
		assert.Equal(t, pkgmanager.HookSetup, lerr.Hook)
		assert.Empty(t, res.Packs)
		assert.Equal(t, 1, fa.teardownCalls)
	})

	t.Run("teardown", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Teardown = func(context.Context, *pkgmanager.LifecycleContext) error { panic(boom) }
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		assert.ErrorIs(t, res.TeardownErr, boom)
		assert.False(t, res.Failed())
		assert.False(t, res.Errored(), "teardown never overturns the verdict")
	})
}

func TestPackFailures(t *testing.T) {
	t.Run("malformed manifest", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Pack = func(context.Context, *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			return &pkgmanager.InstallManifest{PkgName: "a"}, nil
		}
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		require.True(t, res.Errored())
		var merr *pkgmanager.MalformedManifestError
		assert.ErrorAs(t, res.Errors[0], &merr)
		assert.Equal(t, []string{"install:/src/a"}, res.Skipped)
	})

	t.Run("tarball without manifest", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Pack = func(_ context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			tarball := filepath.Join(pc.PackDir, "a.tgz")
			if err := writeTarball(tarball, map[string]string{"package/README.md": "hi"}); err != nil {
				return nil, err
			}
			return pkgmanager.InstallTarget(pc.Workspace, tarball, pc.TmpDir), nil
		}
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		require.True(t, res.PackFailed())
		var perr *pkgmanager.PackError
		require.ErrorAs(t, res.Packs[0].Err, &perr)
		assert.ErrorIs(t, perr, ErrNoTarballManifest)
	})

	t.Run("missing tarball", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Pack = func(_ context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			return pkgmanager.InstallTarget(pc.Workspace, filepath.Join(pc.PackDir, "missing.tgz"), pc.TmpDir), nil
		}
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		require.True(t, res.Errored())
		require.Len(t, res.Errors, 1)
		var merr *pkgmanager.MalformedManifestError
		require.ErrorAs(t, res.Errors[0], &merr)
		assert.ErrorIs(t, merr, os.ErrNotExist)
		assert.Equal(t, []string{"install:/src/a"}, res.Skipped)
	})

	t.Run("adapter panic", func(t *testing.T) {
		fa := &fakeAdapter{}
		def := fa.definition()
		def.Pack = func(context.Context, *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			panic("adapter bug")
		}
		res := New(envelope(def), nil, nil, Options{Workspaces: workspaces("a"), TmpRoot: t.TempDir()}).Run(t.Context())
		var perr *pkgmanager.PackError
		require.ErrorAs(t, res.Packs[0].Err, &perr)
		assert.ErrorContains(t, perr, "panic: adapter bug")
	})
}

func TestLinger(t *testing.T) {
	fa := &fakeAdapter{}
	rec := &recorder{}
	res := New(envelope(fa.definition()), nil, rec, Options{Workspaces: workspaces("a"), Linger: true, TmpRoot: t.TempDir()}).Run(t.Context())
	require.True(t, res.Lingered)
	assert.DirExists(t, res.TmpDir)
	assert.Contains(t, rec.types(""), event.Lingered)
}

// panicOn is an emitter that panics on one event type.
type panicOn event.Type

func (p panicOn) Emit(ev event.Event) error {
	if ev.Type == event.Type(p) {
		panic("emitter bug")
	}
	return nil
}

func TestEmitterPanicErrorsBranch(t *testing.T) {
	fa := &fakeAdapter{}
	res := New(envelope(fa.definition()), nil, panicOn(event.LintBegin), Options{
		Workspaces: workspaces("a"),
		Lint:       true,
		Rules:      []rule.Configured{configuredRule(t, rule.SeverityError, false)},
		TmpRoot:    t.TempDir(),
	}).Run(t.Context())

	assert.False(t, res.Failed())
	require.True(t, res.Errored())
	require.Len(t, res.Errors, 1)
	var perr *result.PanicError
	require.ErrorAs(t, res.Errors[0], &perr)
	assert.Equal(t, "emitter bug", perr.Value)
	assert.ErrorContains(t, res.Errors[0], "lint:/src/a")
}

func TestPlanDeduplicates(t *testing.T) {
	fa := &fakeAdapter{}
	w := New(envelope(fa.definition()), nil, nil, Options{
		Workspaces: append(workspaces("a"), workspaces("a")...),
		Scripts:    []string{"test", "test", "build"},
		Lint:       true,
		Rules:      []rule.Configured{configuredRule(t, rule.SeverityError, false)},
	})
	g, err := w.plan()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"install:/src/a",
		"lint:/src/a",
		"pack:/src/a",
		"script:/src/a:build",
		"script:/src/a:test",
	}, g.IDs())

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, "pack:/src/a", order[0])
	assert.Equal(t, "install:/src/a", order[1])
}

func TestDuplicateScriptsRunOnce(t *testing.T) {
	fa := &fakeAdapter{}
	res := New(envelope(fa.definition()), nil, nil, Options{
		Workspaces: workspaces("a"),
		Scripts:    []string{"test", "test"},
		TmpRoot:    t.TempDir(),
	}).Run(t.Context())
	require.False(t, res.Failed())
	assert.Len(t, res.Scripts, 1)
}
