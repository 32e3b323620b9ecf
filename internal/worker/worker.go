// Package worker drives one resolved package manager through a run: setup,
// pack, install, lint and run-scripts, then teardown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/dag"
	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/result"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// DefaultTeardownTimeout bounds teardown, which also runs after
// cancellation.
const DefaultTeardownTimeout = 30 * time.Second

// Emitter receives the events of the worker.
type Emitter interface {
	Emit(ev event.Event) error
}

// Options configures a Worker.
type Options struct {
	Workspaces []workspace.Info
	// Scripts are run in every installed package.
	Scripts []string
	// Rules are checked against every installed package when Lint is set.
	Rules []rule.Configured
	Lint  bool
	// Linger keeps the temp dir after the run.
	Linger bool
	// InstallTimeout bounds each install. Zero means no timeout.
	InstallTimeout time.Duration
	Verbose        bool
	AdapterOptions map[string]any
	// TmpRoot is where the private temp dir is created; defaults to
	// os.TempDir.
	TmpRoot string
	// Concurrency bounds the operations in flight; <= 0 is unlimited.
	Concurrency int
	// OnFailure is called for every pack, install or lifecycle failure.
	OnFailure func(err error)
}

// Worker owns one envelope for the lifetime of one run.
type Worker struct {
	env     *pkgmanager.Envelope
	exec    executor.Executor
	emitter Emitter
	opts    Options
	label   string

	mu     sync.Mutex
	res    *Result
	packed map[string]*pkgmanager.InstallManifest
	// installed maps a workspace to the package it installed
	installed map[string]rule.Package
}

// New creates a Worker.
func New(env *pkgmanager.Envelope, exec executor.Executor, emitter Emitter, opts Options) *Worker {
	label := env.Spec.Label()
	return &Worker{
		env:     env,
		exec:    exec,
		emitter: emitter,
		opts:    opts,
		label:   label,
		res: &Result{
			PkgManager:  label,
			ComponentID: env.ComponentID(),
		},
		packed:    make(map[string]*pkgmanager.InstallManifest),
		installed: make(map[string]rule.Package),
	}
}

// Label is the label of the package manager the worker drives.
func (w *Worker) Label() string {
	return w.label
}

type task func(ctx context.Context, base pkgmanager.BaseContext) error

// Run executes the whole lifecycle. It never returns early: teardown runs
// and the temp dir is handled whatever happened before.
func (w *Worker) Run(ctx context.Context) *Result {
	start := time.Now()
	w.emit(event.Event{Type: event.PkgManagerBegin})

	base := pkgmanager.BaseContext{
		Spec:     w.env.Spec,
		Executor: w.exec,
		Options:  w.opts.AdapterOptions,
		Verbose:  w.opts.Verbose,
	}

	tmp, err := w.makeTmpDir()
	if err != nil {
		w.addError(err)
	} else {
		base.TmpDir = tmp
		w.res.TmpDir = tmp
		if err := w.lifecycle(ctx, pkgmanager.HookSetup, w.env.Adapter.Setup, base); err != nil {
			if !abort.Is(err) {
				w.addError(err)
				w.fail(err)
			}
		} else {
			w.process(ctx, base)
		}
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTeardownTimeout)
		if err := w.lifecycle(tctx, pkgmanager.HookTeardown, w.env.Adapter.Teardown, base); err != nil {
			slog.WarnContext(ctx, "teardown failed", "pkgManager", w.label, "error", err)
			w.res.TeardownErr = err
		}
		cancel()
		w.cleanup(ctx, tmp)
	}

	if ctx.Err() != nil {
		w.res.Aborted = abort.FromContext(ctx, "pkg-manager "+w.label)
	}
	w.res.Duration = time.Since(start)

	typ := event.PkgManagerOk
	if w.res.Failed() || w.res.Errored() || w.res.Aborted != nil {
		typ = event.PkgManagerFailed
	}
	w.emit(event.Event{Type: typ, Data: w.res})
	return w.res
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (w *Worker) makeTmpDir() (string, error) {
	pattern := "smoker-" + unsafeChars.ReplaceAllString(w.env.Spec.Name+"-"+w.env.Spec.Version, "_") + "-"
	dir, err := os.MkdirTemp(w.opts.TmpRoot, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir for %s: %w", w.label, err)
	}
	return dir, nil
}

func (w *Worker) cleanup(ctx context.Context, tmp string) {
	if w.opts.Linger {
		w.res.Lingered = true
		w.emit(event.Event{Type: event.Lingered, Dirs: []string{tmp}})
		return
	}
	if err := os.RemoveAll(tmp); err != nil {
		slog.WarnContext(ctx, "failed to remove temp dir", "dir", tmp, "error", err)
	}
}

func (w *Worker) lifecycle(ctx context.Context, hook pkgmanager.Hook, fn func(context.Context, *pkgmanager.LifecycleContext) error, base pkgmanager.BaseContext) error {
	if fn == nil {
		return nil
	}
	if err := abort.Check(ctx, string(hook)); err != nil {
		return err
	}
	out := result.Capture(func() (struct{}, error) {
		return struct{}{}, fn(ctx, &pkgmanager.LifecycleContext{BaseContext: base})
	})
	if out.IsError() {
		return abort.Prefer(ctx, string(hook), &pkgmanager.LifecycleError{PkgManager: w.label, Hook: hook, Cause: out.Err})
	}
	return nil
}

// plan builds the operation graph: for every workspace, pack precedes
// install, which precedes lint and every script. Repeated workspaces and
// scripts are planned once.
func (w *Worker) plan() (*dag.Graph[string, task], error) {
	g := dag.New[string, task]()
	lint := w.opts.Lint && len(w.opts.Rules) > 0
	for _, ws := range w.opts.Workspaces {
		pack, install := "pack:"+ws.LocalPath, "install:"+ws.LocalPath
		if g.Contains(pack) {
			continue
		}
		if err := g.AddVertex(pack, w.packTask(ws)); err != nil {
			return nil, err
		}
		if err := g.AddVertex(install, w.installTask(ws)); err != nil {
			return nil, err
		}
		if err := g.AddEdge(pack, install); err != nil {
			return nil, err
		}
		if lint {
			id := "lint:" + ws.LocalPath
			if err := g.AddVertex(id, w.lintTask(ws)); err != nil {
				return nil, err
			}
			if err := g.AddEdge(install, id); err != nil {
				return nil, err
			}
		}
		for _, script := range w.opts.Scripts {
			id := "script:" + ws.LocalPath + ":" + script
			if g.Contains(id) {
				continue
			}
			if err := g.AddVertex(id, w.scriptTask(ws, script)); err != nil {
				return nil, err
			}
			if err := g.AddEdge(install, id); err != nil {
				return nil, err
			}
		}
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	slog.Debug("planned operations", "pkgManager", w.label, "operations", order)
	return g, nil
}

func (w *Worker) process(ctx context.Context, base pkgmanager.BaseContext) {
	g, err := w.plan()
	if err != nil {
		w.addError(fmt.Errorf("failed to plan operations for %s: %w", w.label, err))
		return
	}
	report := dag.Process(ctx, g, func(ctx context.Context, _ string, t task) error {
		return t(ctx, base)
	}, dag.Options{Concurrency: w.opts.Concurrency})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.res.Skipped = report.Skipped()
	for _, id := range report.Failed() {
		err := report.Errors[id]
		var rec *recordedError
		if errors.As(err, &rec) || abort.Is(err) {
			continue
		}
		w.res.Errors = append(w.res.Errors, fmt.Errorf("%s: %w", id, err))
	}
}

// recordedError marks a task error that is already part of the result as a
// pack or install outcome.
type recordedError struct {
	err error
}

func (e *recordedError) Error() string { return e.err.Error() }
func (e *recordedError) Unwrap() error { return e.err }

func recorded(err error) error {
	return &recordedError{err: err}
}

func (w *Worker) packTask(ws workspace.Info) task {
	return func(ctx context.Context, base pkgmanager.BaseContext) error {
		op := "pack " + ws.Name
		if err := abort.Check(ctx, op); err != nil {
			w.recordPack(PackOutcome{Workspace: ws.LocalPath, Err: err})
			return recorded(err)
		}
		w.emit(event.Event{Type: event.PackBegin, PkgName: ws.Name, Workspace: ws.LocalPath})

		out := result.Capture(func() (*pkgmanager.InstallManifest, error) {
			return w.env.Adapter.Pack(ctx, &pkgmanager.PackContext{BaseContext: base, Workspace: ws, PackDir: base.TmpDir})
		})
		manifest, err := out.Unwrap()
		if err == nil {
			err = w.checkPacked(ws, manifest)
		} else {
			err = abort.Prefer(ctx, op, &pkgmanager.PackError{
				PkgManager: w.label,
				Workspace:  ws.LocalPath,
				Cause:      err,
				Result:     exitResult(err),
			})
		}
		if err != nil {
			w.recordPack(PackOutcome{Workspace: ws.LocalPath, Err: err})
			w.emit(event.Event{Type: event.PackFailed, PkgName: ws.Name, Workspace: ws.LocalPath, Err: err})
			return recorded(err)
		}

		w.mu.Lock()
		w.packed[ws.LocalPath] = manifest
		w.mu.Unlock()
		w.recordPack(PackOutcome{Workspace: ws.LocalPath, Manifest: manifest})
		w.emit(event.Event{Type: event.PackOk, PkgName: manifest.PkgName, Workspace: ws.LocalPath, Tarball: manifest.PkgSpec})
		return nil
	}
}

// checkPacked validates what Pack returned. A malformed manifest, including
// one whose pkgSpec does not exist, is an orchestration error; a tarball
// without a package manifest is a pack failure.
func (w *Worker) checkPacked(ws workspace.Info, m *pkgmanager.InstallManifest) error {
	if m == nil {
		err := &pkgmanager.MalformedManifestError{PkgManager: w.label, Workspace: ws.LocalPath, Err: errors.New("no manifest returned")}
		w.addError(err)
		return err
	}
	if err := m.Validate(); err != nil {
		err := &pkgmanager.MalformedManifestError{PkgManager: w.label, Workspace: ws.LocalPath, Err: err}
		w.addError(err)
		return err
	}
	tarball, err := isTarball(m.PkgSpec)
	if err != nil {
		err := &pkgmanager.MalformedManifestError{PkgManager: w.label, Workspace: ws.LocalPath, Err: err}
		w.addError(err)
		return err
	}
	if tarball {
		if _, err := inspectTarball(m.PkgSpec); err != nil {
			return &pkgmanager.PackError{PkgManager: w.label, Workspace: ws.LocalPath, Cause: err}
		}
	}
	return nil
}

func (w *Worker) installTask(ws workspace.Info) task {
	return func(ctx context.Context, base pkgmanager.BaseContext) error {
		w.mu.Lock()
		manifest := w.packed[ws.LocalPath]
		w.mu.Unlock()
		op := "install " + manifest.PkgName
		outcome := InstallOutcome{Workspace: ws.LocalPath, PkgName: manifest.PkgName, Manifest: manifest}
		if err := abort.Check(ctx, op); err != nil {
			outcome.Err = err
			w.recordInstall(outcome)
			return recorded(err)
		}
		ev := event.Event{PkgName: manifest.PkgName, Workspace: ws.LocalPath, Tarball: manifest.PkgSpec}
		w.emit(with(ev, event.InstallBegin))

		ictx, cancel := ctx, context.CancelFunc(func() {})
		if w.opts.InstallTimeout > 0 {
			ictx, cancel = context.WithTimeoutCause(ctx, w.opts.InstallTimeout, pkgmanager.ErrInstallTimeout)
		}
		out := result.Capture(func() (*executor.Result, error) {
			return w.env.Adapter.Install(ictx, &pkgmanager.InstallContext{BaseContext: base, Manifest: *manifest})
		})
		cancel()

		res, err := out.Unwrap()
		outcome.Result = res
		switch {
		case err != nil && ctx.Err() != nil:
			err = abort.FromContext(ctx, op)
		case err != nil && ictx.Err() != nil:
			err = abort.FromContext(ictx, op)
		case err != nil:
			err = &pkgmanager.InstallError{PkgManager: w.label, PkgName: manifest.PkgName, Tarball: manifest.PkgSpec, Cause: err, Result: exitResult(err)}
		default:
			err = w.checkInstalled(ws, manifest)
		}
		if err != nil {
			outcome.Err = err
			w.recordInstall(outcome)
			ev.Err, ev.Data = err, res
			w.emit(with(ev, event.InstallFailed))
			return recorded(err)
		}
		w.recordInstall(outcome)
		ev.Data = res
		w.emit(with(ev, event.InstallOk))
		return nil
	}
}

// checkInstalled reads the installed package manifest, which lint needs.
func (w *Worker) checkInstalled(ws workspace.Info, m *pkgmanager.InstallManifest) error {
	manifestPath := filepath.Join(m.InstallPath, workspace.ManifestFilename)
	pm, err := workspace.ReadManifest(manifestPath)
	if err != nil {
		return &pkgmanager.InstallError{
			PkgManager: w.label,
			PkgName:    m.PkgName,
			Tarball:    m.PkgSpec,
			Cause:      fmt.Errorf("package not found at %s: %w", m.InstallPath, err),
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.installed[ws.LocalPath] = rule.Package{
		Name:         m.PkgName,
		InstallPath:  m.InstallPath,
		ManifestPath: manifestPath,
		Manifest:     pm,
		PkgManager:   w.label,
		Workspace:    ws.LocalPath,
	}
	return nil
}

func (w *Worker) lintTask(ws workspace.Info) task {
	return func(ctx context.Context, _ pkgmanager.BaseContext) error {
		w.mu.Lock()
		pkg := w.installed[ws.LocalPath]
		w.mu.Unlock()
		if err := abort.Check(ctx, "lint "+pkg.Name); err != nil {
			return err
		}
		ev := event.Event{PkgName: pkg.Name, Workspace: ws.LocalPath}
		w.emit(with(ev, event.LintBegin))

		engine := rule.NewEngine(rule.WithListener(w))
		results, err := engine.CheckAll(ctx, w.opts.Rules, []rule.Package{pkg})
		w.mu.Lock()
		w.res.Checks = append(w.res.Checks, results...)
		w.mu.Unlock()
		if err != nil {
			return err
		}

		ev.Data = results
		if rule.Summarize(results) != rule.VerdictOk {
			w.emit(with(ev, event.LintFailed))
			return nil
		}
		w.emit(with(ev, event.LintOk))
		return nil
	}
}

func (w *Worker) scriptTask(ws workspace.Info, script string) task {
	return func(ctx context.Context, base pkgmanager.BaseContext) error {
		w.mu.Lock()
		pkg := w.installed[ws.LocalPath]
		w.mu.Unlock()
		op := fmt.Sprintf("run-script %s in %s", script, pkg.Name)
		if err := abort.Check(ctx, op); err != nil {
			return err
		}
		ev := event.Event{PkgName: pkg.Name, Workspace: ws.LocalPath, Script: script}
		w.emit(with(ev, event.RunScriptBegin))

		manifest := pkgmanager.RunScriptManifest{Script: script, PkgName: pkg.Name, Cwd: pkg.InstallPath, Workspace: ws.LocalPath}
		out := result.Capture(func() (*pkgmanager.RunScriptResult, error) {
			return w.env.Adapter.RunScript(ctx, &pkgmanager.RunScriptContext{BaseContext: base, Manifest: manifest})
		})
		res, err := out.Unwrap()
		if res == nil {
			res = &pkgmanager.RunScriptResult{}
		}
		res.Script, res.PkgName, res.PkgManager = script, pkg.Name, w.label
		if err != nil {
			if err = abort.Prefer(ctx, op, err); abort.Is(err) {
				return err
			}
			res.Err = &pkgmanager.RunScriptError{PkgManager: w.label, PkgName: pkg.Name, Script: script, Cause: err}
		}
		w.mu.Lock()
		w.res.Scripts = append(w.res.Scripts, res)
		w.mu.Unlock()

		ev.Data = res
		switch {
		case res.Skipped:
			w.emit(with(ev, event.RunScriptSkipped))
		case res.Failed():
			ev.Err = res.Err
			w.emit(with(ev, event.RunScriptFailed))
		default:
			w.emit(with(ev, event.RunScriptOk))
		}
		return nil
	}
}

// RuleBegin implements rule.Listener.
func (w *Worker) RuleBegin(_ context.Context, r *rule.Rule, pkg rule.Package) {
	w.emit(event.Event{Type: event.RuleBegin, Rule: r.ID(), PkgName: pkg.Name, Workspace: pkg.Workspace})
}

// RuleEnd implements rule.Listener.
func (w *Worker) RuleEnd(_ context.Context, res rule.CheckResult) {
	typ := event.RuleOk
	switch res.Verdict {
	case rule.VerdictFailed:
		typ = event.RuleFailed
	case rule.VerdictError:
		typ = event.RuleError
	}
	w.emit(event.Event{Type: typ, Rule: res.RuleID, PkgName: res.PkgName, Err: res.Err, Data: res})
}

func (w *Worker) recordPack(p PackOutcome) {
	w.mu.Lock()
	w.res.Packs = append(w.res.Packs, p)
	w.mu.Unlock()
	if p.Err != nil && !abort.Is(p.Err) {
		w.fail(p.Err)
	}
}

func (w *Worker) recordInstall(i InstallOutcome) {
	w.mu.Lock()
	w.res.Installs = append(w.res.Installs, i)
	w.mu.Unlock()
	if i.Err != nil && !isCancellation(i.Err) {
		w.fail(i.Err)
	}
}

// isCancellation reports whether err comes from the run being cancelled, as
// opposed to an install timeout.
func isCancellation(err error) bool {
	return abort.Is(err) && !errors.Is(err, pkgmanager.ErrInstallTimeout)
}

func (w *Worker) addError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.res.Errors = append(w.res.Errors, err)
}

func (w *Worker) fail(err error) {
	if w.opts.OnFailure != nil && !isCancellation(err) {
		w.opts.OnFailure(err)
	}
}

func (w *Worker) emit(ev event.Event) {
	if w.emitter == nil {
		return
	}
	ev.PkgManager = w.label
	if err := w.emitter.Emit(ev); err != nil {
		slog.Debug("dropped event", "event", ev.Type, "error", err)
	}
}

func with(ev event.Event, typ event.Type) event.Event {
	ev.Type = typ
	return ev
}

func exitResult(err error) *executor.Result {
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Result
	}
	return nil
}
