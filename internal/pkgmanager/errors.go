package pkgmanager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
)

// ErrInstallTimeout is the cancellation cause of an install that exceeded
// its timeout.
var ErrInstallTimeout = errors.New("install timed out")

// PackError is returned when packing a workspace fails.
type PackError struct {
	PkgManager string
	Workspace  string
	Cause      error
	Result     *executor.Result
}

func (e *PackError) Error() string {
	return fmt.Sprintf("%s failed to pack %s: %v", e.PkgManager, e.Workspace, e.Cause)
}

func (e *PackError) Unwrap() error { return e.Cause }

// InstallError is returned when installing a tarball fails.
type InstallError struct {
	PkgManager string
	PkgName    string
	Tarball    string
	Cause      error
	Result     *executor.Result
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s failed to install %s from %s: %v", e.PkgManager, e.PkgName, e.Tarball, e.Cause)
}

func (e *InstallError) Unwrap() error { return e.Cause }

// RunScriptError is returned when an adapter fails to run a script at all,
// as opposed to the script exiting non-zero.
type RunScriptError struct {
	PkgManager string
	PkgName    string
	Script     string
	Cause      error
}

func (e *RunScriptError) Error() string {
	return fmt.Sprintf("%s failed to run script %q in %s: %v", e.PkgManager, e.Script, e.PkgName, e.Cause)
}

func (e *RunScriptError) Unwrap() error { return e.Cause }

// ScriptFailedError records a script that exited non-zero.
type ScriptFailedError struct {
	PkgManager string
	PkgName    string
	Script     string
	ExitCode   int
	Output     string
}

func (e *ScriptFailedError) Error() string {
	return fmt.Sprintf("script %q in %s (%s) exited with code %d", e.Script, e.PkgName, e.PkgManager, e.ExitCode)
}

// Hook names a lifecycle hook.
type Hook string

const (
	HookSetup    Hook = "setup"
	HookTeardown Hook = "teardown"
)

// LifecycleError is returned when an adapter's setup or teardown fails.
type LifecycleError struct {
	PkgManager string
	Hook       Hook
	Cause      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.PkgManager, e.Hook, e.Cause)
}

func (e *LifecycleError) Unwrap() error { return e.Cause }

// MalformedManifestError is returned when an adapter's Pack returns an
// unusable manifest.
type MalformedManifestError struct {
	PkgManager string
	Workspace  string
	Err        error
}

func (e *MalformedManifestError) Error() string {
	return fmt.Sprintf("%s returned a malformed install manifest for %s: %v", e.PkgManager, e.Workspace, e.Err)
}

func (e *MalformedManifestError) Unwrap() error { return e.Err }

// UnsupportedPackageManagerError lists specifiers no adapter could satisfy.
type UnsupportedPackageManagerError struct {
	Desired []string
}

func (e *UnsupportedPackageManagerError) Error() string {
	return fmt.Sprintf("no package manager matches %s", strings.Join(e.Desired, ", "))
}
