// Package smoke implements the smoke command: pack, install and check the
// workspaces of a package with every requested package manager.
package smoke

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	smokercmd "github.com/boneskull/midnight-smoker-sub006/cmd/internal/cmd"
	"github.com/boneskull/midnight-smoker-sub006/cmd/setup"
	v1 "github.com/boneskull/midnight-smoker-sub006/internal/configuration/v1"
	smokerctx "github.com/boneskull/midnight-smoker-sub006/internal/context"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/smoker"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// SystemExecutor is the id of the executor every command runs through.
const SystemExecutor = "system"

// New creates the smoke command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke [scripts...]",
		Short: "Pack, install and test the workspaces of a package",
		Long: `Pack every selected workspace into a tarball, install each tarball into an
isolated directory with every requested package manager, then run the
enabled rules and the given scripts against the installed packages.

The command exits non-zero if any pack, install, rule or script fails.`,
		Example: `  smoker smoke --pm npm@10 --pm pnpm@latest test
  smoker smoke --all --json
  smoker smoke --rule no-banned-files --no-lint=false`,
		Args:              cobra.ArbitraryArgs,
		RunE:              Run,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	RegisterFlags(cmd.Flags())
	return cmd
}

// RegisterFlags adds the flags of the smoke command to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSliceP(smokercmd.PkgManagerFlag, "p", nil, `package manager specifiers, e.g. "npm", "npm@10", "pnpm@latest" or "yarn@system"`)
	fs.StringSlice(smokercmd.RuleFlag, nil, "only run these rules")
	fs.StringSliceP(smokercmd.ReporterFlag, "r", nil, "reporters to use; defaults depend on --json")
	fs.StringSliceP(smokercmd.WorkspaceFlag, "w", nil, "workspaces to test, by package name or relative path")
	fs.Bool(smokercmd.AllFlag, false, "test every public workspace")
	fs.Bool(smokercmd.IncludeRootFlag, false, "test the root package along with the selected workspaces")
	fs.Bool(smokercmd.BailFlag, false, "stop at the first pack, install or lifecycle failure")
	fs.Bool(smokercmd.LintFlag, true, "run the enabled rules")
	fs.Bool(smokercmd.NoLintFlag, false, "skip the rules")
	fs.Bool(smokercmd.LingerFlag, false, "keep the temp directories")
	fs.Bool(smokercmd.JSONFlag, false, "print the result as JSON")
	fs.BoolP(smokercmd.VerboseFlag, "v", false, "print progress and full error chains")
	fs.Duration(smokercmd.InstallTimeoutFlag, 0, "fail an install that takes longer than this; 0 disables the timeout")
	fs.Int(smokercmd.ConcurrencyFlag, 0, "operations in flight per package manager; 0 is unlimited")
	fs.String(smokercmd.TempFolderFlag, "", "directory temp directories are created in")
}

// Invocation is everything a run needs besides the registry-backed
// collaborators.
type Invocation struct {
	Options   smoker.Options
	Reporters []string
	Reporter  reporter.Options
}

// BuildInvocation merges the flags over the configuration. A flag wins when
// it was set on the command line.
func BuildInvocation(fs *pflag.FlagSet, args []string, cfg *v1.Config, reg *plugin.Registry, cwd string) (*Invocation, error) {
	if cfg == nil {
		cfg = &v1.Config{}
	}
	lint := cfg.LintEnabled()
	if fs.Changed(smokercmd.LintFlag) {
		lint, _ = fs.GetBool(smokercmd.LintFlag)
	}
	if fs.Changed(smokercmd.NoLintFlag) {
		noLint, _ := fs.GetBool(smokercmd.NoLintFlag)
		lint = !noLint
	}

	scripts := cfg.Scripts
	if len(args) > 0 {
		scripts = args
	}

	inv := &Invocation{
		Options: smoker.Options{
			Cwd: cwd,
			Workspaces: workspace.Options{
				Workspaces:  stringSlice(fs, smokercmd.WorkspaceFlag, cfg.Workspaces),
				All:         boolean(fs, smokercmd.AllFlag, cfg.All),
				IncludeRoot: boolean(fs, smokercmd.IncludeRootFlag, cfg.IncludeRoot),
			},
			PkgManagers:    stringSlice(fs, smokercmd.PkgManagerFlag, cfg.PkgManagers),
			Scripts:        scripts,
			Lint:           lint,
			Bail:           boolean(fs, smokercmd.BailFlag, cfg.Bail),
			Linger:         boolean(fs, smokercmd.LingerFlag, cfg.Linger),
			InstallTimeout: cfg.InstallTimeout.Duration,
			Verbose:        boolean(fs, smokercmd.VerboseFlag, cfg.Verbose),
			AdapterOptions: cfg.PkgManagerOptions,
		},
		Reporters: stringSlice(fs, smokercmd.ReporterFlag, cfg.Reporters),
	}
	if fs.Changed(smokercmd.InstallTimeoutFlag) {
		inv.Options.InstallTimeout, _ = fs.GetDuration(smokercmd.InstallTimeoutFlag)
	}
	inv.Options.Concurrency, _ = fs.GetInt(smokercmd.ConcurrencyFlag)
	inv.Options.TmpRoot, _ = fs.GetString(smokercmd.TempFolderFlag)
	inv.Reporter = reporter.Options{
		JSON:    boolean(fs, smokercmd.JSONFlag, cfg.JSON),
		Verbose: inv.Options.Verbose,
	}

	if !lint && len(scripts) == 0 {
		return nil, errors.New("nothing to do: linting is disabled and no scripts were given")
	}

	rules, err := ConfigureRules(reg, cfg.RuleConfigs(), stringSlice(fs, smokercmd.RuleFlag, nil))
	if err != nil {
		return nil, err
	}
	inv.Options.Rules = rules

	if err := validateAdapterOptions(reg.PackageManagers(), cfg.PkgManagerOptions); err != nil {
		return nil, err
	}
	return inv, nil
}

// ConfigureRules configures every registered rule. Rules not in selected
// are turned off unless selected is empty. Unknown rule ids are errors.
func ConfigureRules(reg *plugin.Registry, settings map[string]rule.Config, selected []string) ([]rule.Configured, error) {
	var errs []error
	for id := range settings {
		if _, ok := reg.Rule(id); !ok {
			errs = append(errs, fmt.Errorf("configuration refers to unknown rule %q", id))
		}
	}
	for _, id := range selected {
		if _, ok := reg.Rule(id); !ok {
			errs = append(errs, fmt.Errorf("unknown rule %q", id))
		}
	}
	var out []rule.Configured
	for _, r := range reg.Rules() {
		cfg := settings[r.ID()]
		if len(selected) > 0 && !slices.Contains(selected, r.ID()) {
			cfg.Severity = rule.SeverityOff
		}
		c, err := rule.Configure(r, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func validateAdapterOptions(candidates []pkgmanager.Candidate, options map[string]map[string]any) error {
	var errs []error
	for id, opts := range options {
		i := slices.IndexFunc(candidates, func(c pkgmanager.Candidate) bool { return c.Component.ID == id })
		if i < 0 {
			errs = append(errs, fmt.Errorf("configuration refers to unknown package manager %q", id))
			continue
		}
		if err := candidates[i].Adapter.ValidateOptions(id, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stringSlice(fs *pflag.FlagSet, name string, fallback []string) []string {
	if fs.Changed(name) {
		v, _ := fs.GetStringSlice(name)
		return v
	}
	return fallback
}

func boolean(fs *pflag.FlagSet, name string, fallback bool) bool {
	if fs.Changed(name) {
		v, _ := fs.GetBool(name)
		return v
	}
	return fallback
}

// FailedError is returned when a run does not end Ok.
type FailedError struct {
	Result  *smoker.RunResult
	Verbose bool
}

func (e *FailedError) Error() string {
	var msg string
	switch {
	case e.Result.Aborted:
		msg = "smoke test aborted"
	case e.Result.Verdict == smoker.VerdictError:
		msg = "smoke test errored"
	default:
		msg = "smoke test failed"
	}
	if e.Verbose && e.Result.Err != nil {
		msg += ": " + e.Result.Err.Error()
	}
	return msg
}

func (e *FailedError) Unwrap() error {
	return e.Result.Err
}

// ExitCode is the process exit code of the run.
func (e *FailedError) ExitCode() int {
	return e.Result.ExitCode()
}

// Run runs the smoke command.
func Run(cmd *cobra.Command, args []string) error {
	sctx := smokerctx.FromContext(cmd.Context())
	reg := sctx.Registry()
	if reg == nil {
		return errors.New("could not get plugin registry")
	}
	cwd, err := setup.WorkingDirectory(cmd)
	if err != nil {
		return err
	}
	inv, err := BuildInvocation(cmd.Flags(), args, sctx.Configuration(), reg, cwd)
	if err != nil {
		return err
	}

	sys, ok := reg.Executor(SystemExecutor)
	if !ok {
		return fmt.Errorf("executor %q is not registered", SystemExecutor)
	}
	var exec executor.Executor = sys.Definition.Exec

	selected, err := reporter.Select(reg.Reporters(), inv.Reporters, inv.Reporter)
	if err != nil {
		return err
	}
	session := reporter.NewSession(selected, inv.Reporter, reporter.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))

	cache := version.NewCache(0)
	resolver := pkgmanager.NewResolver(reg.PackageManagers(), exec, pkgmanager.WithCache(cache))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := smoker.New(resolver, exec, inv.Options, smoker.WithReporters(session), smoker.WithCache(cache)).Run(ctx)
	if res.ReporterErr != nil {
		slog.WarnContext(ctx, "reporter failed", slog.String("error", res.ReporterErr.Error()))
	}
	slog.DebugContext(ctx, "smoke run finished", slog.String("id", res.ID), slog.String("verdict", string(res.Verdict)), slog.Bool("aborted", res.Aborted))
	if !res.Ok() {
		return &FailedError{Result: res, Verbose: inv.Options.Verbose}
	}
	return nil
}
