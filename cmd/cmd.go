package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	smokercmd "github.com/boneskull/midnight-smoker-sub006/cmd/internal/cmd"
	"github.com/boneskull/midnight-smoker-sub006/cmd/list"
	"github.com/boneskull/midnight-smoker-sub006/cmd/setup/hooks"
	"github.com/boneskull/midnight-smoker-sub006/cmd/smoke"
	"github.com/boneskull/midnight-smoker-sub006/cmd/version"
	"github.com/boneskull/midnight-smoker-sub006/cmd/view"
	"github.com/boneskull/midnight-smoker-sub006/internal/flags/log"
)

// Execute runs the root command and exits with the code of the run.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	err := New().Execute()
	if err == nil {
		return
	}
	var failed *smoke.FailedError
	if errors.As(err, &failed) {
		os.Exit(failed.ExitCode())
	}
	os.Exit(1)
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoker [scripts...]",
		Short: "Smoke test npm packages the way consumers install them",
		Long: `smoker packs the workspaces of a package, installs the tarballs into
isolated directories with one or more package managers and checks the
installed packages with lint rules and custom scripts.

Without a sub-command, smoker runs the smoke command.`,
		Args:              cobra.ArbitraryArgs,
		RunE:              smoke.Run,
		PersistentPreRunE: hooks.PreRunE,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	cmd.PersistentFlags().String(smokercmd.ConfigFlag, "", `use this configuration file instead of looking one up.
By default the first of .smokerrc.yaml, .smokerrc.yml, .smokerrc.json,
smoker.config.json or the "smoker" field of package.json is used, searching
from the working directory upwards. The SMOKER_CONFIG environment variable
replaces the lookup as well.`)
	cmd.PersistentFlags().String(smokercmd.WorkingDirectoryFlag, "", `directory to look up workspaces and configuration from`)
	cmd.PersistentFlags().StringSlice(smokercmd.PluginFlag, nil, `plugin to load next to the built-in one, as a path or package name`)
	cmd.PersistentFlags().Duration(smokercmd.ProcessShutdownTimeoutFlag, smokercmd.ProcessShutdownTimeoutDefault,
		`time child processes get to exit when smoker finishes before they are killed`)
	log.RegisterLoggingFlags(cmd.PersistentFlags())
	smoke.RegisterFlags(cmd.Flags())

	cmd.AddCommand(smoke.New())
	cmd.AddCommand(list.NewRules())
	cmd.AddCommand(list.NewReporters())
	cmd.AddCommand(list.NewPkgManagers())
	cmd.AddCommand(view.New())
	cmd.AddCommand(version.New())
	return cmd
}
