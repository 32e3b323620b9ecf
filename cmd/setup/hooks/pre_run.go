package hooks

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/boneskull/midnight-smoker-sub006/cmd/setup"
	smokerctx "github.com/boneskull/midnight-smoker-sub006/internal/context"
	"github.com/boneskull/midnight-smoker-sub006/internal/flags/log"
)

// PreRunE installs the logger and creates the configuration, executor and
// registry every command works with.
func PreRunE(cmd *cobra.Command, _ []string) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)

	smokerctx.Register(cmd)

	if err := setup.Configuration(cmd); err != nil {
		return err
	}
	setup.Executor(cmd)
	if err := setup.Registry(cmd); err != nil {
		return fmt.Errorf("could not setup plugin registry: %w", err)
	}

	// inherit IO from parent if exists
	if parent := cmd.Parent(); parent != nil {
		cmd.SetOut(parent.OutOrStdout())
		cmd.SetErr(parent.ErrOrStderr())
	}
	return nil
}
