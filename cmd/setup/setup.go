// Package setup creates the shared objects of the CLI and stores them in the
// command context.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	smokercmd "github.com/boneskull/midnight-smoker-sub006/cmd/internal/cmd"
	"github.com/boneskull/midnight-smoker-sub006/internal/builtin"
	v1 "github.com/boneskull/midnight-smoker-sub006/internal/configuration/v1"
	smokerctx "github.com/boneskull/midnight-smoker-sub006/internal/context"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin/execplugin"
)

// WorkingDirectory returns the value of the working directory flag, or the
// current directory.
func WorkingDirectory(cmd *cobra.Command) (string, error) {
	if dir, err := cmd.Flags().GetString(smokercmd.WorkingDirectoryFlag); err == nil && dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// Configuration loads the configuration named by the config flag, or the
// one found from the working directory.
func Configuration(cmd *cobra.Command) error {
	var (
		cfg  *v1.Config
		path string
		err  error
	)
	if path, _ = cmd.Flags().GetString(smokercmd.ConfigFlag); path != "" {
		cfg, err = v1.GetConfigFromPath(path)
	} else {
		var dir string
		if dir, err = WorkingDirectory(cmd); err != nil {
			return err
		}
		cfg, path, err = v1.Load(dir)
	}
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	cmd.SetContext(smokerctx.WithConfiguration(cmd.Context(), cfg, path))
	return nil
}

// Executor creates the system executor. Processes still running when the
// command finishes are terminated.
func Executor(cmd *cobra.Command) {
	processes := executor.NewProcessRegistry()
	exec := executor.NewSystem(processes)
	cmd.SetContext(smokerctx.WithExecutor(cmd.Context(), exec, processes))

	timeout := smokercmd.ProcessShutdownTimeoutDefault
	if v, err := cmd.Flags().GetDuration(smokercmd.ProcessShutdownTimeoutFlag); err == nil && v > 0 {
		timeout = v
	}
	cobra.OnFinalize(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := processes.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to terminate child processes", slog.String("error", err.Error()))
		}
	})
}

// Registry loads the built-in plugin and every plugin named by the plugin
// flag or the configuration, then seals the registry.
func Registry(cmd *cobra.Command) error {
	ctx := smokerctx.FromContext(cmd.Context())
	exec := ctx.Executor()
	if exec == nil {
		return fmt.Errorf("could not get executor to initialize the plugin registry")
	}

	catalog := plugin.NewCatalogLoader()
	if err := (&builtin.Plugin{Executor: exec}).AddTo(catalog); err != nil {
		return err
	}
	dir, err := WorkingDirectory(cmd)
	if err != nil {
		return err
	}
	resolver := plugin.NewResolver(plugin.ChainLoader{catalog, execplugin.NewLoader(exec)}, plugin.WithWorkingDir(dir))

	refs := []string{plugin.DefaultPluginID}
	if cfg := ctx.Configuration(); cfg != nil {
		refs = append(refs, cfg.Plugins...)
	}
	if flagged, err := cmd.Flags().GetStringSlice(smokercmd.PluginFlag); err == nil {
		refs = append(refs, flagged...)
	}
	refs = slices.Compact(refs)

	reg := plugin.NewRegistry()
	start := time.Now()
	if err := plugin.Load(cmd.Context(), resolver, reg, refs...); err != nil {
		return fmt.Errorf("could not load plugins: %w", err)
	}
	reg.Seal()
	slog.DebugContext(cmd.Context(), "plugins loaded", slog.Int("plugins", len(reg.Plugins())), slog.Duration("took", time.Since(start)))

	cmd.SetContext(smokerctx.WithRegistry(cmd.Context(), reg))
	return nil
}
