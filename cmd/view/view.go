// Package view implements the view command, which prints the configuration
// the other commands run with.
package view

import (
	"fmt"

	"github.com/spf13/cobra"

	v1 "github.com/boneskull/midnight-smoker-sub006/internal/configuration/v1"
	smokerctx "github.com/boneskull/midnight-smoker-sub006/internal/context"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration as YAML",
		Long: fmt.Sprintf(`Print the configuration file that applies to the working directory.

The file is looked up as described for the --config flag, or taken from the
%s environment variable. The path of the file is printed as a comment
above the configuration.`, v1.EnvironmentKey),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sctx := smokerctx.FromContext(cmd.Context())
			cfg := sctx.Configuration()
			if cfg == nil {
				cfg = &v1.Config{}
			}
			data, err := v1.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding configuration failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if path := sctx.ConfigurationPath(); path != "" {
				fmt.Fprintf(out, "# %s\n", path)
			} else {
				fmt.Fprintln(out, "# no configuration file found")
			}
			_, err = out.Write(data)
			return err
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
}
