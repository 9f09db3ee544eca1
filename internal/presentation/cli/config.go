package cli

import (
	"fmt"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/registry"
	"github.com/spf13/cobra"
)

func (a *App) newCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective values",
		Long: `Load the configuration, resolve every consumer entry against the known
implementations and print the result as YAML. Consumers are not initialized.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := dispatch.Resolve(a.cfg.Dispatcher.BuildConfig().Consumers, registry.New(registry.Deps{})); err != nil {
				return err
			}
			out, err := a.cfg.Render()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			if a.cfg.File != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", a.cfg.File)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
