package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/registry"
	"github.com/spf13/cobra"
)

func (a *App) newConsumersCommand() *cobra.Command {
	var implementations bool
	cmd := &cobra.Command{
		Use:   "consumers",
		Short: "List the configured consumer chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.New(registry.Deps{})
			if implementations {
				for _, name := range reg.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			profiles, err := dispatch.Resolve(a.cfg.Dispatcher.BuildConfig().Consumers, reg)
			if err != nil {
				return err
			}
			return printProfiles(cmd, a.cfg.Dispatcher.Name, profiles)
		},
	}
	cmd.Flags().BoolVar(&implementations, "implementations", false, "list the available implementations instead")
	return cmd
}

func printProfiles(cmd *cobra.Command, dispatcher string, profiles []*dispatch.Profile) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DISPATCHER %s\n", dispatcher)
	fmt.Fprintln(w, "NAME\tIMPLEMENTATION\tFILTERS\tFATAL\tALWAYS")
	for _, p := range profiles {
		filters := make([]string, 0, len(p.Filters))
		for _, f := range p.Filters {
			filters = append(filters, f.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n",
			p.Name, p.Implementation, strings.Join(filters, ","), p.FatalOnError, p.AlwaysRun)
	}
	return w.Flush()
}
