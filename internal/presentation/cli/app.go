// Package cli is the repoevents command line: it loads configuration, wires
// the dispatcher and serves the HTTP API.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/Zhima-Mochi/repoevents/internal/config"
	"github.com/spf13/cobra"
)

type App struct {
	version    string
	configPath string
	out        io.Writer

	cfg *config.Config
}

func New(version string) *App {
	return &App{version: version, out: os.Stdout}
}

// Execute runs the command line with args, excluding the program name.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "repoevents",
		Short: "Repository event dispatcher",
		Long: `repoevents records changes made to repository content, delivers them to the
configured consumers once each request commits, and serves the content API.`,
		Version:           a.version,
		PersistentPreRunE: a.loadConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"config file (default is ./repoevents.yaml when present)")

	root.AddCommand(
		a.newServeCommand(),
		a.newCheckConfigCommand(),
		a.newConsumersCommand(),
	)
	return root
}

func (a *App) loadConfig(*cobra.Command, []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
