// Command goingest scans directories for scientific image filesets and imports them into a
// remote repository.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/funktionslust/goingest/config"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd returns the goingest command with its subcommands. The flags override the config
// file and the environment.
func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string
	cmd := &cobra.Command{
		Use:           "goingest",
		Short:         "Import scientific image filesets into a remote repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	flags.Int("depth", 0, "maximum directory depth to walk")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	cobra.CheckErr(v.BindPFlag("scan.max_depth", flags.Lookup("depth")))
	cobra.CheckErr(v.BindPFlag("log.level", flags.Lookup("log-level")))

	load := func() (*config.Config, error) {
		return config.Load(v, configPath)
	}
	cmd.AddCommand(newListCmd(load), newImportCmd(v, load))
	return cmd
}
