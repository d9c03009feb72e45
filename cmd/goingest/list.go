package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/funktionslust/goingest"
	"github.com/funktionslust/goingest/config"

	"github.com/spf13/cobra"
)

func newListCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list PATH...",
		Short: "List the import units found under the paths without importing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			res := a.scan(cmd.Context(), args)
			if res.Cancelled {
				return fmt.Errorf("scan cancelled after %d files", res.Total)
			}
			return printUnits(cmd.OutOrStdout(), res)
		},
	}
}

// printUnits writes a table of the units followed by the files which couldn't be probed.
func printUnits(w io.Writer, res *goingest.ScanResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY PATH\tFORMAT\tFILES\tSIZE\tMULTI-DIMENSIONAL")
	for _, u := range res.Units {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\n", u.EntryPath, u.FormatID, len(u.UsedFiles), u.Size, u.MultiDimensional)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d units from %d files\n", len(res.Units), res.Total)
	for _, f := range res.Failures {
		fmt.Fprintf(w, "skipped %s (%s): %v\n", f.Path, f.Kind, f.Err)
	}
	return nil
}
