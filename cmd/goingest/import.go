package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/funktionslust/goingest"
	"github.com/funktionslust/goingest/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newImportCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import PATH...",
		Short: "Scan the paths and import every unit found into the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runImport(cmd, cfg, args, dryRun)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&dryRun, "dry-run", false, "import into memory instead of the configured repository")
	flags.String("checksum", "", "checksum algorithm: SHA1-160, MD5-128, Adler-32, CRC-32 or File-Size-64")
	flags.Bool("continue-on-error", false, "import the remaining units after a failure")
	flags.String("repository", "", "remote repository: memory or s3")
	flags.String("bucket", "", "S3 bucket of the s3 repository")
	flags.String("tracker", "", "batch tracker: none, sqlite or mysql")
	flags.String("name", "", "name of the imported units")
	flags.String("description", "", "description of the imported units")
	flags.StringToString("annotation", nil, "annotation added to the imported units, key=value")
	flags.String("target-kind", "", "kind of the target container, e.g. Dataset or Screen")
	flags.String("target-id", "", "id of an existing target container")
	flags.String("target-name", "", "name of the target container, created if missing")
	flags.Bool("skip-thumbnails", false, "don't generate thumbnails")
	flags.Bool("skip-statistics", false, "don't compute the pixel statistics")
	flags.Bool("skip-checksum", false, "verify the file sizes only")
	for key, flag := range map[string]string{
		"import.checksum":          "checksum",
		"import.continue_on_error": "continue-on-error",
		"import.skip_thumbnails":   "skip-thumbnails",
		"import.skip_statistics":   "skip-statistics",
		"import.skip_checksum":     "skip-checksum",
		"repository.kind":          "repository",
		"repository.s3.bucket":     "bucket",
		"tracker.kind":             "tracker",
		"metadata.name":            "name",
		"metadata.description":     "description",
		"metadata.annotations":     "annotation",
		"metadata.target_kind":     "target-kind",
		"metadata.target_id":       "target-id",
		"metadata.target_name":     "target-name",
	} {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}
	return cmd
}

// runImport scans the paths and imports the units found as a single batch.
func runImport(cmd *cobra.Command, cfg *config.Config, paths []string, dryRun bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	res := a.scan(ctx, paths)
	if res.Cancelled {
		return fmt.Errorf("scan cancelled after %d files", res.Total)
	}
	if len(res.Units) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to import")
		return nil
	}
	units := goingest.ApplyMetadata(res.Units, cfg.UnitMetadata())
	c, err := a.catalog(ctx)
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Shutdown()
	}
	driver, err := goingest.NewDriver(ctx, goingest.DriverConfig{
		ProcessID:      cfg.ProcessID,
		Repository:     a.repository(dryRun),
		Tracker:        a.tracker(),
		Bus:            a.bus,
		Logger:         a.logger,
		MetricsTracker: a.metrics,
		Checksum:       cfg.Checksum(),
		PollInterval:   cfg.Import.PollInterval,
		StepTimeout:    cfg.Import.StepTimeout,
	})
	if err != nil {
		return err
	}
	defer driver.Shutdown()
	ok, report := driver.ImportAll(ctx, units, cfg.Import.ContinueOnError)
	if c != nil {
		if err := c.AfterRun(); err != nil {
			a.logger.Error("failed to index the import records", zap.Error(err))
		}
	}
	printReport(cmd.OutOrStdout(), report)
	if !ok {
		return errors.New("not every unit has been imported")
	}
	return nil
}

// printReport writes the batch tally and the failures.
func printReport(w io.Writer, report *goingest.BatchReport) {
	var batchID uint64
	if report.Batch != nil {
		batchID = report.Batch.ID
	}
	fmt.Fprintf(w, "batch %d: %d units, %d imported, %d failed, %d cancelled, %d skipped\n",
		batchID, report.Total, report.Succeeded, report.Failed, report.Cancelled, report.Skipped)
	for _, r := range report.Results {
		if r.State == goingest.StateFailed {
			fmt.Fprintf(w, "failed %s at %s: %v\n", r.Unit.EntryPath, r.FailedStep, r.Err)
		}
	}
}
