package goingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const driverBatchMetricName = "driver_batch"

// DriverConfig represents a structure for the Driver config.
type DriverConfig struct {
	ProcessID      string
	Repository     Repository
	Tracker        Tracker
	Bus            *Bus
	Logger         *zap.Logger
	MetricsTracker MetricsTracker
	Checksum       ChecksumAlgorithm
	PollInterval   time.Duration
	StepTimeout    time.Duration
}

// Validate validates the DriverConfig fields.
func (c *DriverConfig) Validate() error {
	if c.ProcessID == "" {
		return errors.New("empty ProcessID: a process id is required to track batches")
	}
	if c.Repository == nil {
		return errors.New("no Repository: units can't be imported without a remote repository")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("invalid PollInterval value %s: should not be negative", c.PollInterval)
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("invalid StepTimeout value %s: should not be negative", c.StepTimeout)
	}
	return nil
}

// NewDriver returns a preconfigured driver with its storages set up.
func NewDriver(ctx context.Context, cfg DriverConfig) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("the passed DriverConfig is invalid: %v", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = buildDefaultLogger(cfg.ProcessID)
	}
	metrics := cfg.MetricsTracker
	if metrics == nil {
		metrics = defaultMetricsTracker
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = &nopTracker{}
	}
	if err := initStorage(cfg.Repository, ctx, cfg.ProcessID, logger); err != nil {
		return nil, err
	}
	if err := initStorage(tracker, ctx, cfg.ProcessID, logger); err != nil {
		return nil, err
	}
	opts := []ImporterOpt{
		ImporterWithLogger(logger),
		ImporterWithBus(cfg.Bus),
		ImporterWithMetricsTracker(metrics),
	}
	if cfg.Checksum != "" {
		opts = append(opts, ImporterWithChecksum(cfg.Checksum))
	}
	if cfg.PollInterval != 0 {
		opts = append(opts, ImporterWithPollInterval(cfg.PollInterval))
	}
	if cfg.StepTimeout != 0 {
		opts = append(opts, ImporterWithStepTimeout(cfg.StepTimeout))
	}
	metrics.Add(driverBatchMetricName, "Time taken to import a single batch")
	return &Driver{
		repo:     cfg.Repository,
		tracker:  tracker,
		importer: NewImporter(cfg.Repository, opts...),
		bus:      cfg.Bus,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Driver imports batches of units one unit after the other.
type Driver struct {
	repo     Repository
	tracker  Tracker
	importer *Importer
	bus      *Bus
	metrics  MetricsTracker
	logger   *zap.Logger
}

// BatchReport is the outcome of an ImportAll call.
type BatchReport struct {
	Batch     *Batch
	Results   []*UnitResult
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	// Skipped is the number of units that haven't been processed because the batch was stopped.
	Skipped int
}

// Errors returns the errors of the failed units in their order.
func (r *BatchReport) Errors() []error {
	errs := make([]error, 0, r.Failed)
	for _, res := range r.Results {
		if res.State == StateFailed {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// add registers the unit result in the tally.
func (r *BatchReport) add(result *UnitResult) {
	r.Results = append(r.Results, result)
	switch result.State {
	case StateDone:
		r.Succeeded++
	case StateCancelled:
		r.Cancelled++
	default:
		r.Failed++
	}
}

// ImportAll imports the units in order. A failed unit stops the batch unless continueOnError is
// true, in which case the failure is recorded and the next unit is processed. A cancelled unit
// always stops the batch. The result is true only when every unit has been imported; the report
// carries the results and the final tally.
func (d *Driver) ImportAll(ctx context.Context, units []*ImportUnit, continueOnError bool) (bool, *BatchReport) {
	d.metrics.Start(driverBatchMetricName)
	defer d.metrics.Stop(driverBatchMetricName)
	report := &BatchReport{Total: len(units), Results: make([]*UnitResult, 0, len(units))}
	if err := d.beforeRun(); err != nil {
		d.logger.Error("failed to prepare the storages for a batch", zap.Error(err))
		report.Skipped = len(units)
		return false, report
	}
	defer d.afterRun()
	batch, err := d.tracker.NewBatch(units)
	if err != nil {
		d.logger.Error("failed to register the batch", zap.Error(err))
		report.Skipped = len(units)
		return false, report
	}
	report.Batch = batch
	d.logger.Info("batch started", zap.Uint64("batch_id", batch.ID), zap.Int("units", len(units)), zap.Bool("continue_on_error", continueOnError))
	for i, unit := range units {
		if ctx.Err() != nil {
			report.Skipped = len(units) - i
			break
		}
		result := d.importUnit(ctx, unit)
		report.add(result)
		d.track(batch, result)
		if result.State == StateCancelled || (result.State == StateFailed && !continueOnError) {
			report.Skipped = len(units) - i - 1
			break
		}
	}
	if err := d.tracker.FinishBatch(batch, report); err != nil {
		d.logger.Warn("failed to finish the batch", zap.Uint64("batch_id", batch.ID), zap.Error(err))
	}
	logBatchReport(d.logger, report)
	return report.Succeeded == report.Total, report
}

// Shutdown shuts the driver storages down.
func (d *Driver) Shutdown() {
	d.logger.Info("shutting down the driver")
	d.repo.Shutdown()
	d.tracker.Shutdown()
}

// importUnit resolves the unit target and imports it.
func (d *Driver) importUnit(ctx context.Context, unit *ImportUnit) *UnitResult {
	if unit.Target != nil {
		target, err := d.repo.ResolveTarget(ctx, unit.Target)
		if err != nil {
			return d.targetFailed(ctx, unit, err)
		}
		unit = unit.WithTarget(target)
	}
	return d.importer.Import(ctx, unit)
}

// targetFailed builds the result of a unit whose target couldn't be resolved.
func (d *Driver) targetFailed(ctx context.Context, unit *ImportUnit, err error) *UnitResult {
	now := time.Now()
	result := &UnitResult{
		Unit:       unit,
		State:      StateFailed,
		FailedStep: StepTarget,
		Err:        fmt.Errorf("resolve target %s: %w", unit.Target, err),
		Started:    now,
		Finished:   now,
	}
	if ctx.Err() != nil {
		result.State = StateCancelled
	}
	result.History = []State{StateUploading, result.State}
	logUnitResult(d.logger, result)
	if result.State == StateCancelled {
		d.bus.Publish(&ImportCancelled{Unit: unit, State: StateUploading})
	} else {
		d.bus.Publish(&ImportFailed{Unit: unit, Step: StepTarget, Err: result.Err})
	}
	return result
}

// track persists the unit result and, for failures, the corresponding issue. Tracking failures
// are logged only.
func (d *Driver) track(batch *Batch, result *UnitResult) {
	if err := d.tracker.TrackResult(batch, result); err != nil {
		d.logger.Warn("failed to track the unit result", zap.String("entry_path", result.Unit.EntryPath), zap.Error(err))
	}
	if result.State != StateFailed {
		return
	}
	issue := issueFromResult(result)
	issue.complete(batch.ID, result.Unit, result.FailedStep)
	if err := d.tracker.TrackIssue(issue); err != nil {
		d.logger.Warn("failed to track issue", zap.String("entry_path", result.Unit.EntryPath), zap.Error(err))
	}
}

// beforeRun runs BeforeRun for the driver storages.
func (d *Driver) beforeRun() error {
	if err := d.repo.BeforeRun(); err != nil {
		return err
	}
	return d.tracker.BeforeRun()
}

// afterRun runs AfterRun for the driver storages.
func (d *Driver) afterRun() {
	if err := d.repo.AfterRun(); err != nil {
		d.logger.Warn("repository after run failed", zap.Error(err))
	}
	if err := d.tracker.AfterRun(); err != nil {
		d.logger.Warn("tracker after run failed", zap.Error(err))
	}
}

// logBatchReport uses logger to notify about the batch tally.
func logBatchReport(logger *zap.Logger, report *BatchReport) {
	fields := []zap.Field{
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("skipped", report.Skipped),
	}
	if report.Succeeded != report.Total {
		logger.Warn("batch end with issues", fields...)
	} else {
		logger.Info("batch end", fields...)
	}
}
