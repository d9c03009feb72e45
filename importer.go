package goingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const importUnitMetricName = "importer_unit"

// UnitResult is the terminal result of a unit import.
type UnitResult struct {
	Unit       *ImportUnit
	State      State
	History    []State
	SessionID  string
	Digests    []string
	Created    []RemoteObject
	PixelsRefs []string
	// FailedStep is the step the import failed or has been cancelled at.
	FailedStep Step
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Succeeded returns whether the unit has been imported.
func (r *UnitResult) Succeeded() bool {
	return r.State == StateDone
}

// ImporterOpt is a type that modifies the default Importer behaviour.
type ImporterOpt func(im *Importer)

// ImporterWithLogger makes the importer and its components log with the passed logger.
func ImporterWithLogger(logger *zap.Logger) ImporterOpt {
	return func(im *Importer) {
		im.logger = logger
	}
}

// ImporterWithBus makes the importer and its components publish events on the bus.
func ImporterWithBus(bus *Bus) ImporterOpt {
	return func(im *Importer) {
		im.bus = bus
	}
}

// ImporterWithChecksum sets the digest algorithm used by the transfer.
func ImporterWithChecksum(algorithm ChecksumAlgorithm) ImporterOpt {
	return func(im *Importer) {
		im.checksum = algorithm
	}
}

// ImporterWithPollInterval sets the remote job poll interval.
func ImporterWithPollInterval(interval time.Duration) ImporterOpt {
	return func(im *Importer) {
		im.pollInterval = interval
	}
}

// ImporterWithStepTimeout sets the time the remote job may stay at the same step.
func ImporterWithStepTimeout(timeout time.Duration) ImporterOpt {
	return func(im *Importer) {
		im.stepTimeout = timeout
	}
}

// ImporterWithMetricsTracker makes the importer track metrics using the specified MetricsTracker.
func ImporterWithMetricsTracker(tracker MetricsTracker) ImporterOpt {
	return func(im *Importer) {
		im.metrics = tracker
	}
}

// NewImporter returns a new instance of *Importer importing into the repository.
func NewImporter(repo Repository, opts ...ImporterOpt) *Importer {
	im := &Importer{
		repo:         repo,
		checksum:     DefaultChecksumAlgorithm,
		pollInterval: DefaultPollInterval,
		stepTimeout:  DefaultStepTimeout,
		metrics:      defaultMetricsTracker,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.logger == nil {
		im.logger = buildDefaultLogger("importer")
	}
	im.transfer = NewTransfer(
		TransferWithLogger(im.logger),
		TransferWithBus(im.bus),
		TransferWithChecksum(im.checksum),
		TransferWithMetricsTracker(im.metrics),
	)
	im.awaiter = NewAwaiter(
		AwaiterWithLogger(im.logger),
		AwaiterWithBus(im.bus),
		AwaiterWithPollInterval(im.pollInterval),
		AwaiterWithStepTimeout(im.stepTimeout),
	)
	im.metrics.Add(importUnitMetricName, "Time taken to import a single unit")
	return im
}

// Importer drives a single unit through upload, verification and the remote completion.
type Importer struct {
	repo         Repository
	transfer     *Transfer
	awaiter      *Awaiter
	bus          *Bus
	logger       *zap.Logger
	metrics      MetricsTracker
	checksum     ChecksumAlgorithm
	pollInterval time.Duration
	stepTimeout  time.Duration
	now          func() time.Time
}

// Import imports the unit and returns its terminal result. The result state is done, failed or
// cancelled; failures carry the step and the typed error.
func (im *Importer) Import(ctx context.Context, unit *ImportUnit) *UnitResult {
	im.metrics.Start(importUnitMetricName)
	defer im.metrics.Stop(importUnitMetricName)
	result := &UnitResult{Unit: unit, Started: im.now()}
	state := newUnitState()
	step, err := im.run(ctx, unit, state, result)
	im.finish(ctx, result, state, step, err)
	return result
}

// run performs the import steps and returns the step it failed at.
func (im *Importer) run(ctx context.Context, unit *ImportUnit, state *unitState, result *UnitResult) (Step, error) {
	if err := unit.Validate(); err != nil {
		return StepSession, err
	}
	im.bus.Publish(&FilesetUploadStart{Unit: unit, TotalFiles: len(unit.UsedFiles), TotalBytes: unit.Size})
	session, err := im.repo.CreateSession(ctx, &SessionRequest{Unit: unit, Checksum: im.transfer.Checksum(unit)})
	if err != nil {
		return StepSession, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			im.logger.Warn("failed to close session", zap.String("session", session.ID()), zap.Error(err))
		}
	}()
	result.SessionID = session.ID()
	digests, err := im.transfer.Upload(ctx, unit, session)
	result.Digests = digests
	if err != nil {
		return StepTransfer, err
	}
	if err := im.advance(ctx, state, StateVerifying); err != nil {
		return StepVerify, err
	}
	job, err := session.Verify(ctx, digests)
	if err != nil {
		var mismatch *ChecksumMismatchError
		if errors.As(err, &mismatch) {
			im.bus.Publish(&FilesetUploadEnd{Unit: unit, Checksums: digests, FailingChecksums: mismatch.FailingIndices})
		}
		return StepVerify, err
	}
	im.bus.Publish(&FilesetUploadEnd{Unit: unit, Checksums: digests, FailingChecksums: map[int]string{}})
	if err := im.advance(ctx, state, StateAwaitingSteps); err != nil {
		return StepAwait, err
	}
	resp, err := im.awaiter.Await(ctx, unit, session, job)
	if err != nil {
		return StepAwait, err
	}
	result.Created = resp.CreatedObjects
	result.PixelsRefs = resp.PixelsRefs
	return "", nil
}

// advance checks the cancellation and moves the unit to the next state.
func (im *Importer) advance(ctx context.Context, state *unitState, next State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return state.to(next)
}

// finish moves the unit to its terminal state, completes the result and publishes the outcome.
func (im *Importer) finish(ctx context.Context, result *UnitResult, state *unitState, step Step, err error) {
	switch {
	case err == nil:
		if terr := state.to(StateDone); terr != nil {
			err = terr
			state.to(StateFailed)
		}
	case errors.Is(err, ErrCancelled) || ctx.Err() != nil:
		state.to(StateCancelled)
	default:
		state.to(StateFailed)
	}
	result.State = state.current
	result.History = append([]State(nil), state.history...)
	result.Finished = im.now()
	if err != nil {
		result.FailedStep = step
		result.Err = err
	}
	logUnitResult(im.logger, result)
	switch result.State {
	case StateDone:
		im.bus.Publish(&ImportDone{
			Unit:           result.Unit,
			CreatedObjects: result.Created,
			PixelsRefs:     result.PixelsRefs,
			Checksums:      result.Digests,
		})
	case StateCancelled:
		im.bus.Publish(&ImportCancelled{Unit: result.Unit, State: state.history[len(state.history)-2]})
	default:
		im.bus.Publish(&ImportFailed{Unit: result.Unit, Step: step, Err: err})
	}
}
