package goingest

import (
	"sync/atomic"
	"time"
)

// Tracker represents a storage that acts as a registry of import batches. It tracks the batches,
// the results of their units and the issues that occurred.
type Tracker interface {
	Storage
	// NewBatch registers a new batch of the passed units. A completely populated batch is expected
	// as the result with all the fields set.
	NewBatch(units []*ImportUnit) (*Batch, error)
	// TrackResult persists the terminal result of a batch unit.
	TrackResult(batch *Batch, result *UnitResult) error
	// FinishBatch marks the batch as finished and stores its tally.
	FinishBatch(batch *Batch, report *BatchReport) error
	// TrackIssue tracks the issue.
	TrackIssue(issue *Issue) error
}

// Batch is a single ImportAll run registered in the tracker.
type Batch struct {
	ID        uint64
	ProcessID string
	Units     int
	Started   time.Time
	Finished  *time.Time
}

// nopTracker is used when no tracker is configured. It hands out sequential batch ids and
// forgets everything else.
type nopTracker struct {
	BaseStorage
	lastID uint64
}

func (t *nopTracker) Setup() error { return nil }

func (t *nopTracker) NewBatch(units []*ImportUnit) (*Batch, error) {
	return &Batch{
		ID:        atomic.AddUint64(&t.lastID, 1),
		ProcessID: t.ProcessID,
		Units:     len(units),
		Started:   time.Now(),
	}, nil
}

func (t *nopTracker) TrackResult(batch *Batch, result *UnitResult) error { return nil }

func (t *nopTracker) FinishBatch(batch *Batch, report *BatchReport) error {
	now := time.Now()
	batch.Finished = &now
	return nil
}

func (t *nopTracker) TrackIssue(issue *Issue) error { return nil }
