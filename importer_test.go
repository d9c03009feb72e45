package goingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestImporter(repo Repository, bus *Bus) *Importer {
	return NewImporter(repo,
		ImporterWithLogger(newTestLogger()),
		ImporterWithBus(bus),
		ImporterWithPollInterval(time.Millisecond),
	)
}

func newTestUnit(t *testing.T, names ...string) *ImportUnit {
	t.Helper()
	contents := make(map[string]string, len(names))
	for _, n := range names {
		contents[n] = "content of " + n
	}
	files := writeFiles(t, t.TempDir(), names, contents)
	return &ImportUnit{EntryPath: files[0], UsedFiles: files, Size: totalSize(files)}
}

func TestImporterSuccess(t *testing.T) {
	// ARRANGE
	repo := newMockRepository()
	created := []RemoteObject{{Kind: "Image", ID: "42", Name: "a.tiff"}}
	repo.configure = func(s *mockSession) {
		s.statuses = []*JobStatus{{Step: 1}, {Step: 5, Response: &ImportResponse{CreatedObjects: created, PixelsRefs: []string{"px"}}}}
	}
	bus, rec := newRecordingBus()
	im := newTestImporter(repo, bus)
	unit := newTestUnit(t, "a.tiff", "a.companion")

	// ACT
	result := im.Import(context.Background(), unit)

	// ASSERT
	if !assert.NoErrorf(t, result.Err, "import failed") {
		return
	}
	assert.Truef(t, result.Succeeded(), "result expected to succeed")
	assert.Equalf(t, []State{StateUploading, StateVerifying, StateAwaitingSteps, StateDone}, result.History, "state history mismatch")
	assert.Equalf(t, created, result.Created, "created objects mismatch")
	assert.Equalf(t, 2, len(result.Digests), "digests number mismatch")
	assert.Equalf(t, "session-1", result.SessionID, "session id mismatch")
	assert.Truef(t, repo.sessions[0].closed, "session expected to be closed")
	if ends := rec.ofKind(KindFilesetUploadEnd); assert.Equalf(t, 1, len(ends), "fileset end events number mismatch") {
		assert.Emptyf(t, ends[0].(*FilesetUploadEnd).FailingChecksums, "no failing checksums expected")
	}
	if done := rec.ofKind(KindImportDone); assert.Equalf(t, 1, len(done), "import done events number mismatch") {
		assert.Equalf(t, result.Digests, done[0].(*ImportDone).Checksums, "done event checksums mismatch")
	}
	assert.Emptyf(t, rec.ofKind(KindImportFailed), "no failure events expected")
}

func TestImporterVerificationFailure(t *testing.T) {
	// ARRANGE
	repo := newMockRepository()
	repo.configure = func(s *mockSession) {
		s.corrupt[1] = "remote digest differs"
	}
	bus, rec := newRecordingBus()
	im := newTestImporter(repo, bus)
	unit := newTestUnit(t, "a.dv", "a.dv.log", "a.extra")

	// ACT
	result := im.Import(context.Background(), unit)

	// ASSERT
	assert.Equalf(t, StateFailed, result.State, "unit state mismatch")
	assert.Falsef(t, result.Succeeded(), "unit must not succeed")
	assert.Equalf(t, StepVerify, result.FailedStep, "failed step mismatch")
	var mismatch *ChecksumMismatchError
	if assert.Truef(t, errors.As(result.Err, &mismatch), "*ChecksumMismatchError expected, got %v", result.Err) {
		assert.Equalf(t, map[int]string{1: "remote digest differs"}, mismatch.FailingIndices, "failing indices mismatch")
	}
	assert.NotContainsf(t, result.History, StateDone, "the unit must never reach done")
	if ends := rec.ofKind(KindFilesetUploadEnd); assert.Equalf(t, 1, len(ends), "fileset end events number mismatch") {
		assert.Equalf(t, mismatch.FailingIndices, ends[0].(*FilesetUploadEnd).FailingChecksums, "event failing checksums mismatch")
	}
	if failed := rec.ofKind(KindImportFailed); assert.Equalf(t, 1, len(failed), "import failed events number mismatch") {
		assert.Equalf(t, StepVerify, failed[0].(*ImportFailed).Step, "event step mismatch")
	}
}

func TestImporterFailures(t *testing.T) {
	t.Run("SessionCreation", func(t *testing.T) {
		// ARRANGE
		repo := newMockRepository()
		unit := newTestUnit(t, "a.png")
		repo.failCreate[unit.EntryPath] = true
		im := newTestImporter(repo, nil)

		// ACT
		result := im.Import(context.Background(), unit)

		// ASSERT
		assert.Equalf(t, StateFailed, result.State, "unit state mismatch")
		assert.Equalf(t, StepSession, result.FailedStep, "failed step mismatch")
		assert.Truef(t, errors.Is(result.Err, errCreateFailed), "session error expected, got %v", result.Err)
	})

	t.Run("MissingLocalFile", func(t *testing.T) {
		// ARRANGE
		repo := newMockRepository()
		im := newTestImporter(repo, nil)
		unit := &ImportUnit{EntryPath: "/does/not/exist.png", UsedFiles: []string{"/does/not/exist.png"}}

		// ACT
		result := im.Import(context.Background(), unit)

		// ASSERT
		assert.Equalf(t, StateFailed, result.State, "unit state mismatch")
		assert.Equalf(t, StepTransfer, result.FailedStep, "failed step mismatch")
		var upErr *UploadError
		assert.Truef(t, errors.As(result.Err, &upErr), "*UploadError expected, got %v", result.Err)
	})

	t.Run("EmptyUnit", func(t *testing.T) {
		// ARRANGE
		im := newTestImporter(newMockRepository(), nil)

		// ACT
		result := im.Import(context.Background(), &ImportUnit{})

		// ASSERT
		assert.Equalf(t, StateFailed, result.State, "unit state mismatch")
		assert.Truef(t, errors.Is(result.Err, ErrEmptyUnit), "ErrEmptyUnit expected, got %v", result.Err)
	})

	t.Run("Cancelled", func(t *testing.T) {
		// ARRANGE
		repo := newMockRepository()
		repo.configure = func(s *mockSession) {
			s.statuses = []*JobStatus{{Step: 1}}
		}
		bus, rec := newRecordingBus()
		im := newTestImporter(repo, bus)
		unit := newTestUnit(t, "a.png")
		ctx, cancel := context.WithCancel(context.Background())
		bus.Subscribe(ObserverFunc(func(e Event) {
			if e.Kind() == KindStepProgress {
				cancel()
			}
		}))

		// ACT
		result := im.Import(ctx, unit)

		// ASSERT
		assert.Equalf(t, StateCancelled, result.State, "unit state mismatch")
		assert.Equalf(t, StepAwait, result.FailedStep, "cancelled step mismatch")
		if cancelled := rec.ofKind(KindImportCancelled); assert.Equalf(t, 1, len(cancelled), "cancelled events number mismatch") {
			assert.Equalf(t, StateAwaitingSteps, cancelled[0].(*ImportCancelled).State, "state before cancellation mismatch")
		}
		assert.Emptyf(t, rec.ofKind(KindImportFailed), "cancellation is not a failure")
	})
}
