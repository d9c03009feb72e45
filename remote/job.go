// Package remote contains the goingest.Repository implementations.
package remote

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/funktionslust/goingest"
)

// thumbnailStep is the job step generating the thumbnails.
const thumbnailStep = 3

// FailFunc decides whether the import job of the unit fails. A nil error lets the job succeed.
type FailFunc func(unit *goingest.ImportUnit) *goingest.RemoteJobError

// idSequence hands out the ids of the created remote objects.
type idSequence struct {
	last uint64
}

func (s *idSequence) next() string {
	return strconv.FormatUint(atomic.AddUint64(&s.last, 1), 10)
}

// newJob returns the import job of the unit. The job creates a plate for multi-dimensional units
// and an image for every unit.
func newJob(id goingest.JobID, unit *goingest.ImportUnit, ids *idSequence, fail FailFunc) *job {
	j := &job{id: id, unit: unit}
	if fail != nil {
		j.failure = fail(unit)
	}
	if unit.MultiDimensional {
		j.created = append(j.created, goingest.RemoteObject{Kind: "Plate", ID: ids.next(), Name: unit.DisplayName()})
	}
	imageID := ids.next()
	j.created = append(j.created, goingest.RemoteObject{Kind: "Image", ID: imageID, Name: unit.DisplayName()})
	j.pixels = []string{"Pixels:" + imageID}
	return j
}

// job is the server side import job. It advances by one step per poll and passes over the
// thumbnail generation when the unit skips thumbnails. A failing job reports its error once the
// metadata import step is reached.
type job struct {
	mu      sync.Mutex
	id      goingest.JobID
	unit    *goingest.ImportUnit
	step    int
	created []goingest.RemoteObject
	pixels  []string
	failure *goingest.RemoteJobError
}

// poll advances the job and returns its status.
func (j *job) poll() *goingest.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.step < goingest.TotalSteps {
		j.step++
		if j.step == thumbnailStep && j.unit.Options.SkipThumbnails {
			j.step++
		}
	}
	status := &goingest.JobStatus{Step: j.step, TotalSteps: goingest.TotalSteps}
	switch {
	case j.failure != nil:
		status.Err = j.failure
	case j.step == goingest.TotalSteps:
		status.Response = &goingest.ImportResponse{CreatedObjects: j.created, PixelsRefs: j.pixels}
	}
	return status
}

// done reports whether the job has finished.
func (j *job) done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure != nil || j.step == goingest.TotalSteps
}

// verifyDigests compares the client digests with the ones computed by digestOf for every file.
func verifyDigests(digests []string, files int, digestOf func(index int) (string, error)) error {
	if len(digests) != files {
		return fmt.Errorf("expected %d digests, got %d", files, len(digests))
	}
	failing := make(map[int]string)
	for i, digest := range digests {
		actual, err := digestOf(i)
		if err != nil {
			failing[i] = err.Error()
			continue
		}
		if actual != digest {
			failing[i] = actual
		}
	}
	if len(failing) != 0 {
		return &goingest.ChecksumMismatchError{FailingIndices: failing}
	}
	return nil
}
