package goingest

import (
	"sync/atomic"
	"time"
)

// EventKind enumerates the events published on the Bus.
type EventKind string

const (
	KindScanning           EventKind = "scanning"
	KindProbeFailed        EventKind = "probe_failed"
	KindUploadStarted      EventKind = "upload_started"
	KindUploadProgress     EventKind = "upload_progress"
	KindUploadComplete     EventKind = "upload_complete"
	KindUploadError        EventKind = "upload_error"
	KindFilesetUploadStart EventKind = "fileset_upload_start"
	KindFilesetUploadEnd   EventKind = "fileset_upload_end"
	KindStepProgress       EventKind = "step_progress"
	KindImportDone         EventKind = "import_done"
	KindImportFailed       EventKind = "import_failed"
	KindImportCancelled    EventKind = "import_cancelled"
)

// Event is the closed set of notifications emitted during scanning and import. The concrete
// types are the pointer types declared in this file.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Scanning reports the scanner progress. Total is -1 while the files are being counted.
type Scanning struct {
	File  string
	Depth int
	Count int
	Total int

	cancelled *int32
}

// Cancel asks the scanner to abort the walk and discard its results.
func (e *Scanning) Cancel() {
	if e.cancelled != nil {
		atomic.StoreInt32(e.cancelled, 1)
	}
}

// ProbeFailed reports a file skipped by the scanner.
type ProbeFailed struct {
	Path string
	Err  *ProbeError
}

// UploadStarted is emitted before the first byte of a file is sent.
type UploadStarted struct {
	Unit       *ImportUnit
	Path       string
	Index      int
	TotalFiles int
	Length     int64
}

// UploadProgress is emitted after each written block.
type UploadProgress struct {
	Unit           *ImportUnit
	Path           string
	Index          int
	Offset         int64
	Length         int64
	Remaining      time.Duration
	BytesPerSecond int64
}

// UploadComplete is emitted once a file has been sent completely.
type UploadComplete struct {
	Unit       *ImportUnit
	Path       string
	Index      int
	TotalFiles int
	Length     int64
	Digest     string
}

// UploadErrorEvent is emitted when a file upload fails. Offset is the partial upload offset.
type UploadErrorEvent struct {
	Unit   *ImportUnit
	Path   string
	Index  int
	Offset int64
	Err    error
}

// FilesetUploadStart is emitted when the unit upload begins.
type FilesetUploadStart struct {
	Unit       *ImportUnit
	TotalFiles int
	TotalBytes int64
}

// FilesetUploadEnd is emitted once the remote side has checked the digests. FailingChecksums is
// empty on success.
type FilesetUploadEnd struct {
	Unit             *ImportUnit
	Checksums        []string
	FailingChecksums map[int]string
}

// StepProgress is emitted when the remote job reaches a new step.
type StepProgress struct {
	Unit       *ImportUnit
	StepName   string
	Step       int
	TotalSteps int
}

// ImportDone is emitted when the unit import finished successfully.
type ImportDone struct {
	Unit           *ImportUnit
	CreatedObjects []RemoteObject
	PixelsRefs     []string
	Checksums      []string
}

// ImportFailed is emitted when the unit import failed.
type ImportFailed struct {
	Unit *ImportUnit
	Step Step
	Err  error
}

// ImportCancelled is emitted when the unit import has been cancelled by the caller.
type ImportCancelled struct {
	Unit  *ImportUnit
	State State
}

func (*Scanning) Kind() EventKind           { return KindScanning }
func (*ProbeFailed) Kind() EventKind        { return KindProbeFailed }
func (*UploadStarted) Kind() EventKind      { return KindUploadStarted }
func (*UploadProgress) Kind() EventKind     { return KindUploadProgress }
func (*UploadComplete) Kind() EventKind     { return KindUploadComplete }
func (*UploadErrorEvent) Kind() EventKind   { return KindUploadError }
func (*FilesetUploadStart) Kind() EventKind { return KindFilesetUploadStart }
func (*FilesetUploadEnd) Kind() EventKind   { return KindFilesetUploadEnd }
func (*StepProgress) Kind() EventKind       { return KindStepProgress }
func (*ImportDone) Kind() EventKind         { return KindImportDone }
func (*ImportFailed) Kind() EventKind       { return KindImportFailed }
func (*ImportCancelled) Kind() EventKind    { return KindImportCancelled }

func (*Scanning) isEvent()           {}
func (*ProbeFailed) isEvent()        {}
func (*UploadStarted) isEvent()      {}
func (*UploadProgress) isEvent()     {}
func (*UploadComplete) isEvent()     {}
func (*UploadErrorEvent) isEvent()   {}
func (*FilesetUploadStart) isEvent() {}
func (*FilesetUploadEnd) isEvent()   {}
func (*StepProgress) isEvent()       {}
func (*ImportDone) isEvent()         {}
func (*ImportFailed) isEvent()       {}
func (*ImportCancelled) isEvent()    {}
