package goingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCancelled is returned when an operation has been cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")
	// ErrStepTimeout is returned when the remote job does not advance within the step timeout.
	ErrStepTimeout = errors.New("remote step timed out")
	// ErrInvalidTransition is returned on an attempt to move a unit to an unreachable state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrEmptyUnit is returned when a unit has no used files.
	ErrEmptyUnit = errors.New("import unit has no used files")
)

// ProbeErrorKind classifies a probe failure.
type ProbeErrorKind string

const (
	// ProbeUnreadable means the file is missing or cannot be opened.
	ProbeUnreadable ProbeErrorKind = "unreadable"
	// ProbeUnknownFormat means no reader recognises the file.
	ProbeUnknownFormat ProbeErrorKind = "unknown_format"
	// ProbeMissingLibrary means the format is known but its decoding library is unavailable.
	ProbeMissingLibrary ProbeErrorKind = "missing_library"
	// ProbeReadFailure means the file was recognised but could not be read.
	ProbeReadFailure ProbeErrorKind = "read_failure"
)

// ProbeError is returned by a Prober when a file cannot be probed.
type ProbeError struct {
	Path string
	Kind ProbeErrorKind
	Err  error
}

// NewProbeError returns a new *ProbeError.
func NewProbeError(path string, kind ProbeErrorKind, err error) *ProbeError {
	return &ProbeError{Path: path, Kind: kind, Err: err}
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// UploadError describes a failed file upload. Offset is the number of bytes written remotely
// before the failure.
type UploadError struct {
	Path   string
	Index  int
	Offset int64
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s (file %d) failed at offset %d: %v", e.Path, e.Index, e.Offset, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError is returned by the remote side when the client digests don't match the
// received bytes. FailingIndices maps the used file index to the reported detail.
type ChecksumMismatchError struct {
	FailingIndices map[int]string
}

func (e *ChecksumMismatchError) Error() string {
	indices := make([]int, 0, len(e.FailingIndices))
	for i := range e.FailingIndices {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		parts = append(parts, fmt.Sprintf("%d: %s", i, e.FailingIndices[i]))
	}
	return "checksum mismatch for files [" + strings.Join(parts, ", ") + "]"
}

// RemoteJobError is an explicit error response of the remote import job.
type RemoteJobError struct {
	Category   string
	Name       string
	Parameters map[string]string
	Message    string
}

func (e *RemoteJobError) Error() string {
	return fmt.Sprintf("remote job failed: %s/%s: %s", e.Category, e.Name, e.Message)
}
