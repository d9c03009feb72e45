package goingest

import (
	"context"
)

// DefaultBlockSize is the transfer block size used when the session doesn't negotiate one.
const DefaultBlockSize = 1 << 20

// Repository represents the remote store the units are imported into.
type Repository interface {
	Storage
	// ResolveTarget looks up the target container and returns its complete reference. A missing
	// container may be created by the repository.
	ResolveTarget(ctx context.Context, target *TargetRef) (*TargetRef, error)
	// CreateSession negotiates a new import session for the unit.
	CreateSession(ctx context.Context, req *SessionRequest) (Session, error)
}

// SessionRequest describes the import session to create.
type SessionRequest struct {
	Unit     *ImportUnit
	Checksum ChecksumAlgorithm
}

// Session is a remote import session of a single unit.
type Session interface {
	// ID returns the remote session identifier.
	ID() string
	// BlockSize returns the negotiated transfer block size in bytes.
	BlockSize() int
	// OpenWriter opens the remote file handle of the used file with the passed index.
	OpenWriter(ctx context.Context, index int) (FileWriter, error)
	// Verify submits the client side digests, one per used file. A mismatch is reported as
	// *ChecksumMismatchError, otherwise the import job handle is returned.
	Verify(ctx context.Context, digests []string) (JobID, error)
	// Poll returns the current job status.
	Poll(ctx context.Context, job JobID) (*JobStatus, error)
	// Close releases the session.
	Close() error
}

// JobWatcher may be implemented by a Session able to push job status updates. The callback may
// be called concurrently and more than once with a terminal status.
type JobWatcher interface {
	Watch(ctx context.Context, job JobID, fn func(*JobStatus)) (stop func(), err error)
}

// FileWriter is a remote file handle.
type FileWriter interface {
	// Write writes p at the offset.
	Write(p []byte, offset int64) (int, error)
	// Close finalizes the remote file.
	Close() (*RemoteFile, error)
}

// FileAborter is implemented by the FileWriters which can discard an unfinished file. Abort is
// called before Close when the upload of the file failed.
type FileAborter interface {
	Abort(err error)
}

// RemoteFile references an uploaded file.
type RemoteFile struct {
	Index int
	Path  string
	Size  int64
}

// JobID is the handle of a remote import job.
type JobID string

// JobStatus is the result of a job poll. Response or Err is set once the job is finished.
type JobStatus struct {
	Step       int
	TotalSteps int
	Response   *ImportResponse
	Err        *RemoteJobError
}

// Terminal returns whether the job has finished.
func (s *JobStatus) Terminal() bool {
	return s.Response != nil || s.Err != nil
}

// ImportResponse is the terminal success response of a job.
type ImportResponse struct {
	CreatedObjects []RemoteObject
	PixelsRefs     []string
}

// RemoteObject references an object created by the import, e.g. an image or a plate.
type RemoteObject struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// blockSize returns the session block size or the default one.
func blockSize(s Session) int {
	if size := s.BlockSize(); size > 0 {
		return size
	}
	return DefaultBlockSize
}
