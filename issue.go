package goingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NewIssue returns a new *Issue populated with the passed parameters. The unit and the step are
// completed later by the Driver which knows where the issue has happened.
func NewIssue(
	err error,
	note string,
	issueType IssueType,
	payload string,
) *Issue {
	return &Issue{
		Type:    issueType,
		Payload: payload,
		Note:    note,
		Created: time.Now(),
		Err:     err,
	}
}

// Issue represents an error or problem that's happened during processing. It's used by the tracker
// to mark units which failed at one of the steps.
type Issue struct {
	ID      uint64      `json:"id"`
	BatchID uint64      `json:"batch_id,omitempty"`
	Unit    *ImportUnit `json:"-"`
	Step    Step        `json:"step"`
	Type    IssueType   `json:"type"`
	Payload string      `json:"payload,omitempty"`
	Note    string      `json:"note,omitempty"`
	Handled *time.Time  `json:"handled"`
	Created time.Time   `json:"created"`
	Err     error       `json:"-"`
}

// Error makes the Issue type implement Error interface.
func (i *Issue) Error() string {
	if d, err := json.Marshal(i); err == nil {
		return string(d)
	}
	return fmt.Sprintf("%+v", *i)
}

// Unwrap returns the underlying error.
func (i *Issue) Unwrap() error {
	return i.Err
}

// MarshalJSON overrides the default MarshalJSON method in order to represent the unit by its entry
// path and the error by its message.
func (i *Issue) MarshalJSON() ([]byte, error) {
	var entryPath, errMsg string
	if i.Unit != nil {
		entryPath = i.Unit.EntryPath
	}
	if i.Err != nil {
		errMsg = i.Err.Error()
	}
	type Alias Issue
	return json.Marshal(&struct {
		EntryPath string `json:"entry_path,omitempty"`
		Err       string `json:"err,omitempty"`
		*Alias
	}{
		EntryPath: entryPath,
		Err:       errMsg,
		Alias:     (*Alias)(i),
	})
}

// complete finishes the issue definition by setting its last fields left unknown.
func (i *Issue) complete(batchID uint64, unit *ImportUnit, step Step) {
	i.BatchID = batchID
	i.Unit = unit
	if i.Step == "" {
		i.Step = step
	}
}

// issueFromResult builds an issue describing the failed unit result.
func issueFromResult(result *UnitResult) *Issue {
	issue := NewIssue(result.Err, "", classifyIssue(result.Err), "")
	issue.Step = result.FailedStep
	if mismatch := (*ChecksumMismatchError)(nil); errors.As(result.Err, &mismatch) {
		if d, err := json.Marshal(mismatch.FailingIndices); err == nil {
			issue.Payload = string(d)
		}
	}
	return issue
}

// classifyIssue maps an import error to the issue type.
func classifyIssue(err error) IssueType {
	var (
		mismatch *ChecksumMismatchError
		jobErr   *RemoteJobError
		upErr    *UploadError
		probeErr *ProbeError
	)
	switch {
	case errors.As(err, &mismatch):
		return IssueTypeDataIntegrity
	case errors.As(err, &jobErr):
		return IssueTypeRemoteJob
	case errors.As(err, &upErr):
		return IssueTypeTransfer
	case errors.As(err, &probeErr):
		return IssueTypeProbe
	case errors.Is(err, ErrStepTimeout):
		return IssueTypeTimeout
	}
	return IssueTypeInfrastructure
}

// IssueType defines the kind of an issue within the goingest process. It can be used to logically
// group issues.
type IssueType string

const (
	// IssueTypeInfrastructure issues that have been caused by infrastructure malfunction.
	IssueTypeInfrastructure IssueType = "infrastructure"
	// IssueTypeDataIntegrity describes issues that have been caused by a checksum mismatch.
	IssueTypeDataIntegrity IssueType = "data_integrity"
	// IssueTypeTransfer describes issues that have been caused by a failed file upload.
	IssueTypeTransfer IssueType = "transfer"
	// IssueTypeProbe describes issues that have been caused by files not being recognised.
	IssueTypeProbe IssueType = "probe"
	// IssueTypeRemoteJob describes issues reported by the remote import job.
	IssueTypeRemoteJob IssueType = "remote_job"
	// IssueTypeTimeout describes issues caused by a remote step taking too long.
	IssueTypeTimeout IssueType = "timeout"
)

// String converts a IssueType to string.
func (i IssueType) String() string {
	return string(i)
}
