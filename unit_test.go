package goingest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportUnitValidate(t *testing.T) {
	assert.Truef(t, errors.Is((&ImportUnit{}).Validate(), ErrEmptyUnit), "empty unit expected to be rejected")
	assert.Errorf(t, (&ImportUnit{EntryPath: "x", UsedFiles: []string{"y"}}).Validate(), "entry path outside of the used files expected to be rejected")
	assert.NoErrorf(t, (&ImportUnit{EntryPath: "y", UsedFiles: []string{"y"}}).Validate(), "valid unit expected to pass")
}

func TestApplyMetadata(t *testing.T) {
	// ARRANGE
	units := []*ImportUnit{
		{EntryPath: "a", UsedFiles: []string{"a"}, Annotations: map[string]string{"lab": "x"}},
		{EntryPath: "b", UsedFiles: []string{"b"}, Options: UnitOptions{SkipThumbnails: true}},
	}
	m := Metadata{
		Name:        "plate 1",
		Annotations: map[string]string{"project": "p"},
		Target:      &TargetRef{Kind: "Screen", Name: "screens"},
		Options:     UnitOptions{SkipChecksum: true},
	}

	// ACT
	res := ApplyMetadata(units, m)

	// ASSERT
	if assert.Equalf(t, 2, len(res), "units number mismatch") {
		assert.Equalf(t, "plate 1", res[0].DisplayName(), "name mismatch")
		assert.Equalf(t, map[string]string{"lab": "x", "project": "p"}, res[0].Annotations, "annotations mismatch")
		assert.Equalf(t, UnitOptions{SkipThumbnails: true, SkipChecksum: true}, res[1].Options, "options mismatch")
		assert.Equalf(t, "Screen:screens", res[1].Target.String(), "target mismatch")
		assert.NotSamef(t, m.Target, res[0].Target, "target expected to be copied")
	}
	assert.Equalf(t, "a", units[0].DisplayName(), "the original unit must not be modified")
	assert.Equalf(t, map[string]string{"lab": "x"}, units[0].Annotations, "the original annotations must not be modified")
}

func TestIssueFromResult(t *testing.T) {
	// ARRANGE
	unit := &ImportUnit{EntryPath: "a.dv", UsedFiles: []string{"a.dv", "a.dv.log"}}
	result := &UnitResult{
		Unit:       unit,
		State:      StateFailed,
		FailedStep: StepVerify,
		Err:        &ChecksumMismatchError{FailingIndices: map[int]string{1: "bad"}},
	}

	// ACT
	issue := issueFromResult(result)
	issue.complete(7, unit, StepOther)

	// ASSERT
	assert.Equalf(t, IssueTypeDataIntegrity, issue.Type, "issue type mismatch")
	assert.Equalf(t, StepVerify, issue.Step, "issue step mismatch")
	assert.Equalf(t, `{"1":"bad"}`, issue.Payload, "issue payload mismatch")
	var decoded map[string]interface{}
	if assert.NoErrorf(t, json.Unmarshal([]byte(issue.Error()), &decoded), "issue error expected to be json") {
		assert.Equalf(t, "a.dv", decoded["entry_path"], "issue entry path mismatch")
		assert.Equalf(t, float64(7), decoded["batch_id"], "issue batch id mismatch")
	}
	assert.Equalf(t, IssueTypeTimeout, classifyIssue(ErrStepTimeout), "timeout classification mismatch")
	assert.Equalf(t, IssueTypeRemoteJob, classifyIssue(&RemoteJobError{}), "remote job classification mismatch")
	assert.Equalf(t, IssueTypeInfrastructure, classifyIssue(errors.New("boom")), "default classification mismatch")
}
