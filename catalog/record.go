// Package catalog indexes the outcome of the unit imports so they can be searched later.
package catalog

import (
	"strings"
	"time"

	"github.com/funktionslust/goingest"

	"github.com/google/uuid"
)

const (
	// StatusImported is the status of a record of a successfully imported unit.
	StatusImported = "imported"
	// StatusFailed is the status of a record of a unit which failed to import.
	StatusFailed = "failed"
)

// Record is the document indexed per import.
type Record struct {
	ID               string                  `json:"-"`
	Status           string                  `json:"status"`
	EntryPath        string                  `json:"entry_path"`
	UsedFiles        []string                `json:"used_files"`
	FormatID         string                  `json:"format_id,omitempty"`
	MultiDimensional bool                    `json:"multi_dimensional"`
	Size             int64                   `json:"size"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description,omitempty"`
	Annotations      map[string]string       `json:"annotations,omitempty"`
	Target           string                  `json:"target,omitempty"`
	Checksums        []string                `json:"checksums,omitempty"`
	Objects          []goingest.RemoteObject `json:"objects,omitempty"`
	PixelsRefs       []string                `json:"pixels_refs,omitempty"`
	Step             string                  `json:"step,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Indexed          time.Time               `json:"indexed"`
}

// NewRecord builds the record of a terminal import event. It returns false for the events which
// aren't recorded. An imported unit always gets the same id for the same content, so a repeated
// import replaces its previous record.
func NewRecord(e goingest.Event, now time.Time) (*Record, bool) {
	switch ev := e.(type) {
	case *goingest.ImportDone:
		r := newUnitRecord(ev.Unit, StatusImported, now)
		r.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(ev.Unit.EntryPath+"\x00"+strings.Join(ev.Checksums, ","))).String()
		r.Checksums = ev.Checksums
		r.Objects = ev.CreatedObjects
		r.PixelsRefs = ev.PixelsRefs
		return r, true
	case *goingest.ImportFailed:
		r := newUnitRecord(ev.Unit, StatusFailed, now)
		r.ID = uuid.New().String()
		r.Step = ev.Step.String()
		if ev.Err != nil {
			r.Error = ev.Err.Error()
		}
		return r, true
	}
	return nil, false
}

func newUnitRecord(unit *goingest.ImportUnit, status string, now time.Time) *Record {
	return &Record{
		Status:           status,
		EntryPath:        unit.EntryPath,
		UsedFiles:        unit.UsedFiles,
		FormatID:         unit.FormatID,
		MultiDimensional: unit.MultiDimensional,
		Size:             unit.Size,
		Name:             unit.DisplayName(),
		Description:      unit.Description,
		Annotations:      unit.Annotations,
		Target:           unit.Target.String(),
		Indexed:          now,
	}
}

// recordMappings returns the mappings of the records index.
func recordMappings() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"status":            keyword,
			"entry_path":        keyword,
			"used_files":        keyword,
			"format_id":         keyword,
			"multi_dimensional": map[string]interface{}{"type": "boolean"},
			"size":              map[string]interface{}{"type": "long"},
			"name":              map[string]interface{}{"type": "text"},
			"description":       map[string]interface{}{"type": "text"},
			"annotations":       map[string]interface{}{"type": "flattened"},
			"target":            keyword,
			"checksums":         keyword,
			"objects": map[string]interface{}{
				"properties": map[string]interface{}{
					"kind": keyword,
					"id":   keyword,
					"name": keyword,
				},
			},
			"pixels_refs": keyword,
			"step":        keyword,
			"error":       map[string]interface{}{"type": "text"},
			"indexed":     map[string]interface{}{"type": "date"},
		},
	}
}
