package goingest

import (
	"fmt"
)

// UnitOptions holds the per-unit import overrides.
type UnitOptions struct {
	SkipThumbnails bool `json:"skip_thumbnails"`
	SkipStatistics bool `json:"skip_statistics"`
	SkipChecksum   bool `json:"skip_checksum"`
}

// TargetRef references the remote container a unit is imported into. Either ID or Name is set
// by the user; the Repository resolves it to a complete reference.
type TargetRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// String returns a readable representation of the target.
func (t *TargetRef) String() string {
	if t == nil {
		return ""
	}
	if t.ID != "" {
		return t.Kind + ":" + t.ID
	}
	return t.Kind + ":" + t.Name
}

// ImportUnit describes one importable entity: the minimal set of files that must be imported
// together. Units are created by the grouper and must be treated as values afterwards, the With*
// helpers return modified copies.
type ImportUnit struct {
	// EntryPath is the path used to open the format. It is always UsedFiles[0] once grouped.
	EntryPath string `json:"entry_path"`
	// UsedFiles are the files needed to interpret the unit, initialisation files first.
	UsedFiles        []string          `json:"used_files"`
	FormatID         string            `json:"format_id"`
	MultiDimensional bool              `json:"multi_dimensional"`
	Size             int64             `json:"size"`
	Options          UnitOptions       `json:"options"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Annotations      map[string]string `json:"annotations,omitempty"`
	Target           *TargetRef        `json:"target,omitempty"`
}

// Validate checks the unit invariants.
func (u *ImportUnit) Validate() error {
	if len(u.UsedFiles) == 0 {
		return ErrEmptyUnit
	}
	for _, f := range u.UsedFiles {
		if f == u.EntryPath {
			return nil
		}
	}
	return fmt.Errorf("entry path %s is not among the used files", u.EntryPath)
}

// Clone returns a deep copy of the unit.
func (u *ImportUnit) Clone() *ImportUnit {
	c := *u
	c.UsedFiles = append([]string(nil), u.UsedFiles...)
	if u.Annotations != nil {
		c.Annotations = make(map[string]string, len(u.Annotations))
		for k, v := range u.Annotations {
			c.Annotations[k] = v
		}
	}
	if u.Target != nil {
		t := *u.Target
		c.Target = &t
	}
	return &c
}

// Metadata holds the user supplied overrides applied to the units before import. Zero values
// leave the unit untouched.
type Metadata struct {
	Name        string
	Description string
	Annotations map[string]string
	Target      *TargetRef
	Options     UnitOptions
}

// WithMetadata returns a copy of the unit with the metadata applied. Option flags are only ever
// switched on.
func (u *ImportUnit) WithMetadata(m Metadata) *ImportUnit {
	c := u.Clone()
	if m.Name != "" {
		c.Name = m.Name
	}
	if m.Description != "" {
		c.Description = m.Description
	}
	for k, v := range m.Annotations {
		if c.Annotations == nil {
			c.Annotations = make(map[string]string, len(m.Annotations))
		}
		c.Annotations[k] = v
	}
	if m.Target != nil {
		t := *m.Target
		c.Target = &t
	}
	c.Options.SkipThumbnails = c.Options.SkipThumbnails || m.Options.SkipThumbnails
	c.Options.SkipStatistics = c.Options.SkipStatistics || m.Options.SkipStatistics
	c.Options.SkipChecksum = c.Options.SkipChecksum || m.Options.SkipChecksum
	return c
}

// WithTarget returns a copy of the unit imported into the target.
func (u *ImportUnit) WithTarget(t *TargetRef) *ImportUnit {
	c := u.Clone()
	c.Target = t
	return c
}

// DisplayName returns the user given name or the entry path.
func (u *ImportUnit) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.EntryPath
}

// ApplyMetadata returns copies of all the units with the metadata applied.
func ApplyMetadata(units []*ImportUnit, m Metadata) []*ImportUnit {
	res := make([]*ImportUnit, 0, len(units))
	for _, u := range units {
		res = append(res, u.WithMetadata(m))
	}
	return res
}
