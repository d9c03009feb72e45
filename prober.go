package goingest

import (
	"context"
)

// ProbeResult is the outcome of a successful probe.
type ProbeResult struct {
	// FormatID identifies the reader recognising the file.
	FormatID string
	// UsedFiles are the files the format needs, initialisation files first. It always contains
	// the probed file.
	UsedFiles []string
	// MultiDimensional is true for plate/screen shaped data.
	MultiDimensional bool
}

// Prober determines the format of a file and the companion files it needs. Failures should be
// returned as *ProbeError so the scanner can classify them.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// ProberFunc is an adapter to allow the use of ordinary functions as probers.
type ProberFunc func(ctx context.Context, path string) (*ProbeResult, error)

// Probe calls f(ctx, path).
func (f ProberFunc) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	return f(ctx, path)
}
