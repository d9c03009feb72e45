// Package prober provides the default goingest.Prober recognising the formats by their extension
// and validating them by their content.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/funktionslust/goingest"

	"go.uber.org/zap"
)

// Format identifiers reported in goingest.ProbeResult.FormatID.
const (
	FormatDeltaVision = "DeltaVision"
	FormatOMEXML      = "OME-XML"
	FormatPattern     = "FilePattern"
	FormatOMETIFF     = "OME-TIFF"
	FormatTIFF        = "TIFF"
	FormatPNG         = "PNG"
	FormatJPEG        = "JPEG"
	FormatJPEG2000    = "JPEG-2000"
)

// reader recognises one format.
type reader struct {
	format string
	// suffixes are matched against the lower-cased file name.
	suffixes []string
	probe    func(path string) (*goingest.ProbeResult, error)
}

// matches reports whether the reader is responsible for the file name.
func (r *reader) matches(name string) bool {
	for _, s := range r.suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Opt is a type that modifies the default Prober behaviour.
type Opt func(p *Prober)

// WithLogger makes the prober log with the passed logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithJPEG2000Decoder marks the JPEG-2000 decoding library as available. Without it .jp2 and .j2k
// files fail with goingest.ProbeMissingLibrary.
func WithJPEG2000Decoder() Opt {
	return func(p *Prober) {
		p.jpeg2000 = true
	}
}

// New returns a new instance of *Prober.
func New(opts ...Opt) *Prober {
	p := &Prober{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	// order matters: the more specific suffixes first
	p.readers = []*reader{
		{format: FormatOMEXML, suffixes: []string{".companion.ome", ".companion.ome.gz"}, probe: probeCompanion},
		{format: FormatPattern, suffixes: []string{".pattern"}, probe: probePattern},
		{format: FormatDeltaVision, suffixes: []string{".dv.log", ".r3d.log", ".dv", ".r3d"}, probe: probeDeltaVision},
		{format: FormatOMETIFF, suffixes: []string{".ome.tif", ".ome.tiff", ".ome.tf2", ".ome.btf"}, probe: singleFile(FormatOMETIFF, isTIFF)},
		{format: FormatTIFF, suffixes: []string{".tif", ".tiff"}, probe: singleFile(FormatTIFF, isTIFF)},
		{format: FormatPNG, suffixes: []string{".png"}, probe: singleFile(FormatPNG, isPNG)},
		{format: FormatJPEG, suffixes: []string{".jpg", ".jpeg", ".jpe"}, probe: singleFile(FormatJPEG, isJPEG)},
		{format: FormatJPEG2000, suffixes: []string{".jp2", ".j2k", ".jpf"}, probe: p.probeJPEG2000},
	}
	return p
}

// Prober is the default goingest.Prober.
type Prober struct {
	readers  []*reader
	jpeg2000 bool
	logger   *zap.Logger
}

// Probe recognises the file and returns its used files. Failures are returned as
// *goingest.ProbeError.
func (p *Prober) Probe(ctx context.Context, path string) (*goingest.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, goingest.NewProbeError(path, goingest.ProbeReadFailure, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, goingest.NewProbeError(path, goingest.ProbeUnreadable, err)
	}
	if info.IsDir() {
		return nil, goingest.NewProbeError(path, goingest.ProbeUnknownFormat, errors.New("is a directory"))
	}
	name := strings.ToLower(filepath.Base(path))
	for _, r := range p.readers {
		if !r.matches(name) {
			continue
		}
		res, err := r.probe(path)
		if err != nil {
			return nil, classify(path, err)
		}
		p.logger.Debug("file probed",
			zap.String("path", path),
			zap.String("format", res.FormatID),
			zap.Int("used_files", len(res.UsedFiles)),
		)
		return res, nil
	}
	return nil, goingest.NewProbeError(path, goingest.ProbeUnknownFormat, fmt.Errorf("no reader for %s", filepath.Base(path)))
}

// probeJPEG2000 recognises JPEG-2000 files when the decoder is available.
func (p *Prober) probeJPEG2000(path string) (*goingest.ProbeResult, error) {
	if !p.jpeg2000 {
		return nil, goingest.NewProbeError(path, goingest.ProbeMissingLibrary, errors.New("JPEG-2000 decoder is not available"))
	}
	return singleFile(FormatJPEG2000, isJPEG2000)(path)
}

// classify converts the reader error into a *goingest.ProbeError.
func classify(path string, err error) *goingest.ProbeError {
	var perr *goingest.ProbeError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return goingest.NewProbeError(path, goingest.ProbeUnreadable, err)
	}
	return goingest.NewProbeError(path, goingest.ProbeReadFailure, err)
}
