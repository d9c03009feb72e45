package prober

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/funktionslust/goingest"
	"github.com/funktionslust/goingest/utils"
)

var (
	pngMagic      = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic     = []byte{0xff, 0xd8, 0xff}
	tiffLE        = []byte{'I', 'I'}
	tiffBE        = []byte{'M', 'M'}
	jp2Signature  = []byte{0x00, 0x00, 0x00, 0x0c, 'j', 'P', ' ', ' '}
	j2kCodestream = []byte{0xff, 0x4f, 0xff, 0x51}
)

// dvMagicOffset is the offset of the DeltaVision magic number in the file header.
const (
	dvMagicOffset = 96
	dvMagic       = 0xa0c0
)

// singleFile returns a probe function for formats consisting of the file only.
func singleFile(format string, valid func(header []byte) bool) func(path string) (*goingest.ProbeResult, error) {
	return func(path string) (*goingest.ProbeResult, error) {
		header, err := utils.ReadHeader(path, 16)
		if err != nil {
			return nil, err
		}
		if !valid(header) {
			return nil, fmt.Errorf("not a valid %s file", format)
		}
		return &goingest.ProbeResult{FormatID: format, UsedFiles: []string{path}}, nil
	}
}

func isPNG(h []byte) bool  { return bytes.HasPrefix(h, pngMagic) }
func isJPEG(h []byte) bool { return bytes.HasPrefix(h, jpegMagic) }

func isJPEG2000(h []byte) bool {
	return bytes.HasPrefix(h, jp2Signature) || bytes.HasPrefix(h, j2kCodestream)
}

// isTIFF accepts classic and BigTIFF headers in both byte orders.
func isTIFF(h []byte) bool {
	if len(h) < 4 {
		return false
	}
	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(h, tiffLE):
		order = binary.LittleEndian
	case bytes.HasPrefix(h, tiffBE):
		order = binary.BigEndian
	default:
		return false
	}
	version := order.Uint16(h[2:4])
	return version == 42 || version == 43
}

// probeDeltaVision handles both the image file and its .log companion. The image is always the
// entry file; the log files found next to it are added as used files.
func probeDeltaVision(path string) (*goingest.ProbeResult, error) {
	image := path
	if strings.HasSuffix(strings.ToLower(path), ".log") {
		image = path[:len(path)-len(".log")]
		if _, err := os.Stat(image); err != nil {
			return nil, goingest.NewProbeError(path, goingest.ProbeReadFailure, fmt.Errorf("log file without its image: %w", err))
		}
	}
	header, err := utils.ReadHeader(image, dvMagicOffset+2)
	if err != nil {
		return nil, err
	}
	if len(header) < dvMagicOffset+2 {
		return nil, errors.New("truncated DeltaVision header")
	}
	magic := header[dvMagicOffset : dvMagicOffset+2]
	if binary.LittleEndian.Uint16(magic) != dvMagic && binary.BigEndian.Uint16(magic) != dvMagic {
		return nil, errors.New("not a valid DeltaVision file")
	}
	used := []string{image}
	ext := filepath.Ext(image)
	for _, log := range []string{image + ".log", strings.TrimSuffix(image, ext) + ".log"} {
		if _, err := os.Stat(log); err == nil && !contains(used, log) {
			used = append(used, log)
		}
	}
	return &goingest.ProbeResult{FormatID: FormatDeltaVision, UsedFiles: used}, nil
}

// contains reports whether the list holds the item.
func contains(list []string, item string) bool {
	for _, i := range list {
		if i == item {
			return true
		}
	}
	return false
}
