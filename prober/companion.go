package prober

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/funktionslust/goingest"
	"github.com/funktionslust/goingest/utils"
)

// omeDocument is the part of an OME-XML companion document needed to find the data files.
type omeDocument struct {
	XMLName xml.Name   `xml:"OME"`
	Plates  []omePlate `xml:"Plate"`
	Images  []omeImage `xml:"Image"`
}

type omePlate struct {
	ID string `xml:"ID,attr"`
}

type omeImage struct {
	ID       string        `xml:"ID,attr"`
	TiffData []omeTiffData `xml:"Pixels>TiffData"`
}

type omeTiffData struct {
	UUID struct {
		FileName string `xml:"FileName,attr"`
		Value    string `xml:",chardata"`
	} `xml:"UUID"`
}

// probeCompanion parses the companion document and lists the referenced data files after it.
// Documents describing plates are multi-dimensional.
func probeCompanion(path string) (*goingest.ProbeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if utils.IsGzip(data) {
		if data, err = utils.Gunzip(data); err != nil {
			return nil, fmt.Errorf("gunzip companion: %w", err)
		}
	}
	doc := &omeDocument{}
	if err := utils.DecodeXML(doc, data); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	used := []string{path}
	for _, img := range doc.Images {
		for _, td := range img.TiffData {
			name := td.UUID.FileName
			if name == "" {
				continue
			}
			file := filepath.Join(dir, filepath.FromSlash(name))
			if contains(used, file) {
				continue
			}
			if _, err := os.Stat(file); err != nil {
				return nil, fmt.Errorf("referenced file %s: %w", name, err)
			}
			used = append(used, file)
		}
	}
	if len(used) == 1 {
		return nil, errors.New("companion document references no data files")
	}
	return &goingest.ProbeResult{
		FormatID:         FormatOMEXML,
		UsedFiles:        used,
		MultiDimensional: len(doc.Plates) != 0,
	}, nil
}
