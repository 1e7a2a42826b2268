package asset

import (
	"fmt"
	"strings"

	"github.com/entrhq/claimbridge/pkg/probe"
)

// Upload formats.
const (
	FormatPNG = "png"
	FormatPDF = "pdf"
)

// NewUploadFile builds the synthetic file for an upload step. base is the
// file name without extension.
func NewUploadFile(base, format string, minBytes, minSide int, opts Options) (probe.File, error) {
	img, err := CreatePNGAtLeast(minBytes, minSide, opts)
	if err != nil {
		return probe.File{}, err
	}

	switch strings.ToLower(format) {
	case "", FormatPNG:
		return probe.File{Name: base + ".png", MimeType: "image/png", Data: img.Data}, nil
	case FormatPDF:
		data, err := WrapPDF(img.Data)
		if err != nil {
			return probe.File{}, err
		}
		return probe.File{Name: base + ".pdf", MimeType: "application/pdf", Data: data}, nil
	default:
		return probe.File{}, fmt.Errorf("unsupported upload format %q", format)
	}
}
