package asset

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	api.DisableConfigDir()
}

// WrapPDF places a PNG on a single PDF page.
func WrapPDF(pngData []byte) ([]byte, error) {
	if len(pngData) == 0 {
		return nil, fmt.Errorf("wrap pdf: empty image")
	}

	var out bytes.Buffer
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, &out, []io.Reader{bytes.NewReader(pngData)}, imp, nil); err != nil {
		return nil, fmt.Errorf("wrap pdf: %w", err)
	}
	return out.Bytes(), nil
}
