package ocr

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText shells out to poppler's pdftotext. It only recovers text layers
// that already exist in the PDF, so it is the cheap path for born-digital
// documents; scanned images need the Tesseract engine.
type PdfToText struct {
	bin string
}

// NewPdfToText builds the extractor, defaulting to "pdftotext" on PATH.
func NewPdfToText(bin string) *PdfToText {
	if bin == "" {
		bin = "pdftotext"
	}
	return &PdfToText{bin: bin}
}

// ExtractText converts one PDF to layout-preserving UTF-8 text.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	out, err := exec.CommandContext(ctx, p.bin, "-layout", "-enc", "UTF-8", pdfPath, "-").Output()
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) && len(exit.Stderr) > 0 {
			return "", eris.Wrapf(err, "ocr: pdftotext on %s: %s", pdfPath, strings.TrimSpace(string(exit.Stderr)))
		}
		return "", eris.Wrapf(err, "ocr: pdftotext on %s", pdfPath)
	}
	return string(out), nil
}
