// Package ocr extracts text from scanned PDFs through external CLI tools.
package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
)

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewExtractor creates an Extractor based on config. Engine "none" returns
// a nil extractor, which callers treat as OCR being unavailable.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	var ext Extractor
	switch engine := strings.ToLower(strings.TrimSpace(cfg.Engine)); engine {
	case "none":
		return nil, nil
	case "local":
		ext = NewPdfToText(cfg.PdfToTextPath)
	case "", "tesseract":
		ext = NewTesseract(TesseractOptions{
			BinPath:      cfg.TesseractPath,
			PdftoppmPath: cfg.PdftoppmPath,
			Languages:    cfg.Languages,
			DPI:          cfg.DPI,
		})
	default:
		return nil, eris.Errorf("ocr: unknown engine %q", cfg.Engine)
	}
	if cfg.TimeoutSecs > 0 {
		ext = WithTimeout(ext, time.Duration(cfg.TimeoutSecs)*time.Second)
	}
	return ext, nil
}

// WithTimeout bounds every extraction attempt on the wrapped extractor.
func WithTimeout(e Extractor, d time.Duration) Extractor {
	return &timeoutExtractor{inner: e, timeout: d}
}

type timeoutExtractor struct {
	inner   Extractor
	timeout time.Duration
}

func (t *timeoutExtractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.ExtractText(ctx, pdfPath)
}
