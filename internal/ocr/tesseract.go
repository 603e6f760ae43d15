package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	minOCRDPI     = 72
	maxOCRDPI     = 600
	defaultOCRDPI = 200
)

// TesseractOptions configures the rasterize-then-OCR pipeline.
type TesseractOptions struct {
	BinPath      string
	PdftoppmPath string
	Languages    string
	DPI          int
}

// Tesseract renders each PDF page to a grayscale image with pdftoppm and
// runs the tesseract CLI over every page. Binarization and denoising are
// left to tesseract's internal preprocessing.
type Tesseract struct {
	binPath      string
	pdftoppmPath string
	languages    string
	dpi          int
}

// NewTesseract creates a Tesseract extractor. Empty paths fall back to the
// bare binary names; DPI is clamped to a sane rendering range.
func NewTesseract(opts TesseractOptions) *Tesseract {
	if opts.BinPath == "" {
		opts.BinPath = "tesseract"
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = "pdftoppm"
	}
	if opts.Languages == "" {
		opts.Languages = "eng"
	}
	dpi := opts.DPI
	if dpi == 0 {
		dpi = defaultOCRDPI
	}
	if dpi < minOCRDPI {
		dpi = minOCRDPI
	}
	if dpi > maxOCRDPI {
		dpi = maxOCRDPI
	}
	return &Tesseract{
		binPath:      opts.BinPath,
		pdftoppmPath: opts.PdftoppmPath,
		languages:    opts.Languages,
		dpi:          dpi,
	}
}

// ExtractText OCRs every page and joins the non-blank page texts with a
// newline.
func (t *Tesseract) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	scratch, err := os.MkdirTemp("", "ocr-pages-")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create scratch dir")
	}
	defer os.RemoveAll(scratch)

	prefix := filepath.Join(scratch, "page")
	cmd := exec.CommandContext(ctx, t.pdftoppmPath,
		"-r", strconv.Itoa(t.dpi), "-gray", "-png", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, stderr.String())
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil || len(pages) == 0 {
		return "", eris.Errorf("ocr: pdftoppm produced no page images for %s", pdfPath)
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(pages)

	var texts []string
	for _, img := range pages {
		out, err := t.ocrImage(ctx, img)
		if err != nil {
			return "", err
		}
		if s := strings.TrimSpace(out); s != "" {
			texts = append(texts, s)
		}
	}
	zap.L().Debug("ocr: tesseract pass complete",
		zap.String("pdf", pdfPath),
		zap.Int("pages", len(pages)),
		zap.Int("pages_with_text", len(texts)))
	return strings.Join(texts, "\n"), nil
}

func (t *Tesseract) ocrImage(ctx context.Context, imgPath string) (string, error) {
	args := []string{imgPath, "stdout"}
	if t.languages != "" {
		args = append(args, "-l", t.languages)
	}
	cmd := exec.CommandContext(ctx, t.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed for %s: %s", imgPath, stderr.String())
	}
	return stdout.String(), nil
}
