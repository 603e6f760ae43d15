package ocr

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
)

// --- Extractor selection ---

func TestNewExtractor_Tesseract(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Engine: "tesseract"})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, ext)
}

func TestNewExtractor_DefaultIsTesseract(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, ext)
}

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Engine: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_None(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Engine: "none"})
	require.NoError(t, err)
	assert.Nil(t, ext)
}

func TestNewExtractor_UnknownEngine(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Engine: "easyocr"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown engine "easyocr"`)
}

func TestNewExtractor_TimeoutWrapsExtractor(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Engine: "local", TimeoutSecs: 5})
	require.NoError(t, err)
	assert.IsType(t, &timeoutExtractor{}, ext)
}

// --- PdfToText ---

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.bin)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.bin)
}

func TestPdfToText_ExtractText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext on")
}

func TestPdfToText_ExtractText_Success(t *testing.T) {
	skipWithoutSh(t)
	fakeBin := writeScript(t, "pdftotext", "#!/bin/sh\necho 'Extracted text content'\n")

	p := NewPdfToText(fakeBin)
	text, err := p.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "Extracted text content")
}

// --- Tesseract ---

func TestNewTesseract_Defaults(t *testing.T) {
	ts := NewTesseract(TesseractOptions{})
	assert.Equal(t, "tesseract", ts.binPath)
	assert.Equal(t, "pdftoppm", ts.pdftoppmPath)
	assert.Equal(t, "eng", ts.languages)
	assert.Equal(t, defaultOCRDPI, ts.dpi)
}

func TestNewTesseract_ClampsDPI(t *testing.T) {
	assert.Equal(t, minOCRDPI, NewTesseract(TesseractOptions{DPI: 10}).dpi)
	assert.Equal(t, maxOCRDPI, NewTesseract(TesseractOptions{DPI: 1200}).dpi)
	assert.Equal(t, 300, NewTesseract(TesseractOptions{DPI: 300}).dpi)
}

func TestTesseract_ExtractText_JoinsPages(t *testing.T) {
	skipWithoutSh(t)
	// pdftoppm fake: drop two page images next to the requested prefix.
	pdftoppm := writeScript(t, "pdftoppm", `#!/bin/sh
for last in "$@"; do :; done
: > "$last-1.png"
: > "$last-2.png"
`)
	// tesseract fake: answer per page image.
	tesseract := writeScript(t, "tesseract", `#!/bin/sh
case "$1" in
*-1.png) echo "first page words" ;;
*-2.png) echo "second page words" ;;
esac
`)

	ts := NewTesseract(TesseractOptions{BinPath: tesseract, PdftoppmPath: pdftoppm})
	text, err := ts.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.NoError(t, err)
	assert.Equal(t, "first page words\nsecond page words", text)
}

func TestTesseract_ExtractText_SkipsBlankPages(t *testing.T) {
	skipWithoutSh(t)
	pdftoppm := writeScript(t, "pdftoppm", `#!/bin/sh
for last in "$@"; do :; done
: > "$last-1.png"
: > "$last-2.png"
`)
	tesseract := writeScript(t, "tesseract", `#!/bin/sh
case "$1" in
*-2.png) echo "only the second page reads" ;;
esac
`)

	ts := NewTesseract(TesseractOptions{BinPath: tesseract, PdftoppmPath: pdftoppm})
	text, err := ts.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.NoError(t, err)
	assert.Equal(t, "only the second page reads", text)
}

func TestTesseract_ExtractText_NoPagesProduced(t *testing.T) {
	skipWithoutSh(t)
	pdftoppm := writeScript(t, "pdftoppm", "#!/bin/sh\nexit 0\n")

	ts := NewTesseract(TesseractOptions{BinPath: "unused", PdftoppmPath: pdftoppm})
	_, err := ts.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produced no page images")
}

func TestTesseract_ExtractText_PdftoppmMissing(t *testing.T) {
	ts := NewTesseract(TesseractOptions{PdftoppmPath: "/nonexistent/pdftoppm"})
	_, err := ts.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftoppm failed")
}

// --- Timeout wrapper ---

type slowExtractor struct{}

func (slowExtractor) ExtractText(ctx context.Context, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "too late", nil
	}
}

func TestWithTimeout_CancelsSlowExtraction(t *testing.T) {
	ext := WithTimeout(slowExtractor{}, 20*time.Millisecond)
	start := time.Now()
	_, err := ext.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// --- helpers ---

func skipWithoutSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}
