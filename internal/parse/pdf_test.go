package parse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTextPDF assembles a minimal uncompressed PDF with one content
// stream per page. An empty page text yields a page that draws nothing.
func buildTextPDF(pages ...string) []byte {
	n := len(pages)
	fontObj := 3 + 2*n
	total := fontObj

	var b strings.Builder
	offsets := make([]int, total+1)
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	offsets[2] = b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n)

	for i := range pages {
		pageObj := 3 + i
		offsets[pageObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>\nendobj\n",
			pageObj, 3+n+i, fontObj)
	}

	for i, text := range pages {
		contentObj := 3 + n + i
		stream := pageContentStream(text)
		offsets[contentObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			contentObj, len(stream), stream)
	}

	offsets[fontObj] = b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n", fontObj)

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", total+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xref)
	return []byte(b.String())
}

func pageContentStream(text string) string {
	if text == "" {
		return "BT\nET"
	}
	esc := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(text)
	return "BT\n/F1 12 Tf\n72 720 Td\n(" + esc + ") Tj\nET"
}

// buildImagePDF assembles a PDF whose single page draws one grayscale
// image and carries no text.
func buildImagePDF() []byte {
	imgData := "\x00"

	var b strings.Builder
	offsets := make([]int, 6)
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /XObject << /Im1 4 0 R >> >> /Contents 5 0 R >>\nendobj\n")

	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Type /XObject /Subtype /Image /Width 1 /Height 1 "+
		"/ColorSpace /DeviceGray /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(imgData), imgData)

	drawStream := "q 100 0 0 100 72 692 cm /Im1 Do Q"
	offsets[5] = b.Len()
	fmt.Fprintf(&b, "5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(drawStream), drawStream)

	xref := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}

func writePDF(t *testing.T, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

// --- Extraction ---

func TestExtractPDF_SinglePage(t *testing.T) {
	path := writePDF(t, buildTextPDF("Hello World"))

	pages, quality, err := extractPDF(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Hello World", pages[0])
	require.NotNil(t, quality)
	assert.Equal(t, 1, quality.PageCount)
	assert.InDelta(t, 11.0, quality.CharsPerPage, 0.001)
	assert.InDelta(t, 1.0, quality.PrintableRatio, 0.001)
	assert.False(t, quality.HasImageStreams)
}

func TestExtractPDF_MultiPageOrder(t *testing.T) {
	path := writePDF(t, buildTextPDF("alpha page one", "beta page two", "gamma page three"))

	pages, quality, err := extractPDF(path)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Contains(t, pages[0], "alpha")
	assert.Contains(t, pages[1], "beta")
	assert.Contains(t, pages[2], "gamma")
	assert.Equal(t, 3, quality.PageCount)
}

func TestExtractPDF_EmptyPageKeepsSlot(t *testing.T) {
	path := writePDF(t, buildTextPDF("", "beta page two"))

	pages, _, err := extractPDF(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Empty(t, pages[0])
	assert.Contains(t, pages[1], "beta")
}

func TestExtractPDF_ImageOnly(t *testing.T) {
	path := writePDF(t, buildImagePDF())

	pages, quality, err := extractPDF(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Empty(t, pages[0])
	assert.True(t, quality.HasImageStreams)
	assert.True(t, quality.NeedsOCR())
}

func TestExtractPDF_NotAPDF(t *testing.T) {
	path := writePDF(t, []byte("<html>not a pdf</html>"))

	_, _, err := extractPDF(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf read")
}

// --- Parse integration ---

func TestParse_PDF_PageMarkers(t *testing.T) {
	path := writePDF(t, buildTextPDF("Hello World", ""))

	got, err := New(nil).Parse(context.Background(), path, "application/pdf", "Flight Log")
	require.NoError(t, err)
	assert.Equal(t, "Flight Log", got.Title)
	assert.Contains(t, got.Text, "[PAGE 1]")
	assert.Contains(t, got.Text, "[PAGE 2]")
	assert.Contains(t, got.Text, "Hello World")
	assert.False(t, got.OCRUsed)
	require.NotNil(t, got.Quality)
	assert.Equal(t, 2, got.Quality.PageCount)
}

func TestParse_PDF_ScannedFallsBackToOCR(t *testing.T) {
	path := writePDF(t, buildTextPDF("", ""))
	stub := &stubExtractor{text: "recovered by ocr"}

	got, err := New(stub).Parse(context.Background(), path, "application/pdf", "")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.True(t, got.OCRUsed)
	assert.Equal(t, "recovered by ocr", got.Text)
	assert.NotContains(t, got.Text, "[PAGE")
}

func TestParse_PDF_OCRFailureKeepsExtractedText(t *testing.T) {
	path := writePDF(t, buildTextPDF("thin", ""))
	stub := &stubExtractor{err: errors.New("tesseract missing")}

	got, err := New(stub).Parse(context.Background(), path, "application/pdf", "")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.False(t, got.OCRUsed)
	assert.Contains(t, got.Text, "[PAGE 1]")
	assert.Contains(t, got.Text, "thin")
}

func TestParse_PDF_BlankOCRKeepsExtractedText(t *testing.T) {
	path := writePDF(t, buildTextPDF("", ""))
	stub := &stubExtractor{text: "   \n  "}

	got, err := New(stub).Parse(context.Background(), path, "application/pdf", "")
	require.NoError(t, err)
	assert.False(t, got.OCRUsed)
	assert.Contains(t, got.Text, "[PAGE 1]")
}

func TestParse_PDF_ReadablePDFSkipsOCR(t *testing.T) {
	body := "This filing discusses flight logs and witness testimony at length."
	path := writePDF(t, buildTextPDF(body, body))
	stub := &stubExtractor{text: "should not run"}

	got, err := New(stub).Parse(context.Background(), path, "application/pdf", "")
	require.NoError(t, err)
	assert.Zero(t, stub.calls)
	assert.False(t, got.OCRUsed)
	assert.Contains(t, got.Text, "witness testimony")
}

func TestParse_PDF_NilExtractorNeverOCRs(t *testing.T) {
	path := writePDF(t, buildTextPDF("", ""))

	got, err := New(nil).Parse(context.Background(), path, "application/pdf", "")
	require.NoError(t, err)
	assert.False(t, got.OCRUsed)
	assert.Contains(t, got.Text, "[PAGE 2]")
}

// --- Content-stream scanning ---

func TestTextFromContentStream_Operators(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(Alpha) Tj\n[(Beta) -250 (Gamma)] TJ\nT*\n(Delta) '\nET")

	got := textFromContentStream(stream)
	assert.Contains(t, got, "Alpha")
	assert.Contains(t, got, "BetaGamma")
	assert.Contains(t, got, "\nDelta")
}

func TestTextFromContentStream_IgnoresDrawingOps(t *testing.T) {
	stream := []byte("q 100 0 0 100 72 692 cm /Im1 Do Q")
	assert.Empty(t, textFromContentStream(stream))
}

func TestDecodeStringLiteral(t *testing.T) {
	assert.Equal(t, "plain", decodeStringLiteral([]byte("plain")))
	assert.Equal(t, "a(b)c", decodeStringLiteral([]byte(`a\(b\)c`)))
	assert.Equal(t, "line\nbreak", decodeStringLiteral([]byte(`line\nbreak`)))
	assert.Equal(t, "back\\slash", decodeStringLiteral([]byte(`back\\slash`)))
	// Octal escapes: \110\151 is "Hi", \40 a space.
	assert.Equal(t, "Hi", decodeStringLiteral([]byte(`\110\151`)))
	assert.Equal(t, "a b", decodeStringLiteral([]byte(`a\40b`)))
}

func TestCleanStreamText(t *testing.T) {
	assert.Equal(t, "a b", cleanStreamText("a    b"))
	assert.Equal(t, "a\nb", cleanStreamText("a\n\n\nb"))
	assert.Equal(t, "ab", cleanStreamText("\t a\x00b \n"))
	assert.Equal(t, "", cleanStreamText("   \n\t  "))
}

// --- Quality metrics ---

func TestQuality_NeedsOCR(t *testing.T) {
	assert.True(t, (&Quality{CharsPerPage: 10, HasImageStreams: true, PrintableRatio: 1.0}).NeedsOCR())
	assert.False(t, (&Quality{CharsPerPage: 10, HasImageStreams: false, PrintableRatio: 1.0}).NeedsOCR())
	assert.False(t, (&Quality{CharsPerPage: 900, HasImageStreams: true, PrintableRatio: 1.0}).NeedsOCR())
	assert.True(t, (&Quality{CharsPerPage: 900, HasImageStreams: false, PrintableRatio: 0.5}).NeedsOCR())
}

func TestPrintableRatio(t *testing.T) {
	assert.InDelta(t, 1.0, printableRatio("clean text\nwith lines"), 0.001)
	assert.InDelta(t, 1.0, printableRatio(""), 0.001)

	// Half the runes are private-use glyphs.
	garbled := "ab" + string(rune(0xE000)) + string(rune(0xE001))
	assert.InDelta(t, 0.5, printableRatio(garbled), 0.001)
}

func TestWordlikeRatio(t *testing.T) {
	assert.InDelta(t, 1.0, wordlikeRatio("normal words here"), 0.001)
	assert.InDelta(t, 0.0, wordlikeRatio(""), 0.001)
	assert.InDelta(t, 0.5, wordlikeRatio("ok a ok x"), 0.001)
}
