package redact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal uncompressed PDF with the given number of
// blank pages. With imageOnPageOne the first page draws a 1x1 grayscale
// image XObject.
func buildPDF(pages int, imageOnPageOne bool) []byte {
	n := pages
	total := 2 + 2*n
	imgObj := 0
	if imageOnPageOne {
		imgObj = total + 1
		total = imgObj
	}

	var b strings.Builder
	offsets := make([]int, total+1)
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	offsets[2] = b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n)

	for i := 0; i < n; i++ {
		pageObj := 3 + i
		res := "<< >>"
		if imageOnPageOne && i == 0 {
			res = fmt.Sprintf("<< /XObject << /Im1 %d 0 R >> >>", imgObj)
		}
		offsets[pageObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources %s /Contents %d 0 R >>\nendobj\n", pageObj, res, 3+n+i)
	}

	for i := 0; i < n; i++ {
		contentObj := 3 + n + i
		stream := "BT\nET"
		if imageOnPageOne && i == 0 {
			stream = "q 100 0 0 100 72 692 cm /Im1 Do Q"
		}
		offsets[contentObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			contentObj, len(stream), stream)
	}

	if imageOnPageOne {
		imgData := "\x00"
		offsets[imgObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /XObject /Subtype /Image /Width 1 /Height 1 "+
			"/ColorSpace /DeviceGray /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			imgObj, len(imgData), imgData)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", total+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xref)
	return []byte(b.String())
}

func writePDF(t *testing.T, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

// --- Text scoring ---

func TestTextRedactionScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0},
		{"blank", "   \n", 0},
		{"redacted word", "This page is REDACTED by order", 0.25},
		{"placeholder adds to word score", "[REDACTED] content follows", 0.55},
		{"block glyph run", strings.Repeat("█", 30), 0.075},
		{"short glyph run ignored", strings.Repeat("█", 19), 0},
		{"all signals capped", strings.Repeat("■", 400) + " redaction [redacted]", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, textRedactionScore(tt.text), 0.0001)
		})
	}
}

// --- Analysis ---

func TestAnalyze_TextMarkersFlagPage(t *testing.T) {
	path := writePDF(t, buildPDF(2, false))
	extracted := "\n[PAGE 1]\nThis line is [REDACTED] here\n[PAGE 2]\nplain text only"

	flags, err := Analyzer{}.Analyze(path, extracted)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, 1, flags[0].PageNo)
	assert.Equal(t, FlagRedaction, flags[0].Flag)
	assert.InDelta(t, 0.55, flags[0].Score, 0.0001)
	assert.InDelta(t, 0.55, flags[0].Details["text_score"].(float64), 0.0001)
	assert.Equal(t, true, flags[0].Details["image_check_used"])
}

func TestAnalyze_ImageOnlySparsePage(t *testing.T) {
	path := writePDF(t, buildPDF(1, true))

	flags, err := Analyzer{}.Analyze(path, "")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, 1, flags[0].PageNo)
	assert.InDelta(t, imageSignalScore, flags[0].Score, 0.0001)
	assert.Equal(t, 1, flags[0].Details["image_count"])
}

func TestAnalyze_FullTextPageSkipsImageSignal(t *testing.T) {
	path := writePDF(t, buildPDF(1, true))
	extracted := "\n[PAGE 1]\n" + strings.Repeat("ordinary transcript text ", 5)

	flags, err := Analyzer{}.Analyze(path, extracted)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestAnalyze_CleanDocumentNoFlags(t *testing.T) {
	path := writePDF(t, buildPDF(2, false))
	extracted := "\n[PAGE 1]\n" + strings.Repeat("clean text ", 10) +
		"\n[PAGE 2]\n" + strings.Repeat("clean text ", 10)

	flags, err := Analyzer{}.Analyze(path, extracted)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestAnalyze_MissingFile(t *testing.T) {
	_, err := Analyzer{}.Analyze(filepath.Join(t.TempDir(), "absent.pdf"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestAnalyze_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := Analyzer{}.Analyze(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf read")
}
