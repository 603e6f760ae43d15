package parse

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	text  string
	err   error
	calls int
}

func (s *stubExtractor) ExtractText(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Dispatch and plain text ---

func TestParse_TxtFile(t *testing.T) {
	path := writeFile(t, "notes.txt", "plain text body\nsecond line\n")

	got, err := New(nil).Parse(context.Background(), path, "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", got.Title)
	assert.Equal(t, "plain text body\nsecond line\n", got.Text)
	assert.False(t, got.OCRUsed)
	assert.Nil(t, got.Quality)
}

func TestParse_FallbackTitlePreferred(t *testing.T) {
	path := writeFile(t, "notes.txt", "body")

	got, err := New(nil).Parse(context.Background(), path, "text/plain", "Court Filing 17")
	require.NoError(t, err)
	assert.Equal(t, "Court Filing 17", got.Title)
}

func TestParse_UnknownFormatReadAsText(t *testing.T) {
	path := writeFile(t, "blob.dat", "opaque contents")

	got, err := New(nil).Parse(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "opaque contents", got.Text)
}

func TestParse_InvalidUTF8Dropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.txt")
	require.NoError(t, os.WriteFile(path, []byte{'a', 0xff, 'b'}, 0o644))

	got, err := New(nil).Parse(context.Background(), path, "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, "ab", got.Text)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := New(nil).Parse(context.Background(), "/nonexistent/file.txt", "", "")
	require.Error(t, err)
}

// --- HTML ---

func TestParse_HTML_StripsScriptStyleNoscript(t *testing.T) {
	page := `<html><head>
<title>Docket Sheet</title>
<style>body { color: red }</style>
<script>alert("tracked")</script>
</head><body>
<noscript>enable javascript</noscript>
<h1>Case 9:08-cv-80736</h1>
<p>Filed under seal.</p>
</body></html>`
	path := writeFile(t, "docket.html", page)

	got, err := New(nil).Parse(context.Background(), path, "text/html", "")
	require.NoError(t, err)
	assert.Equal(t, "Docket Sheet", got.Title)
	assert.Contains(t, got.Text, "Case 9:08-cv-80736")
	assert.Contains(t, got.Text, "Filed under seal.")
	assert.NotContains(t, got.Text, "alert")
	assert.NotContains(t, got.Text, "color: red")
	assert.NotContains(t, got.Text, "enable javascript")
	for _, line := range strings.Split(got.Text, "\n") {
		assert.NotEmpty(t, strings.TrimSpace(line))
	}
}

func TestParse_HTML_TitleFallsBackToFilename(t *testing.T) {
	path := writeFile(t, "untitled.html", "<html><body><p>body text</p></body></html>")

	got, err := New(nil).Parse(context.Background(), path, "text/html", "")
	require.NoError(t, err)
	assert.Equal(t, "untitled.html", got.Title)
}

func TestParse_HTML_SelectedByContentType(t *testing.T) {
	path := writeFile(t, "download.tmp", "<html><head><title>Press Release</title></head><body>x</body></html>")

	got, err := New(nil).Parse(context.Background(), path, "text/html; charset=utf-8", "")
	require.NoError(t, err)
	assert.Equal(t, "Press Release", got.Title)
}

// --- DOCX ---

func writeDocx(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParse_Docx_JoinsParagraphs(t *testing.T) {
	path := writeDocx(t, `<w:p><w:r><w:t>first paragraph</w:t></w:r></w:p>`+
		`<w:p></w:p>`+
		`<w:p><w:r><w:t>second paragraph</w:t></w:r></w:p>`)

	got, err := New(nil).Parse(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "first paragraph\nsecond paragraph", got.Text)
	assert.Equal(t, "doc.docx", got.Title)
}

func TestParse_Docx_TabsAndBreaks(t *testing.T) {
	path := writeDocx(t, `<w:p><w:r><w:t>name</w:t><w:tab/><w:t>value</w:t><w:br/><w:t>next</w:t></w:r></w:p>`)

	got, err := New(nil).Parse(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "name\tvalue\nnext", got.Text)
}

func TestParse_Docx_IgnoresMarkupWhitespace(t *testing.T) {
	path := writeDocx(t, "\n  <w:p>\n    <w:r>\n      <w:t>only this</w:t>\n    </w:r>\n  </w:p>\n")

	got, err := New(nil).Parse(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "only this", got.Text)
}

func TestParse_Docx_MissingDocumentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("word/other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = New(nil).Parse(context.Background(), path, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}

// --- Scanned heuristic ---

func TestLooksScanned(t *testing.T) {
	long := strings.Repeat("deposition transcript ", 4)

	assert.True(t, looksScanned(nil))
	assert.True(t, looksScanned([]string{"", "", ""}))
	assert.True(t, looksScanned([]string{"p. 3", "", "EXHIBIT"}))
	assert.False(t, looksScanned([]string{long, long, long}))

	// One readable page out of three sits just under the cutoff.
	assert.True(t, looksScanned([]string{long, "", ""}))
	assert.False(t, looksScanned([]string{long, long, ""}))
}

// --- Page markers ---

func TestSplitPages(t *testing.T) {
	got := SplitPages("\n[PAGE 1]\nalpha\nbeta\n[PAGE 2]\ngamma")

	assert.Equal(t, map[int]string{1: "alpha\nbeta", 2: "gamma"}, got)
}

func TestSplitPages_DropsPreamble(t *testing.T) {
	got := SplitPages("intro line\n[PAGE 3]\nbody")

	assert.Equal(t, map[int]string{3: "body"}, got)
}

func TestSplitPages_MalformedMarker(t *testing.T) {
	assert.Empty(t, SplitPages("[PAGE ]\norphaned"))
	assert.Empty(t, SplitPages(""))
}
