package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIsIdempotent(t *testing.T) {
	urls := []string{
		"HTTPS://WWW.Justice.GOV/epstein//doj-disclosures/#section",
		"https://example.com/a//b///c?x=1&y=2",
		"http://Example.COM/Path%20With%20Spaces?q=1",
	}
	for _, u := range urls {
		once := Normalize(u)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %s", u)
	}
}

func TestNormalizeStripsFragmentAndLowercasesHost(t *testing.T) {
	got := Normalize("HTTPS://WWW.Example.COM/Data/Set#frag")
	assert.Equal(t, "https://www.example.com/Data/Set", got)
}

func TestNormalizeCollapsesSlashes(t *testing.T) {
	got := Normalize("https://example.com//a///b.pdf")
	assert.Equal(t, "https://example.com/a/b.pdf", got)
}

func TestResolveNormalize(t *testing.T) {
	got := ResolveNormalize("https://example.com/dir/page", "../other/doc.pdf")
	assert.Equal(t, "https://example.com/other/doc.pdf", got)

	got = ResolveNormalize("https://example.com/dir/", "?page=1")
	assert.Equal(t, "https://example.com/dir/?page=1", got)
}

func TestIsSameSiteTreatsWWWAsSame(t *testing.T) {
	assert.True(t, IsSameSite("https://www.justice.gov/epstein", "https://justice.gov/epstein"))
	assert.True(t, IsSameSite("https://justice.gov/epstein", "https://www.justice.gov/epstein"))
	assert.False(t, IsSameSite("https://example.org/x", "https://example.com/x"))
}

func TestLooksDownloadable(t *testing.T) {
	assert.True(t, LooksDownloadable("https://example.com/files/report.PDF"))
	assert.True(t, LooksDownloadable("https://example.com/files/doc.docx?dl=1"))
	assert.False(t, LooksDownloadable("https://example.com/files/"))
	assert.False(t, LooksDownloadable("https://example.com/page?name=x.pdf"))
}

func TestNormalizeDatasetSeed(t *testing.T) {
	in := "https://www.justice.gov/epstein/doj-disclosures/data-set-1-files?page=3"
	assert.Equal(t,
		"https://www.justice.gov/epstein/doj-disclosures/data-set-1-files?page=0",
		NormalizeDatasetSeed(in))

	// page=0 and missing page are unchanged.
	zero := "https://www.justice.gov/epstein/doj-disclosures/data-set-1-files?page=0"
	assert.Equal(t, zero, NormalizeDatasetSeed(zero))
	plain := "https://www.justice.gov/epstein/doj-disclosures/data-set-1-files"
	assert.Equal(t, plain, NormalizeDatasetSeed(plain))

	// Non-dataset URLs are never rewritten.
	other := "https://www.justice.gov/news?page=4"
	assert.Equal(t, other, NormalizeDatasetSeed(other))
}

func TestIsPaginationLink(t *testing.T) {
	assert.True(t, IsPaginationLink("https://example.com/list?page=2"))
	assert.True(t, IsPaginationLink("https://example.com/list?sort=asc&p=3"))
	assert.True(t, IsPaginationLink("https://example.com/list/pager/eyebrow"))
	assert.False(t, IsPaginationLink("https://example.com/list/item"))
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SafeFilename(`a\b/c`, 160))
	assert.Equal(t, "one two", SafeFilename("one \t\n two", 160))
	assert.Equal(t, "file", SafeFilename("   ", 160))

	long := SafeFilename(string(make([]byte, 0, 0))+"x", 160)
	assert.Equal(t, "x", long)
	truncated := SafeFilename("abcdefghij", 5)
	assert.Equal(t, "abcde", truncated)
}
