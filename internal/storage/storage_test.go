package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Layout ---

func TestPrepare_CreatesTree(t *testing.T) {
	out := t.TempDir()

	p, err := Prepare(out)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "cache", "raw"), p.RawDir)
	assert.Equal(t, filepath.Join(out, "cache", "triaged"), p.TriagedDir)
	assert.Equal(t, filepath.Join(out, "flagged"), p.FlaggedDir)
	for _, dir := range []string{
		p.RawDir,
		p.TriagedDir,
		filepath.Join(p.FlaggedDir, "high_value"),
		filepath.Join(p.FlaggedDir, "irrelevant"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestPrepare_Idempotent(t *testing.T) {
	out := t.TempDir()

	_, err := Prepare(out)
	require.NoError(t, err)
	_, err = Prepare(out)
	assert.NoError(t, err)
}

// --- Flagged paths ---

func TestFlaggedPath_Flat(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", LayoutFlat, "Flight Manifest 2002")

	assert.Equal(t, "/flag/Flight Manifest 2002__abcdef1234.pdf", got)
}

func TestFlaggedPath_StripsMatchingExtension(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", LayoutFlat, "report.PDF")

	assert.Equal(t, "/flag/report__abcdef1234.pdf", got)
}

func TestFlaggedPath_Hashed(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", LayoutHashed, "report")

	assert.Equal(t, "/flag/ab/cd/report__abcdef1234.pdf", got)
}

func TestFlaggedPath_EmptyDisplayName(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", LayoutFlat, "   ")

	assert.Equal(t, "/flag/file__abcdef1234.pdf", got)
}

func TestFlaggedPath_NoSHA(t *testing.T) {
	assert.Equal(t, "/flag/report.pdf", FlaggedPath("/flag", "", ".pdf", LayoutFlat, "report"))
	// Hashed layout needs a hash to shard on.
	assert.Equal(t, "/flag/report.pdf", FlaggedPath("/flag", "", ".pdf", LayoutHashed, "report"))
}

func TestFlaggedPath_BareSuffixGetsDot(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", "pdf", LayoutFlat, "report")

	assert.Equal(t, "/flag/report__abcdef1234.pdf", got)
}

func TestFlaggedPath_LongNameCapped(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", LayoutFlat, strings.Repeat("x", 200))

	base := strings.TrimSuffix(filepath.Base(got), ".pdf")
	assert.LessOrEqual(t, len([]rune(base)), 110)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestFlaggedPath_UnknownLayoutFallsBackToFlat(t *testing.T) {
	got := FlaggedPath("/flag", "abcdef1234567890", ".pdf", "weird", "report")

	assert.Equal(t, "/flag/report__abcdef1234.pdf", got)
}

// --- Moves ---

func TestMoveTo_CreatesParentsAndMoves(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	dst := filepath.Join(dir, "nested", "deeper", "dst.pdf")

	final, err := MoveTo(dst, src)

	require.NoError(t, err)
	assert.Equal(t, dst, final)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestMoveTo_SamePathNoOp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "same.pdf")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	final, err := MoveTo(src, src)

	require.NoError(t, err)
	assert.Equal(t, src, final)
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestMoveTo_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	dst := filepath.Join(dir, "dst.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	_, err := MoveTo(dst, src)

	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMoveTo_MissingSource(t *testing.T) {
	dir := t.TempDir()

	_, err := MoveTo(filepath.Join(dir, "dst.pdf"), filepath.Join(dir, "absent.pdf"))

	assert.Error(t, err)
}
