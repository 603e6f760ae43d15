// Package storage lays out the output tree and relocates files as review
// labels move documents between buckets.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

// Storage layouts. Flat keeps every file in one directory; hashed shards
// by the leading SHA-256 hex pairs so huge corpora stay listable.
const (
	LayoutFlat   = "flat"
	LayoutHashed = "hashed"
)

const flaggedNameMax = 110

// Plan holds the resolved output subdirectories.
type Plan struct {
	RawDir     string
	TriagedDir string
	FlaggedDir string
}

// Prepare resolves the output tree under outputDir and creates every
// directory, including the flagged review buckets.
func Prepare(outputDir string) (Plan, error) {
	cache := filepath.Join(outputDir, "cache")
	p := Plan{
		RawDir:     filepath.Join(cache, "raw"),
		TriagedDir: filepath.Join(cache, "triaged"),
		FlaggedDir: filepath.Join(outputDir, "flagged"),
	}
	dirs := []string{
		p.RawDir,
		p.TriagedDir,
		p.FlaggedDir,
		filepath.Join(p.FlaggedDir, "high_value"),
		filepath.Join(p.FlaggedDir, "irrelevant"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Plan{}, eris.Wrapf(err, "storage: create %s", dir)
		}
	}
	return p, nil
}

// FlaggedPath computes where a flagged file lands: a readable basename
// from the display name plus a ten-hex-digit hash suffix for uniqueness.
// An extension on the display name is stripped when it matches suffix.
func FlaggedPath(flaggedDir, sha256, suffix, layout, displayName string) string {
	suf := strings.TrimSpace(suffix)
	if suf != "" && !strings.HasPrefix(suf, ".") {
		suf = "." + suf
	}
	lay := strings.ToLower(strings.TrimSpace(layout))
	if lay == "" {
		lay = LayoutFlat
	}

	raw := strings.TrimSpace(displayName)
	if raw == "" {
		raw = "file"
	} else if suf != "" && strings.HasSuffix(strings.ToLower(raw), strings.ToLower(suf)) {
		raw = raw[:len(raw)-len(suf)]
	}

	sha := strings.TrimSpace(sha256)
	short := sha
	if len(short) > 10 {
		short = short[:10]
	}
	var base string
	if short != "" {
		base = urlutil.SafeFilename(raw+"__"+short, flaggedNameMax)
	} else {
		base = urlutil.SafeFilename(raw, flaggedNameMax)
	}
	filename := base + suf

	if lay == LayoutHashed && len(sha) >= 4 {
		return filepath.Join(flaggedDir, sha[:2], sha[2:4], filename)
	}
	return filepath.Join(flaggedDir, filename)
}

// MoveTo relocates src to dst, creating parent directories and replacing
// any existing file. Moving a file onto itself is a no-op. Returns the
// absolute destination.
func MoveTo(dst, src string) (string, error) {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return "", eris.Wrapf(err, "storage: resolve %s", src)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return "", eris.Wrapf(err, "storage: resolve %s", dst)
	}
	if srcAbs == dstAbs {
		return dstAbs, nil
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return "", eris.Wrapf(err, "storage: create %s", filepath.Dir(dstAbs))
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return "", eris.Wrap(err, "storage: move")
	}
	return dstAbs, nil
}
