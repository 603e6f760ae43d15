// Package urlutil holds URL normalization and classification helpers shared
// by the crawler, downloader, and ranking code.
package urlutil

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DownloadExts is the file-extension allow-list for document URLs.
var DownloadExts = []string{".pdf", ".doc", ".docx", ".txt", ".html", ".htm"}

var (
	multiSlashRe   = regexp.MustCompile(`/{2,}`)
	unsafeCharsRe  = regexp.MustCompile(`[\\/:*?"<>|]+`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	pageParamRe    = regexp.MustCompile(`(^|&)page=\d+`)
	datasetPathTag = "/epstein/doj-disclosures/data-set-"
)

// LooksDownloadable reports whether the URL path ends in a known document
// extension.
func LooksDownloadable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range DownloadExts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Normalize canonicalizes a URL: lowercases scheme and host, strips the
// fragment, and collapses duplicate slashes in the path. Idempotent.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return normalizeURL(u)
}

// ResolveNormalize resolves href against base (as a browser would for an
// anchor) and normalizes the result.
func ResolveNormalize(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return Normalize(href)
	}
	r, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return normalizeURL(b.ResolveReference(r))
}

func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Host)
	path := multiSlashRe.ReplaceAllString(u.EscapedPath(), "/")

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteString(path)
	if u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(u.RawQuery)
	}
	return sb.String()
}

// IsSameSite reports whether two URLs share a host, ignoring a leading
// "www." on either side.
func IsSameSite(rawURL, startURL string) bool {
	return canonHost(rawURL) == canonHost(startURL)
}

func canonHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	h := strings.ToLower(strings.TrimSpace(u.Host))
	return strings.TrimPrefix(h, "www.")
}

// NormalizeDatasetSeed rewrites dataset listing seeds from page>=1 to
// page=0. Deep pager URLs are frequently blocked for non-browser clients
// while page=0 is reliably cached, so pasted ?page=N seeds would otherwise
// 403 immediately.
func NormalizeDatasetSeed(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.Contains(u.Path, datasetPathTag) || !strings.Contains(u.Path, "-files") {
		return raw
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return raw
	}
	vals, ok := q["page"]
	if !ok || len(vals) == 0 {
		return raw
	}
	page, err := strconv.Atoi(vals[0])
	if err != nil || page <= 0 {
		return raw
	}
	u.RawQuery = pageParamRe.ReplaceAllString(u.RawQuery, "${1}page=0")
	return u.String()
}

// IsPaginationLink matches Drupal-style pager links (common on justice.gov).
func IsPaginationLink(raw string) bool {
	u := strings.ToLower(raw)
	if strings.Contains(u, "?page=") || strings.Contains(u, "&page=") {
		return true
	}
	if strings.Contains(u, "?p=") || strings.Contains(u, "&p=") {
		return true
	}
	return strings.Contains(u, "pager")
}

// SafeFilename sanitizes a string for use as a filename: path separators and
// reserved characters become underscores, runs of whitespace collapse to a
// single space, and the result is truncated to maxLen runes.
func SafeFilename(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 160
	}
	name = strings.TrimSpace(name)
	name = unsafeCharsRe.ReplaceAllString(name, "_")
	name = whitespaceRe.ReplaceAllString(name, " ")
	if name == "" {
		name = "file"
	}
	runes := []rune(name)
	if len(runes) > maxLen {
		name = strings.TrimRight(string(runes[:maxLen]), " ")
	}
	return name
}
