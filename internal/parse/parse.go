// Package parse converts downloaded documents into plain text for matching
// and indexing. PDF output carries [PAGE N] markers so downstream consumers
// can attribute findings to pages.
package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/ocr"
)

const (
	// A page needs this many characters (page markers aside) to count as
	// carrying real text.
	scannedMinChars = 40
	// Below this fraction of text-bearing pages a PDF is treated as scanned.
	scannedPageRatio = 0.35
)

// Parsed is the text form of a downloaded document.
type Parsed struct {
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	OCRUsed bool     `json:"ocr_used"`
	Quality *Quality `json:"quality,omitempty"`
}

// Parser dispatches files to a format-specific extractor. A nil OCR
// extractor disables the scanned-PDF fallback.
type Parser struct {
	ocr ocr.Extractor
}

func New(extractor ocr.Extractor) *Parser {
	return &Parser{ocr: extractor}
}

// Parse extracts title and text from the file at path. The content type is
// consulted first, then the file extension; unknown formats are read as
// plain text.
func (p *Parser) Parse(ctx context.Context, path, contentType, fallbackTitle string) (*Parsed, error) {
	ext := strings.ToLower(filepath.Ext(path))
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf") || ext == ".pdf":
		return p.parsePDF(ctx, path, fallbackTitle)
	case ext == ".docx":
		return parseDocx(path, fallbackTitle)
	case ext == ".txt":
		return parseTxt(path, fallbackTitle)
	case ext == ".html" || ext == ".htm" || strings.Contains(ct, "html"):
		return parseHTML(path, fallbackTitle)
	default:
		return parseTxt(path, fallbackTitle)
	}
}

func (p *Parser) parsePDF(ctx context.Context, path, fallbackTitle string) (*Parsed, error) {
	pages, quality, err := extractPDF(path)
	if err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(pages))
	for i, page := range pages {
		entries = append(entries, fmt.Sprintf("\n[PAGE %d]\n%s", i+1, page))
	}
	text := strings.Join(entries, "\n")

	if p.ocr != nil && (looksScanned(pages) || quality.NeedsOCR()) {
		ocrText, ocrErr := p.ocr.ExtractText(ctx, path)
		switch {
		case ocrErr != nil:
			zap.L().Warn("parse: ocr failed, keeping extracted text",
				zap.String("path", path),
				zap.Error(ocrErr))
		case strings.TrimSpace(ocrText) != "":
			return &Parsed{
				Title:   titleOr(fallbackTitle, path),
				Text:    ocrText,
				OCRUsed: true,
				Quality: quality,
			}, nil
		}
	}

	return &Parsed{Title: titleOr(fallbackTitle, path), Text: text, Quality: quality}, nil
}

// SplitPages inverts the [PAGE N] markers, returning each page's text keyed
// by page number. Lines before the first marker are dropped, as is any text
// under a marker whose number does not parse.
func SplitPages(text string) map[int]string {
	pages := make(map[int]string)
	if text == "" {
		return pages
	}

	current := 0
	var buf []string
	flush := func() {
		if current != 0 {
			pages[current] = strings.Join(buf, "\n")
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[PAGE ") && strings.HasSuffix(trimmed, "]") {
			flush()
			buf = nil
			current = 0
			if fields := strings.Fields(trimmed); len(fields) >= 2 {
				if n, err := strconv.Atoi(strings.TrimSuffix(fields[1], "]")); err == nil {
					current = n
				}
			}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return pages
}

func parseTxt(path, fallbackTitle string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "parse: read %s", path)
	}
	return &Parsed{
		Title: titleOr(fallbackTitle, path),
		Text:  strings.ToValidUTF8(string(data), ""),
	}, nil
}

// looksScanned reports whether too few pages carry extractable text,
// which is what image-only scans look like to a text extractor.
func looksScanned(pages []string) bool {
	if len(pages) == 0 {
		return true
	}
	meaningful := 0
	for _, t := range pages {
		if utf8.RuneCountInString(strings.TrimSpace(t)) >= scannedMinChars {
			meaningful++
		}
	}
	return float64(meaningful)/float64(len(pages)) < scannedPageRatio
}

func titleOr(fallback, path string) string {
	if fallback != "" {
		return fallback
	}
	return filepath.Base(path)
}
