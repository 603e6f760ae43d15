// Package tables detects column-aligned tables in extracted document text.
// A table is a run of consecutive lines that split into the same number of
// cells on tab or multi-space boundaries, at least 2x2. Geometry-based
// detection would need a layout engine; aligned text columns are what table
// regions look like after text extraction, and rows are what the triage
// surfaces need.
package tables

import (
	"regexp"
	"sort"
	"strings"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/parse"
)

// FormatRows is the storage format tag for row-major table data.
const FormatRows = "rows"

const (
	minColumns = 2
	minRows    = 2
)

// Cells are separated by a tab or a run of two or more spaces. Single
// spaces stay inside a cell so names and dates survive intact.
var cellSeparatorRe = regexp.MustCompile(`\t| {2,}`)

// Extractor detects tables in extracted text.
type Extractor struct{}

// Extract scans marker-delimited text page by page and returns detected
// tables in (page, index) order. Text without [PAGE N] markers is scanned
// as a single page. DocID is left zero for the caller to fill in.
func (Extractor) Extract(text string) []model.DocTable {
	pageTexts := parse.SplitPages(text)
	if len(pageTexts) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		pageTexts = map[int]string{1: text}
	}

	pageNos := make([]int, 0, len(pageTexts))
	for pageNo := range pageTexts {
		pageNos = append(pageNos, pageNo)
	}
	sort.Ints(pageNos)

	var out []model.DocTable
	for _, pageNo := range pageNos {
		out = append(out, extractPage(pageNo, pageTexts[pageNo])...)
	}
	return out
}

// extractPage accumulates consecutive rows of equal width into blocks and
// keeps blocks with at least minRows rows. A line whose width differs from
// the open block closes it and starts the next one.
func extractPage(pageNo int, pageText string) []model.DocTable {
	var tables []model.DocTable
	var block [][]string

	flush := func() {
		if len(block) >= minRows {
			tables = append(tables, model.DocTable{
				PageNo:     pageNo,
				TableIndex: len(tables),
				Format:     FormatRows,
				Data:       block,
			})
		}
		block = nil
	}

	for _, line := range strings.Split(pageText, "\n") {
		cells := splitCells(line)
		if len(cells) >= minColumns && (len(block) == 0 || len(cells) == len(block[0])) {
			block = append(block, cells)
			continue
		}
		flush()
		if len(cells) >= minColumns {
			block = append(block, cells)
		}
	}
	flush()
	return tables
}

// splitCells returns the trimmed non-empty cells of one line, or nil when
// the line is blank.
func splitCells(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	parts := cellSeparatorRe.Split(trimmed, -1)
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}
