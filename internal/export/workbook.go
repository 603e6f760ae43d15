package export

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

// WorkbookFilename is the spreadsheet written next to the triage index.
const WorkbookFilename = "review_queue.xlsx"

const workbookSheet = "Review Queue"

var workbookColumns = []string{
	"Doc ID",
	"Title",
	"Relevance",
	"Topic Similarity",
	"Entity Density",
	"Matches",
	"Review Status",
	"URL",
	"Local Path",
}

// WriteReviewWorkbook writes the triage rows as an XLSX workbook for
// reviewers who work in a spreadsheet rather than the terminal. Rows
// share the index ordering: relevance descending, unscored last.
// Returns the path of the written file.
func WriteReviewWorkbook(outDir string, rows []model.TriageRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create %s", outDir)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(workbookSheet)
	if err != nil {
		return "", eris.Wrap(err, "export: add review sheet")
	}

	header := sheet.AddRow()
	for _, col := range workbookColumns {
		header.AddCell().SetString(col)
	}

	for _, row := range sortedByRelevance(rows) {
		r := sheet.AddRow()
		r.AddCell().SetInt64(row.DocID)
		r.AddCell().SetString(row.Title)
		setMetricCell(r.AddCell(), row.RelevanceScore, "0.0000")
		setMetricCell(r.AddCell(), row.TopicSim, "0.0000")
		setMetricCell(r.AddCell(), row.EntityDensity, "0.000000")
		r.AddCell().SetInt(row.MatchCount)
		r.AddCell().SetString(statusLabel(row.ReviewStatus))
		r.AddCell().SetString(row.URL)
		r.AddCell().SetString(row.LocalPath)
	}

	path := filepath.Join(outDir, WorkbookFilename)
	if err := file.Save(path); err != nil {
		return "", eris.Wrapf(err, "export: save %s", path)
	}
	return path, nil
}

// setMetricCell fills a numeric cell, leaving it blank for documents
// that were never scored.
func setMetricCell(c *xlsx.Cell, v *float64, format string) {
	if v == nil {
		return
	}
	c.SetFloatWithFormat(*v, format)
}
