// Package export materializes the flagged-document queue for review
// outside the tool: a tab-separated index sorted by relevance and an
// XLSX review workbook. The Notion mirror lives in pkg/notion.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

// IndexFilename is the triage index written into the output directory.
const IndexFilename = "semantic_sorted.txt"

var indexHeader = strings.Join([]string{
	"relevance_score",
	"topic_similarity",
	"entity_density",
	"review_status",
	"local_path",
	"url",
	"title",
}, "\t")

// WriteSemanticIndex writes the triage rows as a tab-separated index,
// best candidates first, and returns the path of the written file.
// Unscored rows sort below every scored one. The file carries no
// trailing newline so line counts equal row counts plus the header.
func WriteSemanticIndex(outDir string, rows []model.TriageRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create %s", outDir)
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, indexHeader)
	for _, row := range sortedByRelevance(rows) {
		lines = append(lines, strings.Join([]string{
			formatMetric(row.RelevanceScore, 4),
			formatMetric(row.TopicSim, 4),
			formatMetric(row.EntityDensity, 6),
			statusLabel(row.ReviewStatus),
			row.LocalPath,
			row.URL,
			row.Title,
		}, "\t"))
	}

	path := filepath.Join(outDir, IndexFilename)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", eris.Wrapf(err, "export: write %s", path)
	}
	return path, nil
}

// sortedByRelevance orders rows by relevance score descending without
// touching the caller's slice. Ties keep their incoming order.
func sortedByRelevance(rows []model.TriageRow) []model.TriageRow {
	sorted := append([]model.TriageRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return relevanceKey(sorted[i]) > relevanceKey(sorted[j])
	})
	return sorted
}

func relevanceKey(row model.TriageRow) float64 {
	if row.RelevanceScore == nil {
		return math.Inf(-1)
	}
	return *row.RelevanceScore
}

// formatMetric renders a nullable metric with a fixed precision, or an
// empty field when the document was never scored.
func formatMetric(v *float64, precision int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.*f", precision, *v)
}

func statusLabel(status model.ReviewStatus) string {
	if status == "" {
		return string(model.ReviewNew)
	}
	return string(status)
}
