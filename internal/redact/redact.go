// Package redact scores PDF pages for redaction likelihood. Two heuristic
// signals feed a per-page score: redaction markers in the extracted text
// (the word itself, [REDACTED] placeholders, runs of block glyphs) and, for
// pages with almost no text, the presence of page image objects, since
// black-box redactions frequently arrive as flattened images. Scores are
// triage hints, not certainty.
package redact

import (
	"math"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/parse"
)

// FlagRedaction is the PageFlag kind this package emits.
const FlagRedaction = "redaction"

// Pages whose extracted text is shorter than this are sparse enough to
// consult the image signal.
const sparseTextChars = 60

// imageSignalScore is the flat score for a sparse page that draws images.
const imageSignalScore = 0.4

// Analyzer inspects a PDF for likely-redacted pages.
type Analyzer struct{}

// Analyze returns one PageFlag per page whose score is above zero. The
// extracted text, when provided with [PAGE N] markers, is sliced per page
// for the text heuristics. DocID is left zero for the caller to fill in.
func (Analyzer) Analyze(path, extractedText string) ([]model.PageFlag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "redact: open %s", path)
	}
	defer f.Close()

	pdfCtx, err := api.ReadValidateAndOptimize(f, pdfmodel.NewDefaultConfiguration())
	if err != nil {
		return nil, eris.Wrapf(err, "redact: pdf read %s", path)
	}

	pageTexts := parse.SplitPages(extractedText)

	var flags []model.PageFlag
	for pageNo := 1; pageNo <= pdfCtx.PageCount; pageNo++ {
		pageText := pageTexts[pageNo]
		txtScore := textRedactionScore(pageText)

		// The image signal only applies to sparse pages so ordinary scans
		// with full text are not flagged.
		sparse := len(strings.TrimSpace(pageText)) < sparseTextChars
		imageCount := 0
		imgScore := 0.0
		if sparse {
			imageCount = pageImageCount(pdfCtx, pageNo)
			if imageCount > 0 {
				imgScore = imageSignalScore
			}
		}

		score := math.Min(1.0, math.Max(txtScore, imgScore))
		if score <= 0 {
			continue
		}
		flags = append(flags, model.PageFlag{
			PageNo: pageNo,
			Flag:   FlagRedaction,
			Score:  score,
			Details: map[string]any{
				"text_score":       txtScore,
				"image_count":      imageCount,
				"image_score":      imgScore,
				"image_check_used": sparse,
			},
		})
	}
	return flags, nil
}

func pageImageCount(pdfCtx *pdfmodel.Context, pageNo int) int {
	if pdfCtx.Optimize == nil {
		return 0
	}
	return len(pdfcpu.ImageObjNrs(pdfCtx, pageNo))
}

// textRedactionScore scores one page's extracted text. Signals: the words
// redacted/redaction, runs of block glyphs, and [redacted] placeholders.
func textRedactionScore(pageText string) float64 {
	t := strings.ToLower(pageText)
	if strings.TrimSpace(t) == "" {
		return 0
	}

	score := 0.0
	if strings.Contains(t, "redacted") || strings.Contains(t, "redaction") {
		score += 0.25
	}

	blocks := strings.Count(t, "█") + strings.Count(t, "■") + strings.Count(t, "▮")
	if blocks >= 20 {
		score += math.Min(0.5, float64(blocks)/400.0)
	}

	if strings.Contains(t, "[redacted]") {
		score += 0.3
	}

	return math.Min(1.0, score)
}
