// Package entity extracts named entities from document text. Regex rules
// cover EMAIL, URL, PHONE and SSN; an optional Provider can contribute
// further labels (PERSON, ORG, ...). Hits are merged by (label, canonical)
// with variant spellings, mention counts and page numbers taken from the
// [PAGE N] markers the parser emits.
package entity

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

var pageMarkerRe = regexp.MustCompile(`(?i)\[PAGE\s+(\d+)\]`)

var entityPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"EMAIL", regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
	{"URL", regexp.MustCompile(`(?i)\bhttps?://[^\s)\]}>'"]+`)},
	{"PHONE", regexp.MustCompile(`(?:\+?1[\s.-]?)?(?:\(\d{3}\)|\d{3})[\s.-]?\d{3}[\s.-]?\d{4}`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// Hit is one raw entity mention located in the text.
type Hit struct {
	Label string
	Text  string
	Start int
	End   int
}

// Provider supplies entity hits beyond the built-in regex rules. Failures
// are logged and the regex hits are kept.
type Provider interface {
	Entities(ctx context.Context, text string) ([]Hit, error)
}

// Extractor merges regex and provider hits into aggregated entities.
type Extractor struct {
	provider Provider
}

// New returns an Extractor. provider may be nil for regex rules only.
func New(provider Provider) *Extractor {
	return &Extractor{provider: provider}
}

// NewFromConfig selects the engine from configuration. Unknown engines warn
// and fall back to the regex rules.
func NewFromConfig(cfg config.EntityConfig) *Extractor {
	engine := strings.ToLower(strings.TrimSpace(cfg.Engine))
	if engine != "" && engine != "regex" {
		zap.L().Warn("unknown entity engine, using regex rules only", zap.String("engine", cfg.Engine))
	}
	return New(nil)
}

// Extract returns the aggregated entities of text, sorted by label, then
// descending count, then display form. DocID is left zero for the caller.
func (e *Extractor) Extract(ctx context.Context, text string) []model.Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	hits := regexEntities(text)
	if e.provider != nil {
		extra, err := e.provider.Entities(ctx, text)
		if err != nil {
			zap.L().Warn("entity provider failed, keeping regex hits", zap.Error(err))
		} else {
			for _, h := range extra {
				if strings.TrimSpace(h.Text) == "" {
					continue
				}
				hits = append(hits, h)
			}
		}
	}

	return merge(hits, buildPageIndex(text))
}

// regexEntities runs the built-in patterns. Phone candidates touching an
// adjacent digit are dropped so that longer digit runs do not produce
// spurious numbers.
func regexEntities(text string) []Hit {
	var hits []Hit
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.label == "PHONE" && digitAdjacent(text, loc[0], loc[1]) {
				continue
			}
			hits = append(hits, Hit{Label: p.label, Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	return hits
}

func digitAdjacent(text string, start, end int) bool {
	if start > 0 && text[start-1] >= '0' && text[start-1] <= '9' {
		return true
	}
	if end < len(text) && text[end] >= '0' && text[end] <= '9' {
		return true
	}
	return false
}

// pageIndex maps byte offsets to the page number of the nearest preceding
// [PAGE N] marker.
type pageIndex struct {
	starts []int
	pages  []int
}

func buildPageIndex(text string) pageIndex {
	var idx pageIndex
	for _, m := range pageMarkerRe.FindAllStringSubmatchIndex(text, -1) {
		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			page = 0
		}
		idx.starts = append(idx.starts, m[0])
		idx.pages = append(idx.pages, page)
	}
	return idx
}

// pageFor returns the page covering offset, or 0 before the first marker.
func (p pageIndex) pageFor(offset int) int {
	i := sort.Search(len(p.starts), func(i int) bool { return p.starts[i] > offset })
	if i == 0 {
		return 0
	}
	return p.pages[i-1]
}

type mergedEntity struct {
	label     string
	canonical string
	display   string
	count     int
	variants  map[string]struct{}
	pageNos   map[int]struct{}
}

func merge(hits []Hit, pages pageIndex) []model.Entity {
	type key struct{ label, canonical string }
	merged := make(map[key]*mergedEntity)

	for _, h := range hits {
		label := strings.ToUpper(strings.TrimSpace(h.Label))
		if label == "" {
			continue
		}
		canon := Canonicalize(h.Text, label)
		if canon == "" {
			continue
		}
		display := strings.TrimSpace(h.Text)

		k := key{label, canon}
		entry := merged[k]
		if entry == nil {
			entry = &mergedEntity{
				label:     label,
				canonical: canon,
				display:   display,
				variants:  make(map[string]struct{}),
				pageNos:   make(map[int]struct{}),
			}
			merged[k] = entry
		}
		entry.count++
		entry.variants[display] = struct{}{}
		if page := pages.pageFor(h.Start); page > 0 {
			entry.pageNos[page] = struct{}{}
		}
		// The longest variant is usually the most informative display form.
		if utf8.RuneCountInString(display) > utf8.RuneCountInString(entry.display) {
			entry.display = display
		}
	}

	out := make([]model.Entity, 0, len(merged))
	for _, e := range merged {
		out = append(out, model.Entity{
			Label:     e.label,
			Canonical: e.canonical,
			Display:   e.display,
			Count:     e.count,
			Variants:  sortedKeys(e.variants),
			PageNos:   sortedInts(e.pageNos),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Display < out[j].Display
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]struct{}) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
