// Package match evaluates keyword rules and a boolean/proximity query
// against extracted document text. Keywords classify into literal phrases,
// wildcards (* or ?) and re:-prefixed regular expressions; literals also
// feed a conservative fuzzy pass over sentences. Hits are deduplicated by
// (method, pattern, snippet) and returned in descending score order.
package match

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

const (
	fuzzyMaxKeywords     = 200
	fuzzySnippetChars    = 350
	semanticChunkChars   = 3000
	semanticChunkOverlap = 200
)

var (
	wordTokenRe    = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	wildcardWordRe = regexp.MustCompile(`\b[\w'-]+\b`)
	sentenceRe     = regexp.MustCompile(`[\n.?!]+`)
)

// SemanticScorer flags text chunks whose embedding is close to any keyword.
// Implementations are expected to return hits with Method set to
// model.MatchSemantic.
type SemanticScorer interface {
	Match(ctx context.Context, chunk string, keywords []string) ([]model.MatchHit, error)
}

// Options configures a Matcher. Zero values for the numeric fields select
// the standard thresholds.
type Options struct {
	Keywords          []string
	Query             string
	Stopwords         []string
	FuzzyEnabled      bool
	FuzzyThreshold    float64
	FuzzyMinLength    int
	FuzzyMaxSentences int
	MaxHits           int
	SnippetRadius     int
	Semantic          SemanticScorer
}

type literalRule struct {
	keyword string
	lowered string
	re      *regexp.Regexp
}

type wildcardRule struct {
	keyword string
	g       glob.Glob
}

type regexRule struct {
	keyword string
	re      *regexp.Regexp
}

// Matcher holds the compiled rule set for one processing run. It is safe for
// concurrent use once constructed.
type Matcher struct {
	keywords  []string
	query     string
	stopwords map[string]struct{}

	fuzzy          bool
	fuzzyThreshold float64
	fuzzyMinLen    int
	fuzzyMaxSents  int
	maxHits        int
	radius         int
	semantic       SemanticScorer

	literals      []string
	literalRules  []literalRule
	wildcardRules []wildcardRule
	regexRules    []regexRule
}

// New compiles the keyword set into matching rules. Invalid regex and glob
// patterns are skipped; literal phrases compile to case-insensitive
// word-boundary patterns so that "art" cannot match inside "partial".
func New(opts Options) *Matcher {
	m := &Matcher{
		query:          strings.TrimSpace(opts.Query),
		stopwords:      make(map[string]struct{}, len(opts.Stopwords)),
		fuzzy:          opts.FuzzyEnabled,
		fuzzyThreshold: opts.FuzzyThreshold,
		fuzzyMinLen:    opts.FuzzyMinLength,
		fuzzyMaxSents:  opts.FuzzyMaxSentences,
		maxHits:        opts.MaxHits,
		radius:         opts.SnippetRadius,
		semantic:       opts.Semantic,
	}
	if m.fuzzyThreshold <= 0 {
		m.fuzzyThreshold = 0.92
	}
	if m.fuzzyMinLen <= 0 {
		m.fuzzyMinLen = 8
	}
	if m.fuzzyMaxSents <= 0 {
		m.fuzzyMaxSents = 1500
	}
	if m.maxHits <= 0 {
		m.maxHits = 200
	}
	if m.radius <= 0 {
		m.radius = 90
	}
	for _, w := range opts.Stopwords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m.stopwords[w] = struct{}{}
		}
	}

	for _, raw := range opts.Keywords {
		kw := strings.TrimSpace(raw)
		if kw == "" {
			continue
		}
		m.keywords = append(m.keywords, kw)
		switch {
		case strings.HasPrefix(kw, "re:"):
			re, err := regexp.Compile("(?i)" + strings.TrimSpace(kw[3:]))
			if err != nil {
				continue
			}
			m.regexRules = append(m.regexRules, regexRule{keyword: kw, re: re})
		case strings.ContainsAny(kw, "*?"):
			g, err := glob.Compile(strings.ToLower(kw))
			if err != nil {
				continue
			}
			m.wildcardRules = append(m.wildcardRules, wildcardRule{keyword: kw, g: g})
		default:
			m.literals = append(m.literals, kw)
			tokens := wordTokenRe.FindAllString(kw, -1)
			if len(tokens) == 0 {
				continue
			}
			re, err := regexp.Compile(phrasePattern(tokens))
			if err != nil {
				continue
			}
			m.literalRules = append(m.literalRules, literalRule{
				keyword: kw,
				lowered: strings.ToLower(kw),
				re:      re,
			})
		}
	}

	zap.L().Debug("matcher ready",
		zap.Int("literal_rules", len(m.literalRules)),
		zap.Int("wildcard_rules", len(m.wildcardRules)),
		zap.Int("regex_rules", len(m.regexRules)),
		zap.Bool("query", m.query != ""),
		zap.Bool("fuzzy", m.fuzzy),
		zap.Bool("semantic", m.semantic != nil))
	return m
}

// Match runs every enabled strategy over text and returns the deduplicated
// hits, highest score first. DocID is left zero for the caller to fill in.
func (m *Matcher) Match(ctx context.Context, text string) []model.MatchHit {
	var hits []model.MatchHit
	if strings.TrimSpace(text) == "" {
		return hits
	}

	for _, rule := range m.literalRules {
		if _, skip := m.stopwords[rule.lowered]; skip {
			continue
		}
		for _, loc := range rule.re.FindAllStringIndex(text, m.maxHits+1) {
			hits = append(hits, model.MatchHit{
				Method:  model.MatchKeyword,
				Pattern: rule.keyword,
				Score:   1.0,
				Snippet: snippetAround(text, loc[0], loc[1], m.radius),
			})
			if len(hits) > m.maxHits {
				break
			}
		}
	}

	if len(m.wildcardRules) > 0 {
		words := wildcardWordRe.FindAllStringIndex(text, -1)
		for _, rule := range m.wildcardRules {
			for _, loc := range words {
				if !rule.g.Match(strings.ToLower(text[loc[0]:loc[1]])) {
					continue
				}
				hits = append(hits, model.MatchHit{
					Method:  model.MatchWildcard,
					Pattern: rule.keyword,
					Score:   1.0,
					Snippet: snippetAround(text, loc[0], loc[1], m.radius),
				})
				if len(hits) > m.maxHits {
					break
				}
			}
		}
	}

	for _, rule := range m.regexRules {
		for _, loc := range rule.re.FindAllStringIndex(text, m.maxHits+1) {
			hits = append(hits, model.MatchHit{
				Method:  model.MatchRegex,
				Pattern: rule.keyword,
				Score:   1.0,
				Snippet: snippetAround(text, loc[0], loc[1], m.radius),
			})
			if len(hits) > m.maxHits {
				break
			}
		}
	}

	if m.query != "" {
		ok, trace, err := QueryEngine{}.Evaluate(m.query, text)
		switch {
		case err != nil:
			zap.L().Debug("query evaluation failed", zap.String("query", m.query), zap.Error(err))
		case ok:
			hits = append(hits, model.MatchHit{
				Method:  model.MatchQuery,
				Pattern: m.query,
				Score:   1.0,
				Snippet: trace,
			})
		}
	}

	if m.fuzzy && len(m.literals) > 0 {
		hits = append(hits, m.fuzzyHits(text)...)
	}

	if m.semantic != nil {
		for _, chunk := range chunkText(text, semanticChunkChars, semanticChunkOverlap) {
			chunkHits, err := m.semantic.Match(ctx, chunk, m.keywords)
			if err != nil {
				zap.L().Warn("semantic matching unavailable", zap.Error(err))
				break
			}
			hits = append(hits, chunkHits...)
		}
	}

	return dedupe(hits)
}

// fuzzyHits compares multi-word literal keywords against each sentence and
// records the best-matching sentence when similarity clears the threshold.
// Single-word and very short keywords are skipped to limit false positives.
func (m *Matcher) fuzzyHits(text string) []model.MatchHit {
	var sentences []string
	for _, s := range sentenceRe.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) > m.fuzzyMaxSents {
		sentences = sentences[:m.fuzzyMaxSents]
	}
	if len(sentences) == 0 {
		return nil
	}

	literals := m.literals
	if len(literals) > fuzzyMaxKeywords {
		literals = literals[:fuzzyMaxKeywords]
	}

	var hits []model.MatchHit
	for _, kw := range literals {
		if len(wordTokenRe.FindAllString(kw, -1)) <= 1 {
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(kw)) < m.fuzzyMinLen {
			continue
		}
		lowered := strings.ToLower(kw)
		best := 0.0
		bestSent := ""
		for _, sent := range sentences {
			if score := tokenSetRatio(lowered, strings.ToLower(sent)); score > best {
				best = score
				bestSent = sent
			}
		}
		if best >= m.fuzzyThreshold {
			hits = append(hits, model.MatchHit{
				Method:  model.MatchFuzzy,
				Pattern: kw,
				Score:   best,
				Snippet: truncateRunes(bestSent, fuzzySnippetChars),
			})
		}
	}
	return hits
}

// phrasePattern builds a case-insensitive word-boundary pattern from word
// tokens, joined by flexible whitespace for multi-word phrases.
func phrasePattern(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return `(?i)\b` + strings.Join(quoted, `\s+`) + `\b`
}

// snippetAround returns the text surrounding [start,end) with radius bytes of
// context on each side, nudged to rune boundaries.
func snippetAround(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}

// chunkText splits text into overlapping rune windows for semantic scoring.
func chunkText(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlap >= maxChars {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// dedupe sorts hits by descending score (stable, so insertion order breaks
// ties) and keeps the first hit per (method, pattern, snippet).
func dedupe(hits []model.MatchHit) []model.MatchHit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	type key struct {
		method  model.MatchMethod
		pattern string
		snippet string
	}
	seen := make(map[key]struct{}, len(hits))
	unique := make([]model.MatchHit, 0, len(hits))
	for _, h := range hits {
		k := key{h.Method, h.Pattern, h.Snippet}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, h)
	}
	return unique
}
