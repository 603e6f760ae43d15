package semantic

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

const (
	defaultThreshold     = 0.62
	semanticMaxHits      = 30
	semanticSnippetRunes = 350
)

// Matcher scores text chunks against keywords by embedding similarity. It
// plugs into the keyword matcher as its semantic scorer.
type Matcher struct {
	provider  Provider
	threshold float64
}

func NewMatcher(provider Provider, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Matcher{provider: provider, threshold: threshold}
}

// Match embeds the chunk and every keyword, returning a semantic hit for
// each keyword whose cosine similarity clears the threshold, best first,
// capped at 30.
func (m *Matcher) Match(ctx context.Context, chunk string, keywords []string) ([]model.MatchHit, error) {
	if m.provider == nil || strings.TrimSpace(chunk) == "" || len(keywords) == 0 {
		return nil, nil
	}

	tvecs, err := m.provider.Embed(ctx, []string{chunk})
	if err != nil {
		return nil, err
	}
	if len(tvecs) != 1 {
		return nil, eris.Errorf("semantic: got %d chunk vectors, want 1", len(tvecs))
	}
	kvecs, err := m.provider.Embed(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if len(kvecs) != len(keywords) {
		return nil, eris.Errorf("semantic: got %d vectors for %d keywords", len(kvecs), len(keywords))
	}

	tvec := tvecs[0]
	tnorm := Norm(tvec)
	var hits []model.MatchHit
	for i, kw := range keywords {
		score := Cosine(kvecs[i], Norm(kvecs[i]), tvec, tnorm)
		if score >= m.threshold {
			hits = append(hits, model.MatchHit{
				Method:  model.MatchSemantic,
				Pattern: kw,
				Score:   score,
				Snippet: clipRunes(chunk, semanticSnippetRunes),
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > semanticMaxHits {
		hits = hits[:semanticMaxHits]
	}
	return hits, nil
}

// SuggestRelated returns up to k keywords that sit closest to the other
// keywords in embedding space. Each keyword contributes its neighbors in
// similarity order until the quota fills.
func (m *Matcher) SuggestRelated(ctx context.Context, keywords []string, k int) ([]string, error) {
	if m.provider == nil || len(keywords) < 2 {
		return nil, nil
	}
	if k <= 0 {
		k = 12
	}

	vecs, err := m.provider.Embed(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(keywords) {
		return nil, eris.Errorf("semantic: got %d vectors for %d keywords", len(vecs), len(keywords))
	}

	norms := make([]float64, len(vecs))
	for i, v := range vecs {
		norms[i] = Norm(v)
	}

	seen := make(map[int]struct{})
	var out []string
	for i := range keywords {
		order := make([]int, 0, len(keywords)-1)
		for j := range keywords {
			if j != i {
				order = append(order, j)
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			return Cosine(vecs[i], norms[i], vecs[order[a]], norms[order[a]]) >
				Cosine(vecs[i], norms[i], vecs[order[b]], norms[order[b]])
		})
		for _, j := range order {
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			out = append(out, keywords[j])
			if len(out) >= k {
				return out, nil
			}
		}
	}
	return out, nil
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
