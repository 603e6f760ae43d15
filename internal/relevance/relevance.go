// Package relevance scores documents against the investigation topic.
// A document's ingest-time score fuses its cosine similarity to the topic
// centroid with the learned feedback centroids, minus any host penalty,
// dampened when the document carries no named entities at all. Topic
// similarity dominates so scoring stays conservative.
package relevance

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
)

const defaultEmbedTextChars = 12000

// URLPenaltiesKey is the KV slot holding the JSON host-penalty map.
const URLPenaltiesKey = "url_penalties"

// TopicVector is a reference embedding with its precomputed norm.
type TopicVector struct {
	Vec  []float32
	Norm float64
}

// Result carries the score and the signals that produced it, persisted
// next to the document for later inspection.
type Result struct {
	TopicSimilarity float64
	FeedbackBoost   float64
	URLPenalty      float64
	EntityDensity   float64
	Score           float64
}

// Scorer combines the relevance signals under configured weights.
type Scorer struct {
	topicWeight  float64
	feedbackTerm float64
	noEntityDamp float64
}

func NewScorer(cfg config.TriageConfig) *Scorer {
	s := &Scorer{
		topicWeight:  cfg.TopicWeight,
		feedbackTerm: cfg.FeedbackTerm,
		noEntityDamp: cfg.NoEntityDamp,
	}
	if s.topicWeight <= 0 {
		s.topicWeight = 0.75
	}
	if s.feedbackTerm <= 0 {
		s.feedbackTerm = 0.25
	}
	if s.noEntityDamp <= 0 || s.noEntityDamp > 1 {
		s.noEntityDamp = 0.75
	}
	return s
}

// Compute scores one document vector. Nil centroids contribute zero and a
// zero-norm topic vector disables topic similarity, so partial setups
// still produce a usable (if weaker) score.
func (s *Scorer) Compute(docVec []float32, docNorm float64, topic TopicVector, hv, ir *TopicVector, urlPenalty, entityDensity float64) Result {
	topicSim := 0.0
	if topic.Norm > 0 {
		topicSim = semantic.Cosine(docVec, docNorm, topic.Vec, topic.Norm)
	}

	hvSim := 0.0
	if hv != nil {
		hvSim = semantic.Cosine(docVec, docNorm, hv.Vec, hv.Norm)
	}
	irSim := 0.0
	if ir != nil {
		irSim = semantic.Cosine(docVec, docNorm, ir.Vec, ir.Norm)
	}
	boost := hvSim - irSim

	score := s.topicWeight*topicSim + s.feedbackTerm*boost
	score -= urlPenalty

	// Documents with no entity mentions are usually procedural boilerplate.
	if entityDensity <= 0 {
		score *= s.noEntityDamp
	}

	return Result{
		TopicSimilarity: topicSim,
		FeedbackBoost:   boost,
		URLPenalty:      urlPenalty,
		EntityDensity:   entityDensity,
		Score:           score,
	}
}

// EmbedText embeds one document's text, truncated to maxChars runes, and
// returns the vector with its norm. A nil provider or blank text yields a
// zero vector.
func EmbedText(ctx context.Context, provider semantic.Provider, text string, maxChars int) ([]float32, float64, error) {
	t := strings.TrimSpace(text)
	if provider == nil || t == "" {
		return nil, 0, nil
	}
	if maxChars <= 0 {
		maxChars = defaultEmbedTextChars
	}
	if runes := []rune(t); len(runes) > maxChars {
		t = string(runes[:maxChars])
	}

	vecs, err := provider.Embed(ctx, []string{t})
	if err != nil {
		return nil, 0, err
	}
	if len(vecs) != 1 {
		return nil, 0, eris.Errorf("relevance: got %d vectors for one text", len(vecs))
	}
	return vecs[0], semantic.Norm(vecs[0]), nil
}

// BuildTopicVector embeds the topic phrases and averages them into one
// centroid.
func BuildTopicVector(ctx context.Context, provider semantic.Provider, phrases []string) (TopicVector, error) {
	if provider == nil {
		return TopicVector{}, nil
	}
	clean := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if t := strings.TrimSpace(p); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return TopicVector{}, nil
	}

	vecs, err := provider.Embed(ctx, clean)
	if err != nil {
		return TopicVector{}, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return TopicVector{}, nil
	}

	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i, x := range v {
			if i < dim {
				sum[i] += float64(x)
			}
		}
	}
	n := float64(len(vecs))
	avg := make([]float32, dim)
	for i, x := range sum {
		avg[i] = float32(x / n)
	}
	return TopicVector{Vec: avg, Norm: semantic.Norm(avg)}, nil
}

// CentroidVector decodes a stored feedback centroid, or nil when the
// centroid is absent or degenerate.
func CentroidVector(c *model.FeedbackCentroid) *TopicVector {
	if c == nil || c.Norm <= 0 || len(c.Vector) == 0 {
		return nil
	}
	return &TopicVector{Vec: semantic.BlobToVector(c.Vector), Norm: c.Norm}
}

// EntityDensity is entity mentions per word of extracted text.
func EntityDensity(mentions, words int) float64 {
	if words <= 0 {
		return 0
	}
	return float64(mentions) / float64(words)
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Hostname extracts the lowercased host (with any port) from a URL, or ""
// when the URL does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(u.Host))
}

// LoadURLPenalties decodes the host-penalty map from its KV JSON form.
// Malformed input or entries yield an empty or partial map, never an
// error: penalties are advisory.
func LoadURLPenalties(raw string) map[string]float64 {
	out := make(map[string]float64)
	if strings.TrimSpace(raw) == "" {
		return out
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return out
	}
	for k, v := range data {
		if k == "" {
			continue
		}
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// DumpURLPenalties encodes the host-penalty map as deterministic JSON.
func DumpURLPenalties(penalties map[string]float64) string {
	if len(penalties) == 0 {
		return "{}"
	}
	data, err := json.Marshal(penalties)
	if err != nil {
		return "{}"
	}
	return string(data)
}
