// Package search answers interactive queries by re-ranking full-text
// candidates with semantic, feedback, prior-score, and host-penalty
// signals. Without an embedding provider it degrades to keyword rank.
package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/relevance"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

// Review labels nudge a result without drowning the other signals. The
// irrelevant bias is stronger so dismissed documents sink fast.
const (
	reviewBiasHighValue  = 0.35
	reviewBiasIrrelevant = -0.60
)

// Result is one ranked search hit with the signals behind its score.
type Result struct {
	DocID           int64              `json:"doc_id"`
	URL             string             `json:"url"`
	Title           string             `json:"title"`
	KeywordRank     float64            `json:"keyword_rank"`
	QuerySimilarity float64            `json:"query_similarity"`
	FeedbackBoost   float64            `json:"feedback_boost"`
	Prior           float64            `json:"prior"`
	URLPenalty      float64            `json:"url_penalty"`
	ReviewStatus    model.ReviewStatus `json:"review_status,omitempty"`
	Score           float64            `json:"score"`
}

// Searcher re-ranks FTS candidates. provider may be nil.
type Searcher struct {
	store    store.Store
	provider semantic.Provider
	cfg      config.SearchConfig
}

func New(st store.Store, provider semantic.Provider, cfg config.SearchConfig) *Searcher {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 250
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 50
	}
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = 0.30
	}
	if cfg.SemanticWeight <= 0 {
		cfg.SemanticWeight = 0.40
	}
	if cfg.FeedbackWeight <= 0 {
		cfg.FeedbackWeight = 0.15
	}
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = 0.10
	}
	if cfg.URLPenaltyWeight <= 0 {
		cfg.URLPenaltyWeight = 0.05
	}
	return &Searcher{store: st, provider: provider, cfg: cfg}
}

// Search ranks documents for query. Candidates come from FTS in BM25
// order; the i-th of N candidates contributes keyword rank (N-i)/N so
// keyword strength stays comparable across query shapes. Advisory
// signals (penalties, review labels, priors, embeddings) are best-effort
// and never fail the search.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}

	fts, err := s.store.SearchFTS(ctx, q, s.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(fts) == 0 {
		return nil, nil
	}

	statuses := s.reviewStatuses(ctx, fts)
	results := make([]Result, len(fts))
	n := float64(len(fts))
	for i, r := range fts {
		rank := (n - float64(i)) / n
		results[i] = Result{
			DocID:        r.DocID,
			URL:          r.URL,
			Title:        r.Title,
			KeywordRank:  rank,
			ReviewStatus: statuses[r.DocID],
			Score:        s.cfg.KeywordWeight * rank,
		}
	}

	qvec := s.queryVector(ctx, q)
	if qvec == nil {
		// Keyword-rank only: candidate order is already descending.
		return clip(results, s.cfg.ResultLimit), nil
	}
	qnorm := semantic.Norm(qvec)

	penalties := s.loadPenalties(ctx)
	hv := s.centroid(ctx, model.ReviewHighValue)
	ir := s.centroid(ctx, model.ReviewIrrelevant)

	for i := range results {
		r := &results[i]
		qSim, hvSim, irSim := s.chunkSimilarities(ctx, r.DocID, qvec, qnorm, hv, ir)
		r.QuerySimilarity = qSim
		r.FeedbackBoost = hvSim - irSim
		r.Prior = s.prior(ctx, r.DocID)
		r.URLPenalty = penalties[relevance.Hostname(r.URL)]

		r.Score = s.cfg.KeywordWeight*r.KeywordRank +
			s.cfg.SemanticWeight*r.QuerySimilarity +
			s.cfg.FeedbackWeight*r.FeedbackBoost +
			s.cfg.PriorWeight*r.Prior -
			s.cfg.URLPenaltyWeight*r.URLPenalty
		switch r.ReviewStatus {
		case model.ReviewHighValue:
			r.Score += reviewBiasHighValue
		case model.ReviewIrrelevant:
			r.Score += reviewBiasIrrelevant
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return clip(results, s.cfg.ResultLimit), nil
}

// chunkSimilarities scans a document's stored chunks once, keeping the
// best similarity against the query and each feedback centroid.
func (s *Searcher) chunkSimilarities(ctx context.Context, docID int64, qvec []float32, qnorm float64, hv, ir *relevance.TopicVector) (qSim, hvSim, irSim float64) {
	chunks, err := s.store.EmbeddingsForDoc(ctx, docID, s.provider.ModelName())
	if err != nil {
		zap.L().Debug("embeddings unavailable for doc",
			zap.Int64("doc_id", docID), zap.Error(err))
		return 0, 0, 0
	}
	for _, c := range chunks {
		vec := semantic.BlobToVector(c.Vector)
		if sim := semantic.Cosine(qvec, qnorm, vec, c.Norm); sim > qSim {
			qSim = sim
		}
		if hv != nil {
			if sim := semantic.Cosine(vec, c.Norm, hv.Vec, hv.Norm); sim > hvSim {
				hvSim = sim
			}
		}
		if ir != nil {
			if sim := semantic.Cosine(vec, c.Norm, ir.Vec, ir.Norm); sim > irSim {
				irSim = sim
			}
		}
	}
	return qSim, hvSim, irSim
}

func (s *Searcher) prior(ctx context.Context, docID int64) float64 {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil || doc == nil || doc.RelevanceScore == nil {
		return 0
	}
	return math.Tanh(1.5 * *doc.RelevanceScore)
}

func (s *Searcher) queryVector(ctx context.Context, q string) []float32 {
	if s.provider == nil {
		return nil
	}
	vecs, err := s.provider.Embed(ctx, []string{q})
	if err != nil || len(vecs) != 1 || len(vecs[0]) == 0 {
		zap.L().Info("query embedding unavailable, using keyword rank only",
			zap.Error(err))
		return nil
	}
	return vecs[0]
}

func (s *Searcher) centroid(ctx context.Context, label model.ReviewStatus) *relevance.TopicVector {
	c, err := s.store.FeedbackCentroid(ctx, string(label), s.provider.ModelName())
	if err != nil {
		zap.L().Debug("feedback centroid unavailable",
			zap.String("label", string(label)), zap.Error(err))
		return nil
	}
	return relevance.CentroidVector(c)
}

func (s *Searcher) loadPenalties(ctx context.Context) map[string]float64 {
	raw, err := s.store.KVGet(ctx, relevance.URLPenaltiesKey)
	if err != nil {
		zap.L().Debug("url penalties unavailable", zap.Error(err))
		return map[string]float64{}
	}
	return relevance.LoadURLPenalties(raw)
}

func (s *Searcher) reviewStatuses(ctx context.Context, fts []store.FTSResult) map[int64]model.ReviewStatus {
	ids := make([]int64, len(fts))
	for i, r := range fts {
		ids[i] = r.DocID
	}
	m, err := s.store.ReviewStatusMap(ctx, ids)
	if err != nil {
		zap.L().Debug("review statuses unavailable", zap.Error(err))
		return map[int64]model.ReviewStatus{}
	}
	return m
}

func clip(results []Result, limit int) []Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
