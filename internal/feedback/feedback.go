// Package feedback folds human review labels back into ranking. Every
// label persists its review row; a high_value or irrelevant verdict
// additionally triggers four learning steps: move the file into its
// flagged bucket, adjust the host penalty, blacklist a lone matched
// pattern, and advance the label's online centroid. Only the review row
// is required; the learning steps log and continue on failure so a broken
// disk or embedding sidecar never loses the reviewer's verdict.
package feedback

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/relevance"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/storage"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

// PhraseBlacklistKey is the KV slot holding the JSON list of patterns
// reviewers have dismissed.
const PhraseBlacklistKey = "phrase_blacklist"

// Applier executes the feedback steps. provider may be nil, which skips
// centroid learning.
type Applier struct {
	store     store.Store
	provider  semantic.Provider
	outputDir string
	layout    string
	cfg       config.FeedbackConfig
}

func NewApplier(st store.Store, provider semantic.Provider, outputDir, layout string, cfg config.FeedbackConfig) *Applier {
	if cfg.IrrelevantHostStep <= 0 {
		cfg.IrrelevantHostStep = 0.05
	}
	if cfg.HighValueHostStep <= 0 {
		cfg.HighValueHostStep = 0.03
	}
	if cfg.HostPenaltyCap <= 0 {
		cfg.HostPenaltyCap = 0.60
	}
	if cfg.BlacklistCap <= 0 {
		cfg.BlacklistCap = 500
	}
	return &Applier{store: st, provider: provider, outputDir: outputDir, layout: layout, cfg: cfg}
}

// Apply records label for docID. High_value and irrelevant verdicts
// additionally feed back into future ranking; other labels carry no
// learning signal and only persist the row.
func (a *Applier) Apply(ctx context.Context, docID int64, label model.ReviewStatus) error {
	if err := a.store.SetReviewStatus(ctx, docID, label); err != nil {
		return err
	}
	if label != model.ReviewHighValue && label != model.ReviewIrrelevant {
		return nil
	}

	doc, err := a.store.GetDocument(ctx, docID)
	if err != nil {
		zap.L().Warn("feedback: document lookup failed",
			zap.Int64("doc_id", docID), zap.Error(err))
		doc = nil
	}
	if doc != nil {
		a.moveFlagged(ctx, doc, label)
		a.adjustHostPenalty(ctx, doc.URL, label)
	}
	a.updateBlacklist(ctx, docID, label)
	a.advanceCentroid(ctx, docID, label)
	return nil
}

// moveFlagged relocates the stored file into output/flagged/<label>/ and
// propagates the new path to every row sharing the hash.
func (a *Applier) moveFlagged(ctx context.Context, doc *model.Document, label model.ReviewStatus) {
	if doc.LocalPath == "" || doc.SHA256 == "" {
		return
	}
	if _, err := os.Stat(doc.LocalPath); err != nil {
		return
	}
	plan, err := storage.Prepare(a.outputDir)
	if err != nil {
		zap.L().Warn("feedback: storage layout unavailable", zap.Error(err))
		return
	}

	name := strings.TrimSpace(doc.Title)
	if name == "" {
		base := filepath.Base(doc.LocalPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	bucket := filepath.Join(plan.FlaggedDir, string(label))
	dst := storage.FlaggedPath(bucket, doc.SHA256, filepath.Ext(doc.LocalPath), a.layout, name)

	final, err := storage.MoveTo(dst, doc.LocalPath)
	if err != nil {
		zap.L().Warn("feedback: flagged move failed",
			zap.String("src", doc.LocalPath), zap.String("dst", dst), zap.Error(err))
		return
	}
	if err := a.store.UpdatePathsForSHA256(ctx, doc.SHA256, final); err != nil {
		zap.L().Warn("feedback: path propagation failed",
			zap.String("sha256", doc.SHA256), zap.Error(err))
	}
}

func (a *Applier) adjustHostPenalty(ctx context.Context, rawURL string, label model.ReviewStatus) {
	host := relevance.Hostname(rawURL)
	if host == "" {
		return
	}
	raw, err := a.store.KVGet(ctx, relevance.URLPenaltiesKey)
	if err != nil {
		zap.L().Warn("feedback: penalties read failed", zap.Error(err))
		return
	}
	penalties := relevance.LoadURLPenalties(raw)

	cur := penalties[host]
	if label == model.ReviewIrrelevant {
		cur = math.Min(a.cfg.HostPenaltyCap, cur+a.cfg.IrrelevantHostStep)
	} else {
		cur = math.Max(0, cur-a.cfg.HighValueHostStep)
	}
	penalties[host] = cur

	if err := a.store.KVSet(ctx, relevance.URLPenaltiesKey, relevance.DumpURLPenalties(penalties)); err != nil {
		zap.L().Warn("feedback: penalties write failed", zap.Error(err))
	}
}

// updateBlacklist retires a pattern when an irrelevant document matched it
// and nothing else. Multi-match documents give no clean signal about any
// single pattern.
func (a *Applier) updateBlacklist(ctx context.Context, docID int64, label model.ReviewStatus) {
	if label != model.ReviewIrrelevant {
		return
	}
	matches, err := a.store.MatchesForDoc(ctx, docID)
	if err != nil {
		zap.L().Warn("feedback: matches read failed", zap.Error(err))
		return
	}
	if len(matches) != 1 {
		return
	}
	pat := strings.TrimSpace(matches[0].Pattern)
	if pat == "" {
		return
	}

	raw, err := a.store.KVGet(ctx, PhraseBlacklistKey)
	if err != nil {
		zap.L().Warn("feedback: blacklist read failed", zap.Error(err))
		return
	}
	bl := LoadBlacklist(raw)
	for _, b := range bl {
		if b == pat {
			return
		}
	}
	bl = append(bl, pat)
	if len(bl) > a.cfg.BlacklistCap {
		bl = bl[len(bl)-a.cfg.BlacklistCap:]
	}

	data, err := json.Marshal(bl)
	if err != nil {
		return
	}
	if err := a.store.KVSet(ctx, PhraseBlacklistKey, string(data)); err != nil {
		zap.L().Warn("feedback: blacklist write failed", zap.Error(err))
	}
}

func (a *Applier) advanceCentroid(ctx context.Context, docID int64, label model.ReviewStatus) {
	if a.provider == nil {
		return
	}
	text, err := a.store.FTSContent(ctx, docID)
	if err != nil {
		zap.L().Info("feedback centroid update skipped", zap.Error(err))
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	vec, _, err := relevance.EmbedText(ctx, a.provider, text, 0)
	if err != nil || len(vec) == 0 {
		zap.L().Info("feedback centroid update skipped", zap.Error(err))
		return
	}

	modelName := a.provider.ModelName()
	old, err := a.store.FeedbackCentroid(ctx, string(label), modelName)
	if err != nil {
		zap.L().Info("feedback centroid update skipped", zap.Error(err))
		return
	}
	updated := meanCentroid(old, string(label), modelName, vec)
	if err := a.store.SetFeedbackCentroid(ctx, updated); err != nil {
		zap.L().Info("feedback centroid update skipped", zap.Error(err))
	}
}

// meanCentroid advances the label's online mean by one vector.
func meanCentroid(old *model.FeedbackCentroid, label, modelName string, vec []float32) model.FeedbackCentroid {
	if old == nil || old.Count <= 0 || len(old.Vector) == 0 {
		blob, norm := semantic.VectorToBlob(vec)
		return model.FeedbackCentroid{Label: label, ModelName: modelName, Vector: blob, Norm: norm, Count: 1}
	}

	oldVec := semantic.BlobToVector(old.Vector)
	dim := min(len(oldVec), len(vec))
	count := old.Count
	avg := make([]float32, dim)
	for i := 0; i < dim; i++ {
		avg[i] = float32((float64(oldVec[i])*float64(count) + float64(vec[i])) / float64(count+1))
	}
	blob, norm := semantic.VectorToBlob(avg)
	return model.FeedbackCentroid{Label: label, ModelName: modelName, Vector: blob, Norm: norm, Count: count + 1}
}

// LoadBlacklist decodes the blacklisted-pattern list from its KV JSON
// form. Malformed input yields nil: the blacklist is advisory.
func LoadBlacklist(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var data []any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}
	out := make([]string, 0, len(data))
	for _, v := range data {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FilterKeywords drops keywords the reviewer blacklist has dismissed.
func FilterKeywords(keywords, blacklist []string) []string {
	if len(blacklist) == 0 {
		return keywords
	}
	blocked := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		if t := strings.TrimSpace(b); t != "" {
			blocked[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if _, ok := blocked[strings.TrimSpace(k)]; ok {
			continue
		}
		out = append(out, k)
	}
	return out
}
