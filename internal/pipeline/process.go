package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/entity"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/feedback"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/fetch"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/match"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/ocr"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/parse"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/redact"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/relevance"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/storage"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/tables"
)

// ProcessOptions are the per-call flags for a single document pass.
type ProcessOptions struct {
	// AllowMove permits relocating the file into the flagged bucket when the
	// document passes the relevance gate.
	AllowMove bool
	// ReprocessExisting re-parses a document whose hash is already indexed,
	// replacing its derived rows.
	ReprocessExisting bool
}

// Output reports what one document pass produced.
type Output struct {
	DocID           int64
	Title           string
	Hits            []model.MatchHit
	Relevance       *relevance.Result
	PassesRelevance bool
	FinalPath       string
	// Reused marks a hash-dedup short circuit: the content was already
	// indexed and no parsing happened.
	Reused bool
}

// Processor runs the parse, match, persist, and triage pass over downloaded
// documents. Collaborator failures (parser, NER, embeddings, tables,
// redaction analysis) degrade that feature for the document instead of
// failing the pass. Safe for concurrent use.
type Processor struct {
	store     store.Store
	parser    *parse.Parser
	matcher   *match.Matcher
	entities  *entity.Extractor
	tables    tables.Extractor
	redact    redact.Analyzer
	provider  semantic.Provider
	scorer    *relevance.Scorer
	topic     relevance.TopicVector
	highValue *relevance.TopicVector
	irrelev   *relevance.TopicVector
	penalties map[string]float64
	plan      storage.Plan
	cfg       config.Config
}

// NewProcessor assembles the document pass from configuration: keyword
// profile minus the learned phrase blacklist, embedding provider and topic
// centroid, feedback centroids, and host penalties. With embedding disabled
// the processor runs in keyword-only mode.
func NewProcessor(ctx context.Context, st store.Store, cfg config.Config) (*Processor, error) {
	plan, err := storage.Prepare(cfg.Storage.OutputDir)
	if err != nil {
		return nil, err
	}

	var extractor ocr.Extractor
	if cfg.OCR.Enabled {
		extractor, err = ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return nil, err
		}
	}

	profile, err := match.LoadProfile(cfg.Match.ProfilePath)
	if err != nil {
		return nil, err
	}
	keywords := profile.Keywords
	raw, err := st.KVGet(ctx, feedback.PhraseBlacklistKey)
	if err != nil {
		zap.L().Warn("load phrase blacklist", zap.Error(err))
	} else if bl := feedback.LoadBlacklist(raw); len(bl) > 0 {
		before := len(keywords)
		keywords = feedback.FilterKeywords(keywords, bl)
		if dropped := before - len(keywords); dropped > 0 {
			zap.L().Info("blacklisted keywords excluded", zap.Int("dropped", dropped))
		}
	}

	provider := semantic.NewFromConfig(cfg.Embed)

	stopwords := cfg.Match.Stopwords
	if len(profile.Stopwords) > 0 {
		stopwords = append(append([]string{}, stopwords...), profile.Stopwords...)
	}
	opts := match.Options{
		Keywords:          keywords,
		Query:             cfg.Match.Query,
		Stopwords:         stopwords,
		FuzzyEnabled:      true,
		FuzzyThreshold:    cfg.Match.FuzzyThreshold,
		FuzzyMinLength:    cfg.Match.FuzzyMinLength,
		FuzzyMaxSentences: cfg.Match.FuzzyMaxSentences,
		MaxHits:           cfg.Match.MaxHitsPerDoc,
		SnippetRadius:     cfg.Match.SnippetRadius,
	}
	if provider != nil {
		opts.Semantic = semantic.NewMatcher(provider, cfg.Match.SemanticThreshold)
	}

	p := &Processor{
		store:    st,
		parser:   parse.New(extractor),
		matcher:  match.New(opts),
		provider: provider,
		scorer:   relevance.NewScorer(cfg.Triage),
		plan:     plan,
		cfg:      cfg,
	}
	if cfg.Entity.Enabled {
		p.entities = entity.NewFromConfig(cfg.Entity)
	}

	rawPen, err := st.KVGet(ctx, relevance.URLPenaltiesKey)
	if err != nil {
		zap.L().Warn("load url penalties", zap.Error(err))
	}
	p.penalties = relevance.LoadURLPenalties(rawPen)

	if provider != nil {
		phrases := cfg.Triage.TopicPhrases
		if len(profile.TopicPhrases) > 0 {
			phrases = profile.TopicPhrases
		}
		topic, err := relevance.BuildTopicVector(ctx, provider, phrases)
		if err != nil {
			zap.L().Warn("build topic vector, scoring degrades", zap.Error(err))
		} else {
			p.topic = topic
		}
		p.highValue = p.loadCentroid(ctx, model.ReviewHighValue)
		p.irrelev = p.loadCentroid(ctx, model.ReviewIrrelevant)
	}
	return p, nil
}

// Plan returns the resolved output directory layout.
func (p *Processor) Plan() storage.Plan { return p.plan }

func (p *Processor) loadCentroid(ctx context.Context, label model.ReviewStatus) *relevance.TopicVector {
	c, err := p.store.FeedbackCentroid(ctx, string(label), p.provider.ModelName())
	if err != nil {
		zap.L().Warn("load feedback centroid", zap.String("label", string(label)), zap.Error(err))
		return nil
	}
	return relevance.CentroidVector(c)
}

// Process runs one document through the full pass: hash dedup, parse, FTS
// insert, keyword/query matching, entity and table extraction, redaction
// flags, embeddings, auto-triage scoring, and the relevance-gated move into
// the flagged bucket.
func (p *Processor) Process(ctx context.Context, res *fetch.Result, opts ProcessOptions) (*Output, error) {
	if res == nil || res.SHA256 == "" || res.LocalPath == "" {
		return nil, eris.New("pipeline: incomplete download result")
	}

	docID, err := p.store.UpsertDocument(ctx, model.Document{
		URL:         res.URL,
		FinalURL:    res.FinalURL,
		ContentType: res.ContentType,
		FileSize:    res.FileSize,
		SHA256:      res.SHA256,
		LocalPath:   res.LocalPath,
		FetchedAt:   res.FetchedAt,
	})
	if err != nil {
		return nil, err
	}

	indexed, err := p.store.FTSContent(ctx, docID)
	if err != nil {
		return nil, err
	}
	if indexed != "" && !opts.ReprocessExisting {
		return p.reuseExisting(ctx, docID, res)
	}
	if indexed != "" {
		if err := p.store.PurgeDerived(ctx, docID); err != nil {
			return nil, err
		}
	}

	parsed := p.extractText(ctx, res)
	title := parsed.Title
	text := parsed.Text

	if err := p.store.UpdateDocumentStorage(ctx, docID, res.LocalPath, title, res.ContentType); err != nil {
		zap.L().Warn("update document storage", zap.Int64("doc_id", docID), zap.Error(err))
	}
	if err := p.store.AddFTSContent(ctx, docID, res.URL, title, text); err != nil {
		zap.L().Warn("index document text", zap.Int64("doc_id", docID), zap.Error(err))
	}

	hits := p.matcher.Match(ctx, text)
	for i := range hits {
		hits[i].DocID = docID
	}
	if len(hits) > 0 {
		if err := p.store.AddMatches(ctx, docID, hits); err != nil {
			zap.L().Warn("persist matches", zap.Int64("doc_id", docID), zap.Error(err))
		}
	}

	var mentions int
	if p.entities != nil {
		ents := p.entities.Extract(ctx, text)
		for _, e := range ents {
			mentions += e.Count
		}
		if len(ents) > 0 {
			if err := p.store.AddEntities(ctx, docID, ents); err != nil {
				zap.L().Warn("persist entities", zap.Int64("doc_id", docID), zap.Error(err))
			}
		}
	}
	density := relevance.EntityDensity(mentions, relevance.WordCount(text))

	if tbls := p.tables.Extract(text); len(tbls) > 0 {
		if err := p.store.AddTables(ctx, docID, tbls); err != nil {
			zap.L().Warn("persist tables", zap.Int64("doc_id", docID), zap.Error(err))
		}
	}

	if flags, err := p.redact.Analyze(res.LocalPath, text); err != nil {
		zap.L().Debug("redaction analysis skipped", zap.String("path", res.LocalPath), zap.Error(err))
	} else if len(flags) > 0 {
		if err := p.store.AddPageFlags(ctx, docID, flags); err != nil {
			zap.L().Warn("persist page flags", zap.Int64("doc_id", docID), zap.Error(err))
		}
	}

	out := &Output{DocID: docID, Title: title, Hits: hits, FinalPath: res.LocalPath}
	out.Relevance = p.score(ctx, docID, res.URL, text, density)
	out.PassesRelevance = len(hits) > 0 && (out.Relevance == nil || out.Relevance.Score > 0)

	penalty := p.penalties[relevance.Hostname(res.URL)]
	var scorePtr, topicPtr *float64
	if out.Relevance != nil {
		scorePtr = &out.Relevance.Score
		topicPtr = &out.Relevance.TopicSimilarity
	}
	if err := p.store.UpdateDocumentMetrics(ctx, docID, scorePtr, topicPtr, &density, &penalty); err != nil {
		zap.L().Warn("persist metrics", zap.Int64("doc_id", docID), zap.Error(err))
	}

	if opts.AllowMove && out.PassesRelevance {
		out.FinalPath = p.moveFlagged(ctx, res, title)
	}

	zap.L().Debug("document processed",
		zap.Int64("doc_id", docID),
		zap.String("url", res.URL),
		zap.Int("hits", len(hits)),
		zap.Bool("flagged", out.PassesRelevance))
	return out, nil
}

// reuseExisting handles the hash-dedup short circuit: same bytes were
// already indexed, usually under a different URL. Repairs a stale stored
// path and discards the redundant fresh copy.
func (p *Processor) reuseExisting(ctx context.Context, docID int64, res *fetch.Result) (*Output, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, eris.Errorf("pipeline: document %d missing after upsert", docID)
	}

	finalPath := doc.LocalPath
	switch {
	case finalPath == "" || !fileExists(finalPath):
		if err := p.store.UpdatePathsForSHA256(ctx, doc.SHA256, res.LocalPath); err != nil {
			zap.L().Warn("repair document path", zap.Int64("doc_id", docID), zap.Error(err))
		}
		finalPath = res.LocalPath
	case finalPath != res.LocalPath:
		if err := os.Remove(res.LocalPath); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("remove duplicate download", zap.String("path", res.LocalPath), zap.Error(err))
		}
	}

	hits, err := p.store.MatchesForDoc(ctx, docID)
	if err != nil {
		zap.L().Warn("load stored matches", zap.Int64("doc_id", docID), zap.Error(err))
	}

	title := doc.Title
	if title == "" {
		title = filepath.Base(finalPath)
	}
	zap.L().Info("document already indexed",
		zap.Int64("doc_id", docID),
		zap.String("url", res.URL),
		zap.Int("hits", len(hits)))
	return &Output{DocID: docID, Title: title, Hits: hits, FinalPath: finalPath, Reused: true}, nil
}

func (p *Processor) extractText(ctx context.Context, res *fetch.Result) *parse.Parsed {
	parsed, err := p.parser.Parse(ctx, res.LocalPath, res.ContentType, "")
	if err != nil {
		zap.L().Warn("parse failed, continuing without text",
			zap.String("path", res.LocalPath), zap.Error(err))
		return &parse.Parsed{Title: filepath.Base(res.LocalPath)}
	}
	return parsed
}

// score embeds the document and computes the auto-triage result, persisting
// the chunk embeddings along the way. Returns nil in keyword-only mode or
// when embedding fails.
func (p *Processor) score(ctx context.Context, docID int64, rawURL, text string, density float64) *relevance.Result {
	if p.provider == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	chunks, err := semantic.BuildChunks(ctx, p.provider, text, p.cfg.Embed.ChunkChars, p.cfg.Embed.ChunkOverlap)
	if err != nil {
		zap.L().Warn("embed chunks", zap.Int64("doc_id", docID), zap.Error(err))
	} else if len(chunks) > 0 {
		if err := p.store.AddEmbeddings(ctx, docID, chunks); err != nil {
			zap.L().Warn("persist embeddings", zap.Int64("doc_id", docID), zap.Error(err))
		}
	}

	docVec, docNorm, err := relevance.EmbedText(ctx, p.provider, text, p.cfg.Embed.MaxTextChars)
	if err != nil {
		zap.L().Warn("embed document", zap.Int64("doc_id", docID), zap.Error(err))
		return nil
	}
	if docNorm <= 0 {
		return nil
	}

	penalty := p.penalties[relevance.Hostname(rawURL)]
	r := p.scorer.Compute(docVec, docNorm, p.topic, p.highValue, p.irrelev, penalty, density)
	return &r
}

func (p *Processor) moveFlagged(ctx context.Context, res *fetch.Result, title string) string {
	display := title
	if display == "" {
		display = filepath.Base(res.LocalPath)
	}
	dst := storage.FlaggedPath(p.plan.FlaggedDir, res.SHA256, filepath.Ext(res.LocalPath), p.cfg.Storage.Layout, display)
	moved, err := storage.MoveTo(dst, res.LocalPath)
	if err != nil {
		zap.L().Warn("move to flagged", zap.String("dst", dst), zap.Error(err))
		return res.LocalPath
	}
	if err := p.store.UpdatePathsForSHA256(ctx, res.SHA256, moved); err != nil {
		zap.L().Warn("propagate flagged path", zap.String("sha256", res.SHA256), zap.Error(err))
	}
	return moved
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
