package store

import (
	"context"
	"time"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

// FTSResult is one full-text-search candidate. Lower BM25 is a better match.
type FTSResult struct {
	DocID int64   `json:"doc_id"`
	URL   string  `json:"url"`
	Title string  `json:"title"`
	BM25  float64 `json:"bm25"`
}

// Store defines the persistence interface for the crawl and triage pipeline.
type Store interface {
	// Frontier
	UpsertURLs(ctx context.Context, urls []string, status model.URLStatus, discoveredAt time.Time, preserveDone bool) error
	RecordAttempt(ctx context.Context, url string, att model.URLAttempt) error
	NextBatch(ctx context.Context, limit int) ([]model.PendingURL, error)
	AbandonPending(ctx context.Context) (int, error)
	CacheHeaders(ctx context.Context, url string) (etag, lastModified string, err error)
	CachedRecord(ctx context.Context, url string) (*model.CachedRecord, error)
	URLDebug(ctx context.Context, url string) (*model.URLDebugInfo, error)
	CountByStatus(ctx context.Context) (map[model.URLStatus]int, error)
	KnownDocumentURLs(ctx context.Context) ([]string, error)
	ReleaseSnapshotRows(ctx context.Context) ([]model.URLRecord, error)

	// Documents
	UpsertDocument(ctx context.Context, d model.Document) (int64, error)
	GetDocument(ctx context.Context, docID int64) (*model.Document, error)
	DocumentIDBySHA256(ctx context.Context, sha256 string) (int64, error)
	UpdateDocumentStorage(ctx context.Context, docID int64, localPath, title, contentType string) error
	UpdateDocumentMetrics(ctx context.Context, docID int64, relevance, topicSim, entityDensity, urlPenalty *float64) error
	UpdatePathsForSHA256(ctx context.Context, sha256, localPath string) error
	PurgeDerived(ctx context.Context, docID int64) error
	ClearResults(ctx context.Context) error
	DocumentStats(ctx context.Context) (model.DocumentStats, error)
	AllDocumentIDs(ctx context.Context) ([]int64, error)

	// Matches, entities, tables, page flags
	AddMatches(ctx context.Context, docID int64, hits []model.MatchHit) error
	MatchesForDoc(ctx context.Context, docID int64) ([]model.MatchHit, error)
	AddEntities(ctx context.Context, docID int64, entities []model.Entity) error
	EntitiesForDoc(ctx context.Context, docID int64) ([]model.Entity, error)
	AddTables(ctx context.Context, docID int64, tables []model.DocTable) error
	TablesForDoc(ctx context.Context, docID int64) ([]model.DocTable, error)
	AddPageFlags(ctx context.Context, docID int64, flags []model.PageFlag) error
	PageFlagsForDoc(ctx context.Context, docID int64, flag string) ([]model.PageFlag, error)
	RedactionMaxMap(ctx context.Context, docIDs []int64) (map[int64]float64, error)

	// Reviews
	SetReviewStatus(ctx context.Context, docID int64, status model.ReviewStatus) error
	GetReviewStatus(ctx context.Context, docID int64) (model.ReviewStatus, error)
	ReviewStatusMap(ctx context.Context, docIDs []int64) (map[int64]model.ReviewStatus, error)
	CountReviews(ctx context.Context) (map[model.ReviewStatus]int, error)
	FlaggedDocs(ctx context.Context, limit int) ([]model.TriageRow, error)

	// Full-text index
	AddFTSContent(ctx context.Context, docID int64, url, title, content string) error
	FTSContent(ctx context.Context, docID int64) (string, error)
	SearchFTS(ctx context.Context, query string, limit int) ([]FTSResult, error)

	// Embeddings and feedback centroids
	AddEmbeddings(ctx context.Context, docID int64, chunks []model.EmbeddingChunk) error
	EmbeddingsForDoc(ctx context.Context, docID int64, modelName string) ([]model.EmbeddingChunk, error)
	FeedbackCentroid(ctx context.Context, label, modelName string) (*model.FeedbackCentroid, error)
	SetFeedbackCentroid(ctx context.Context, c model.FeedbackCentroid) error

	// Settings
	KVGet(ctx context.Context, key string) (string, error)
	KVSet(ctx context.Context, key, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
