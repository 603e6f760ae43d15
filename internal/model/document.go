package model

import "time"

// Document is a downloaded file, deduplicated by content hash. Multiple
// frontier URLs may map to the same document.
type Document struct {
	ID             int64     `json:"doc_id"`
	URL            string    `json:"url"`
	FinalURL       string    `json:"final_url"`
	Title          string    `json:"title"`
	ContentType    string    `json:"content_type"`
	FileSize       int64     `json:"file_size,omitempty"`
	SHA256         string    `json:"sha256"`
	LocalPath      string    `json:"local_path"`
	FetchedAt      time.Time `json:"fetched_at"`
	RelevanceScore *float64  `json:"relevance_score,omitempty"`
	TopicSim       *float64  `json:"topic_similarity,omitempty"`
	EntityDensity  *float64  `json:"entity_density,omitempty"`
	URLPenalty     *float64  `json:"url_penalty,omitempty"`
}

// DocumentStats aggregates archive-wide document counters for status
// reporting. Matched counts documents with at least one recorded hit,
// Scored those with a persisted relevance score.
type DocumentStats struct {
	Total      int   `json:"total"`
	Matched    int   `json:"matched"`
	Scored     int   `json:"scored"`
	TotalBytes int64 `json:"total_bytes"`
}

// MatchMethod identifies which matching strategy produced a hit.
type MatchMethod string

const (
	MatchKeyword  MatchMethod = "keyword"
	MatchWildcard MatchMethod = "wildcard"
	MatchRegex    MatchMethod = "regex"
	MatchFuzzy    MatchMethod = "fuzzy"
	MatchSemantic MatchMethod = "semantic"
	MatchQuery    MatchMethod = "query"
)

// MatchHit is one recorded keyword/query hit against a document.
type MatchHit struct {
	DocID   int64       `json:"doc_id"`
	Method  MatchMethod `json:"method"`
	Pattern string      `json:"pattern"`
	Score   float64     `json:"score"`
	Snippet string      `json:"snippet"`
}

// Entity is an aggregated named-entity mention within a document, keyed by
// (doc, label, canonical form).
type Entity struct {
	DocID     int64    `json:"doc_id"`
	Label     string   `json:"label"`
	Canonical string   `json:"canonical"`
	Display   string   `json:"display"`
	Count     int      `json:"count"`
	Variants  []string `json:"variants"`
	PageNos   []int    `json:"page_nos,omitempty"`
}

// PageFlag annotates a single page, currently used for redaction likelihood.
type PageFlag struct {
	DocID   int64          `json:"doc_id"`
	PageNo  int            `json:"page_no"`
	Flag    string         `json:"flag"`
	Score   float64        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// DocTable is one extracted table from a document page.
type DocTable struct {
	DocID      int64      `json:"doc_id"`
	PageNo     int        `json:"page_no"`
	TableIndex int        `json:"table_index"`
	Format     string     `json:"format"`
	Data       [][]string `json:"data"`
	BBox       []float64  `json:"bbox,omitempty"`
}

// EmbeddingChunk stores one embedded slice of a document's text. The vector
// is a little-endian float32 blob with its norm precomputed for cosine math.
type EmbeddingChunk struct {
	DocID       int64   `json:"doc_id"`
	ChunkIndex  int     `json:"chunk_index"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	ModelName   string  `json:"model_name"`
	Vector      []byte  `json:"-"`
	Norm        float64 `json:"norm"`
}
