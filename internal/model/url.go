package model

import "time"

// URLStatus represents the lifecycle state of a frontier URL.
type URLStatus string

const (
	URLStatusQueued     URLStatus = "queued"
	URLStatusProcessing URLStatus = "processing"
	URLStatusRetry      URLStatus = "retry"
	URLStatusDone       URLStatus = "done"
	URLStatusError      URLStatus = "error"
	URLStatusAbandoned  URLStatus = "abandoned"
)

// URLRecord is one row of the persistent frontier. The normalized URL is the
// primary key; rows are never deleted, only abandoned.
type URLRecord struct {
	URL           string     `json:"url"`
	Status        URLStatus  `json:"status"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	HTTPStatus    int        `json:"http_status,omitempty"`
	Error         string     `json:"error,omitempty"`
	ContentType   string     `json:"content_type,omitempty"`
	Title         string     `json:"title,omitempty"`
	FinalURL      string     `json:"final_url,omitempty"`
	LocalPath     string     `json:"local_path,omitempty"`
	SHA256        string     `json:"sha256,omitempty"`
	ETag          string     `json:"etag,omitempty"`
	LastModified  string     `json:"last_modified,omitempty"`
}

// URLAttempt is the outcome of one fetch attempt, written last-writer-wins.
type URLAttempt struct {
	Status       URLStatus
	HTTPStatus   int
	Error        string
	ContentType  string
	Title        string
	FinalURL     string
	LocalPath    string
	SHA256       string
	ETag         string
	LastModified string
}

// CachedRecord is the subset of a URLRecord needed to reuse a prior download
// after a 304 Not Modified response.
type CachedRecord struct {
	URL         string
	LocalPath   string
	ContentType string
	SHA256      string
	FinalURL    string
	Title       string
}

// URLDebugInfo surfaces the recorded outcome of a URL for diagnostics.
type URLDebugInfo struct {
	Status     URLStatus
	HTTPStatus int
	Error      string
}

// PendingURL is a frontier row eligible for processing.
type PendingURL struct {
	URL         string
	ContentType string
}
