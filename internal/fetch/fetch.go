// Package fetch downloads documents and pages: resumable HTTP fetching with
// content hashing, adaptive per-host throttling, browser fallback for
// edge-blocked pages, and FTP mirroring.
package fetch

import (
	"context"
	"errors"
	"time"
)

// ErrNotModified reports a 304 response to a conditional fetch. Not a
// failure: the caller already holds the current content.
var ErrNotModified = errors.New("fetch: not modified")

// Pauser blocks while a run is paused. A nil Pauser never pauses.
type Pauser interface {
	Wait(ctx context.Context) error
}

// Result describes one completed download.
type Result struct {
	URL          string    `json:"url"`
	FinalURL     string    `json:"final_url"`
	LocalPath    string    `json:"local_path"`
	ContentType  string    `json:"content_type"`
	FileSize     int64     `json:"file_size"`
	SHA256       string    `json:"sha256"`
	FetchedAt    time.Time `json:"fetched_at"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
}
