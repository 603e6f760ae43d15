// Package monitoring reads crawl, archive, and review counters into health
// snapshots, evaluates them against alert thresholds, and delivers breaches
// to a webhook. The serve command runs the checker loop; the status command
// prints one snapshot.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/pipeline"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/release"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Frontier counters.
	FrontierTotal     int     `json:"frontier_total"`
	FrontierPending   int     `json:"frontier_pending"`
	FrontierDone      int     `json:"frontier_done"`
	FrontierErrors    int     `json:"frontier_errors"`
	FrontierAbandoned int     `json:"frontier_abandoned"`
	FrontierFailRate  float64 `json:"frontier_fail_rate"`

	// Archive counters.
	Documents    int   `json:"documents"`
	MatchedDocs  int   `json:"matched_docs"`
	ScoredDocs   int   `json:"scored_docs"`
	ArchiveBytes int64 `json:"archive_bytes"`

	// Review queue counters over matched documents.
	PendingReview int `json:"pending_review"`
	Reviewed      int `json:"reviewed"`
	HighValue     int `json:"high_value"`
	Irrelevant    int `json:"irrelevant"`
	Ignored       int `json:"ignored"`

	// Most recent run bookkeeping. RunActive is best-effort: a crashed run
	// leaves its record open.
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunStarted *time.Time `json:"last_run_started_at,omitempty"`
	LastRunEnded   *time.Time `json:"last_run_ended_at,omitempty"`
	RunActive      bool       `json:"run_active"`

	// Last release diff.
	ReleaseCreatedAt string `json:"release_created_at,omitempty"`
	ReleaseAdded     int    `json:"release_added"`
	ReleaseChanged   int    `json:"release_changed"`
	ReleaseRemoved   int    `json:"release_removed"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: frontier counts")
	}
	for status, n := range counts {
		snap.FrontierTotal += n
		switch status {
		case model.URLStatusQueued, model.URLStatusProcessing, model.URLStatusRetry:
			snap.FrontierPending += n
		case model.URLStatusDone:
			snap.FrontierDone += n
		case model.URLStatusError:
			snap.FrontierErrors += n
		case model.URLStatusAbandoned:
			snap.FrontierAbandoned += n
		}
	}
	if finished := snap.FrontierDone + snap.FrontierErrors; finished > 0 {
		snap.FrontierFailRate = float64(snap.FrontierErrors) / float64(finished)
	}

	docs, err := c.store.DocumentStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: document stats")
	}
	snap.Documents = docs.Total
	snap.MatchedDocs = docs.Matched
	snap.ScoredDocs = docs.Scored
	snap.ArchiveBytes = docs.TotalBytes

	reviews, err := c.store.CountReviews(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: review counts")
	}
	snap.PendingReview = reviews[model.ReviewNew]
	snap.Reviewed = reviews[model.ReviewReviewed]
	snap.HighValue = reviews[model.ReviewHighValue]
	snap.Irrelevant = reviews[model.ReviewIrrelevant]
	snap.Ignored = reviews[model.ReviewIgnored]

	run, err := pipeline.LastRunState(ctx, c.store)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last run state")
	}
	if run != nil {
		snap.LastRunID = run.ID
		started := run.StartedAt
		snap.LastRunStarted = &started
		snap.LastRunEnded = run.EndedAt
		snap.RunActive = run.EndedAt == nil
	}

	diff, err := release.LastDiff(ctx, c.store)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last release diff")
	}
	if diff != nil {
		snap.ReleaseCreatedAt = diff.CreatedAt
		snap.ReleaseAdded = len(diff.Added)
		snap.ReleaseChanged = len(diff.Changed)
		snap.ReleaseRemoved = len(diff.Removed)
	}

	return snap, nil
}
