// Package release detects what a new disclosure drop added, removed, or
// altered. After each crawl the frontier rows are snapshotted into KV;
// diffing against the previous snapshot keys each URL on the identity
// fields that change when the government swaps a file in place.
package release

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

// KV slots. The version suffix allows a future snapshot-shape change
// without misreading old rows.
const (
	SnapshotKey = "release_snapshot_v1"
	LastDiffKey = "release_last_diff_v1"
)

// Change pairs the previous and current row for a URL whose identity
// fields moved.
type Change struct {
	URL    string          `json:"url"`
	Before model.URLRecord `json:"before"`
	After  model.URLRecord `json:"after"`
}

// Diff summarizes one release against the previous snapshot.
type Diff struct {
	CreatedAt string            `json:"created_at"`
	Added     []model.URLRecord `json:"added"`
	Removed   []model.URLRecord `json:"removed"`
	Changed   []Change          `json:"changed"`
}

// sameIdentity compares the fields that signal a re-released file.
func sameIdentity(a, b model.URLRecord) bool {
	return a.SHA256 == b.SHA256 &&
		a.ETag == b.ETag &&
		a.LastModified == b.LastModified &&
		a.FinalURL == b.FinalURL &&
		a.ContentType == b.ContentType &&
		a.HTTPStatus == b.HTTPStatus
}

// ComputeDiff diffs two snapshots by URL, preserving row order.
func ComputeDiff(prev, cur []model.URLRecord) Diff {
	prevByURL := make(map[string]model.URLRecord, len(prev))
	for _, r := range prev {
		if r.URL != "" {
			prevByURL[r.URL] = r
		}
	}
	curByURL := make(map[string]model.URLRecord, len(cur))
	for _, r := range cur {
		if r.URL != "" {
			curByURL[r.URL] = r
		}
	}

	diff := Diff{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Added:     []model.URLRecord{},
		Removed:   []model.URLRecord{},
		Changed:   []Change{},
	}

	seen := make(map[string]bool, len(cur))
	for _, r := range cur {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		before, ok := prevByURL[r.URL]
		if !ok {
			diff.Added = append(diff.Added, r)
		} else if !sameIdentity(before, r) {
			diff.Changed = append(diff.Changed, Change{URL: r.URL, Before: before, After: r})
		}
	}
	seenPrev := make(map[string]bool, len(prev))
	for _, r := range prev {
		if r.URL == "" || seenPrev[r.URL] {
			continue
		}
		seenPrev[r.URL] = true
		if _, ok := curByURL[r.URL]; !ok {
			diff.Removed = append(diff.Removed, r)
		}
	}
	return diff
}

// StoreSnapshotAndDiff snapshots the current frontier, diffs it against
// the stored snapshot, and persists both the diff and the new snapshot.
func StoreSnapshotAndDiff(ctx context.Context, st store.Store) (Diff, error) {
	prev := previousSnapshot(ctx, st)
	cur, err := st.ReleaseSnapshotRows(ctx)
	if err != nil {
		return Diff{}, err
	}
	diff := ComputeDiff(prev, cur)

	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return Diff{}, eris.Wrap(err, "release: encode diff")
	}
	if err := st.KVSet(ctx, LastDiffKey, string(diffJSON)); err != nil {
		return Diff{}, err
	}
	snapJSON, err := json.Marshal(cur)
	if err != nil {
		return Diff{}, eris.Wrap(err, "release: encode snapshot")
	}
	if err := st.KVSet(ctx, SnapshotKey, string(snapJSON)); err != nil {
		return Diff{}, err
	}
	return diff, nil
}

// LastDiff returns the most recently stored diff, or nil when none exists
// or the stored value does not parse.
func LastDiff(ctx context.Context, st store.Store) (*Diff, error) {
	raw, err := st.KVGet(ctx, LastDiffKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var d Diff
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, nil
	}
	return &d, nil
}

// previousSnapshot is forgiving: a missing or corrupt snapshot means
// everything in the current crawl reads as added.
func previousSnapshot(ctx context.Context, st store.Store) []model.URLRecord {
	raw, err := st.KVGet(ctx, SnapshotKey)
	if err != nil || raw == "" {
		return nil
	}
	var rows []model.URLRecord
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil
	}
	return rows
}
