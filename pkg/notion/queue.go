package notion

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

// SyncResult reports what a queue sync changed.
type SyncResult struct {
	Created int
	Updated int
	Skipped int
}

// SyncQueue mirrors triage rows into a Notion database, keyed by
// document URL. Pages that already exist are refreshed in place so
// anything reviewers added to them survives; rows without a URL are
// skipped. All writes go through the rate-limited Client.
func SyncQueue(ctx context.Context, c Client, dbID string, rows []model.TriageRow) (SyncResult, error) {
	var res SyncResult

	existing, err := QueryAll(ctx, c, dbID, nil)
	if err != nil {
		return res, eris.Wrap(err, "notion: list queue pages")
	}
	pageByURL := make(map[string]string, len(existing))
	for _, p := range existing {
		if u := pageURL(p); u != "" {
			pageByURL[u] = string(p.ID)
		}
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: queue sync cancelled")
		}

		u := strings.TrimSpace(row.URL)
		if u == "" {
			res.Skipped++
			continue
		}

		props := buildQueueProperties(row)
		if pageID, ok := pageByURL[u]; ok {
			req := &notionapi.PageUpdateRequest{Properties: props}
			if _, err := c.UpdatePage(ctx, pageID, req); err != nil {
				return res, eris.Wrap(err, "notion: update queue page")
			}
			res.Updated++
			continue
		}

		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: props,
		}
		if _, err := c.CreatePage(ctx, req); err != nil {
			return res, eris.Wrap(err, "notion: create queue page")
		}
		res.Created++
	}

	return res, nil
}

// buildQueueProperties converts one triage row to Notion page properties.
// Unscored documents leave the numeric columns unset rather than writing
// zeros that would sort above genuinely negative scores.
func buildQueueProperties(row model.TriageRow) notionapi.Properties {
	props := make(notionapi.Properties)

	props["Name"] = notionapi.TitleProperty{
		Type: notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: displayTitle(row)}},
		},
	}
	props["URL"] = notionapi.URLProperty{
		Type: notionapi.PropertyTypeURL,
		URL:  strings.TrimSpace(row.URL),
	}

	status := string(row.ReviewStatus)
	if status == "" {
		status = string(model.ReviewNew)
	}
	props["Status"] = notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: status},
	}

	props["Matches"] = notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: float64(row.MatchCount),
	}
	if row.RelevanceScore != nil {
		props["Relevance"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: *row.RelevanceScore,
		}
	}
	if row.TopicSim != nil {
		props["Topic Similarity"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: *row.TopicSim,
		}
	}

	if p := strings.TrimSpace(row.LocalPath); p != "" {
		props["Local Path"] = notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: p}},
			},
		}
	}

	return props
}

// displayTitle falls back to the stored filename, then the URL, so every
// page gets a non-empty title.
func displayTitle(row model.TriageRow) string {
	if t := strings.TrimSpace(row.Title); t != "" {
		return t
	}
	if p := strings.TrimSpace(row.LocalPath); p != "" {
		return filepath.Base(p)
	}
	return strings.TrimSpace(row.URL)
}

// pageURL pulls the URL property off a fetched page. API responses
// decode properties as pointers while requests build values, so both
// shapes are handled.
func pageURL(p notionapi.Page) string {
	prop, ok := p.Properties["URL"]
	if !ok {
		return ""
	}
	switch v := prop.(type) {
	case *notionapi.URLProperty:
		return strings.TrimSpace(v.URL)
	case notionapi.URLProperty:
		return strings.TrimSpace(v.URL)
	}
	return ""
}
