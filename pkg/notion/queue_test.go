package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

func queueRow(title, url string) model.TriageRow {
	return model.TriageRow{
		DocID:      1,
		URL:        url,
		Title:      title,
		LocalPath:  "/out/cache/triaged/doc.pdf",
		MatchCount: 2,
	}
}

func emptyQueue(mc *MockClient, ctx context.Context, dbID string) {
	mc.On("QueryDatabase", ctx, dbID, mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{}, HasMore: false}, nil).Once()
}

// --- Queue sync ---

func TestSyncQueue_CreatesMissingPages(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	emptyQueue(mc, ctx, "db-1")
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "new"}, nil).Times(2)

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Flight Manifest", "https://example.gov/a.pdf"),
		queueRow("Deposition", "https://example.gov/b.pdf"),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)
	mc.AssertExpectations(t)
}

func TestSyncQueue_UpdatesExistingPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	// API responses decode properties as pointers.
	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				{
					ID: "page-a",
					Properties: notionapi.Properties{
						"URL": &notionapi.URLProperty{
							Type: notionapi.PropertyTypeURL,
							URL:  "https://example.gov/a.pdf",
						},
					},
				},
			},
			HasMore: false,
		}, nil).Once()

	mc.On("UpdatePage", ctx, "page-a", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "page-a"}, nil).Once()
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "new"}, nil).Once()

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Flight Manifest", "https://example.gov/a.pdf"),
		queueRow("Deposition", "https://example.gov/b.pdf"),
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	mc.AssertExpectations(t)
}

func TestSyncQueue_SkipsRowsWithoutURL(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	emptyQueue(mc, ctx, "db-1")
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "new"}, nil).Once()

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("No URL", "  "),
		queueRow("Deposition", "https://example.gov/b.pdf"),
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	mc.AssertExpectations(t)
}

func TestSyncQueue_PageProperties(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	relevance := 0.8125
	topicSim := 0.5
	row := model.TriageRow{
		DocID:          42,
		URL:            "https://example.gov/manifest.pdf",
		Title:          "Flight Manifest",
		LocalPath:      "/out/cache/triaged/manifest.pdf",
		MatchCount:     3,
		RelevanceScore: &relevance,
		TopicSim:       &topicSim,
		ReviewStatus:   model.ReviewHighValue,
	}

	var captured *notionapi.PageCreateRequest
	emptyQueue(mc, ctx, "db-1")
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "new"}, nil).Once()

	_, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{row})
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, notionapi.DatabaseID("db-1"), captured.Parent.DatabaseID)

	tp, ok := captured.Properties["Name"].(notionapi.TitleProperty)
	require.True(t, ok)
	require.Len(t, tp.Title, 1)
	assert.Equal(t, "Flight Manifest", tp.Title[0].Text.Content)

	up, ok := captured.Properties["URL"].(notionapi.URLProperty)
	require.True(t, ok)
	assert.Equal(t, "https://example.gov/manifest.pdf", up.URL)

	sp, ok := captured.Properties["Status"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "high_value", sp.Select.Name)

	np, ok := captured.Properties["Relevance"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 0.8125, np.Number, 1e-9)

	tsp, ok := captured.Properties["Topic Similarity"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 0.5, tsp.Number, 1e-9)

	mp, ok := captured.Properties["Matches"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 3, mp.Number, 1e-9)

	lp, ok := captured.Properties["Local Path"].(notionapi.RichTextProperty)
	require.True(t, ok)
	require.Len(t, lp.RichText, 1)
	assert.Equal(t, "/out/cache/triaged/manifest.pdf", lp.RichText[0].Text.Content)

	mc.AssertExpectations(t)
}

func TestSyncQueue_UnscoredRowsOmitMetricColumns(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	var captured *notionapi.PageCreateRequest
	emptyQueue(mc, ctx, "db-1")
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "new"}, nil).Once()

	_, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Raw Capture", "https://example.gov/raw.pdf"),
	})
	require.NoError(t, err)
	require.NotNil(t, captured)

	_, hasRelevance := captured.Properties["Relevance"]
	_, hasTopicSim := captured.Properties["Topic Similarity"]
	assert.False(t, hasRelevance)
	assert.False(t, hasTopicSim)

	sp, ok := captured.Properties["Status"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "new", sp.Select.Name)

	mc.AssertExpectations(t)
}

func TestSyncQueue_QueryError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Doc", "https://example.gov/a.pdf"),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion: list queue pages")
	assert.Equal(t, 0, res.Created)
	mc.AssertExpectations(t)
}

func TestSyncQueue_CreateError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	emptyQueue(mc, ctx, "db-1")
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError).Once()

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Doc", "https://example.gov/a.pdf"),
		queueRow("Never Reached", "https://example.gov/b.pdf"),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, res.Created)
	mc.AssertExpectations(t)
}

func TestSyncQueue_UpdateError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				{
					ID: "page-a",
					Properties: notionapi.Properties{
						"URL": &notionapi.URLProperty{URL: "https://example.gov/a.pdf"},
					},
				},
			},
			HasMore: false,
		}, nil).Once()
	mc.On("UpdatePage", ctx, "page-a", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(nil, assert.AnError).Once()

	res, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Doc", "https://example.gov/a.pdf"),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, res.Updated)
	mc.AssertExpectations(t)
}

func TestSyncQueue_ContextCancelled(t *testing.T) {
	mc := new(MockClient)
	ctx, cancel := context.WithCancel(context.Background())

	emptyQueue(mc, ctx, "db-1")
	cancel()

	_, err := SyncQueue(ctx, mc, "db-1", []model.TriageRow{
		queueRow("Doc", "https://example.gov/a.pdf"),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	mc.AssertExpectations(t)
}

// --- Property helpers ---

func TestDisplayTitle_Fallbacks(t *testing.T) {
	withTitle := queueRow("Flight Manifest", "https://example.gov/a.pdf")
	assert.Equal(t, "Flight Manifest", displayTitle(withTitle))

	noTitle := queueRow("  ", "https://example.gov/a.pdf")
	assert.Equal(t, "doc.pdf", displayTitle(noTitle))

	bare := model.TriageRow{URL: "https://example.gov/a.pdf"}
	assert.Equal(t, "https://example.gov/a.pdf", displayTitle(bare))
}

func TestPageURL_Shapes(t *testing.T) {
	ptrPage := notionapi.Page{Properties: notionapi.Properties{
		"URL": &notionapi.URLProperty{URL: " https://example.gov/a.pdf "},
	}}
	assert.Equal(t, "https://example.gov/a.pdf", pageURL(ptrPage))

	valPage := notionapi.Page{Properties: notionapi.Properties{
		"URL": notionapi.URLProperty{URL: "https://example.gov/b.pdf"},
	}}
	assert.Equal(t, "https://example.gov/b.pdf", pageURL(valPage))

	missing := notionapi.Page{Properties: notionapi.Properties{}}
	assert.Equal(t, "", pageURL(missing))
}
