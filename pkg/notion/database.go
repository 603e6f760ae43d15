package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

type pageResult struct {
	resp *notionapi.DatabaseQueryResponse
	err  error
}

// fetchPage runs one database query in the background and delivers the
// result on the returned channel. The Client's limiter still paces the
// actual request.
func fetchPage(ctx context.Context, c Client, dbID string, req *notionapi.DatabaseQueryRequest) <-chan pageResult {
	ch := make(chan pageResult, 1)
	go func() {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		ch <- pageResult{resp: resp, err: err}
	}()
	return ch
}

// queryFrom builds the request for one page of results, carrying the
// caller's filter, sorts, and page size to every request in the walk.
func queryFrom(filter *notionapi.DatabaseQueryRequest, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	return req
}

// QueryAll walks a database's pagination cursors and returns every page.
// Each next request is dispatched before the previous batch is appended,
// keeping one request in flight throughout the walk.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	pending := fetchPage(ctx, c, dbID, queryFrom(filter, ""))
	for {
		got := <-pending
		if got.err != nil {
			return nil, eris.Wrap(got.err, "notion: query all page")
		}
		if got.resp.HasMore {
			pending = fetchPage(ctx, c, dbID, queryFrom(filter, got.resp.NextCursor))
		}

		all = append(all, got.resp.Results...)
		if !got.resp.HasMore {
			return all, nil
		}
	}
}
