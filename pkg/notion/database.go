package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a Notion database, following the cursor
// until the API reports no more results. Pages are fetched one at a time.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{PageSize: 100}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		if filter.PageSize > 0 {
			req.PageSize = filter.PageSize
		}
	}

	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		next := *req
		next.StartCursor = resp.NextCursor
		req = &next
	}

	return all, nil
}

// CreateInDatabase creates one page in the given database.
func CreateInDatabase(ctx context.Context, c Client, dbID string, props notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	}
	page, err := c.CreatePage(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: create page in %s", dbID)
	}
	return page, nil
}
