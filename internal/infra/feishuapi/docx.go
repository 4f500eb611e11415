package feishuapi

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sleroq/feishu-to-markdown/internal/app/exporter"
	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

var _ exporter.Source = (*Client)(nil)

const blockPageSize = 500

// FetchBlockPage reads one page of the latest revision's blocks.
func (c *Client) FetchBlockPage(ctx context.Context, docID string, cursor string) (exporter.BlockPage, error) {
	query := url.Values{
		"page_size":            {strconv.Itoa(blockPageSize)},
		"document_revision_id": {"-1"},
	}
	if cursor != "" {
		query.Set("page_token", cursor)
	}

	var page listPage[feishudomain.RawBlock]
	if err := c.getJSON(ctx, "/docx/v1/documents/"+segment(docID)+"/blocks", query, &page); err != nil {
		return exporter.BlockPage{}, err
	}
	return exporter.BlockPage{
		Items:      page.Items,
		NextCursor: page.PageToken,
		HasMore:    page.HasMore,
	}, nil
}

func (c *Client) DocumentInfo(ctx context.Context, docID string) (feishudomain.DocumentInfo, error) {
	var data struct {
		Document feishudomain.DocumentInfo `json:"document"`
	}
	if err := c.getJSON(ctx, "/docx/v1/documents/"+segment(docID), nil, &data); err != nil {
		return feishudomain.DocumentInfo{}, err
	}
	return data.Document, nil
}
