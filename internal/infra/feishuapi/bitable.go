package feishuapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

const bitablePageSize = "100"

type bitableRecord struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

func (c *Client) BitableTitle(ctx context.Context, appToken string) (string, error) {
	var data struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
	}
	if err := c.getJSON(ctx, "/bitable/v1/apps/"+segment(appToken), nil, &data); err != nil {
		return "", err
	}
	return data.App.Name, nil
}

func (c *Client) BitableTables(ctx context.Context, appToken string) ([]feishudomain.BitableTable, error) {
	query := url.Values{"page_size": {bitablePageSize}}
	return listAll[feishudomain.BitableTable](ctx, c, "/bitable/v1/apps/"+segment(appToken)+"/tables", query)
}

func (c *Client) bitableFields(ctx context.Context, appToken, tableID, viewID string) ([]feishudomain.BitableField, error) {
	query := url.Values{"page_size": {bitablePageSize}}
	if viewID != "" {
		query.Set("view_id", viewID)
	}
	p := "/bitable/v1/apps/" + segment(appToken) + "/tables/" + segment(tableID) + "/fields"
	return listAll[feishudomain.BitableField](ctx, c, p, query)
}

// recordSearch is the records/search body. A view limits and orders the
// records the way the view shows them.
type recordSearch struct {
	ViewID string `json:"view_id,omitempty"`
}

func (c *Client) bitableRecords(ctx context.Context, appToken, tableID, viewID string) ([]bitableRecord, error) {
	p := "/bitable/v1/apps/" + segment(appToken) + "/tables/" + segment(tableID) + "/records/search"
	query := url.Values{
		"page_size":    {bitablePageSize},
		"user_id_type": {"user_id"},
	}

	var out []bitableRecord
	seen := make(map[string]struct{})
	for {
		var page listPage[bitableRecord]
		if err := c.doJSON(ctx, http.MethodPost, p, query, recordSearch{ViewID: viewID}, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore || page.PageToken == "" {
			return out, nil
		}
		if _, repeated := seen[page.PageToken]; repeated {
			return nil, fmt.Errorf("search %s: page_token %q repeated", p, page.PageToken)
		}
		seen[page.PageToken] = struct{}{}
		query = cloneQuery(query)
		query.Set("page_token", page.PageToken)
	}
}

// BitableRows returns the table as a matrix whose first row holds the field
// names in field order. Record values are rendered with FormatFieldValue.
// A non-empty viewID restricts fields and records to that view.
func (c *Client) BitableRows(ctx context.Context, appToken string, tableID string, viewID string) ([][]string, error) {
	fields, err := c.bitableFields(ctx, appToken, tableID, viewID)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("bitable %s/%s has no fields", appToken, tableID)
	}
	records, err := c.bitableRecords(ctx, appToken, tableID, viewID)
	if err != nil {
		return nil, err
	}

	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.FieldName
	}
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, header)
	for _, rec := range records {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = feishudomain.FormatFieldValue(f.UIType, rec.Fields[f.FieldName], c.location)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
