package feishuapi

import (
	"context"
	"net/url"
	"strings"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

func (c *Client) SpreadsheetTitle(ctx context.Context, token string) (string, error) {
	var data struct {
		Spreadsheet struct {
			Title string `json:"title"`
		} `json:"spreadsheet"`
	}
	if err := c.getJSON(ctx, "/sheets/v3/spreadsheets/"+segment(token), nil, &data); err != nil {
		return "", err
	}
	return data.Spreadsheet.Title, nil
}

// Sheets lists the worksheets of a spreadsheet in the order the API returns.
func (c *Client) Sheets(ctx context.Context, spreadsheetToken string) ([]feishudomain.SheetMeta, error) {
	var data struct {
		Sheets []feishudomain.SheetMeta `json:"sheets"`
	}
	if err := c.getJSON(ctx, "/sheets/v3/spreadsheets/"+segment(spreadsheetToken)+"/sheets/query", nil, &data); err != nil {
		return nil, err
	}
	return data.Sheets, nil
}

// SheetValues reads the used range of one worksheet. Trailing empty rows and
// columns are dropped.
func (c *Client) SheetValues(ctx context.Context, spreadsheetToken string, sheetID string) ([][]string, error) {
	query := url.Values{
		"valueRenderOption":    {"ToString"},
		"dateTimeRenderOption": {"FormattedString"},
	}
	var data struct {
		ValueRange struct {
			Values [][]any `json:"values"`
		} `json:"valueRange"`
	}
	p := "/sheets/v2/spreadsheets/" + segment(spreadsheetToken) + "/values/" + segment(sheetID)
	if err := c.getJSON(ctx, p, query, &data); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(data.ValueRange.Values))
	for _, raw := range data.ValueRange.Values {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = sheetCellText(v)
		}
		rows = append(rows, row)
	}
	return trimMatrix(rows), nil
}

// sheetCellText flattens a cell value. Rich cells arrive as a list of
// segments whose texts are concatenated; links keep their address when the
// segment has no text.
func sheetCellText(v any) string {
	segments, ok := v.([]any)
	if !ok {
		return feishudomain.FormatFieldValue("", v, nil)
	}
	var b strings.Builder
	for _, seg := range segments {
		m, ok := seg.(map[string]any)
		if !ok {
			b.WriteString(feishudomain.FormatFieldValue("", seg, nil))
			continue
		}
		if text, ok := m["text"].(string); ok && text != "" {
			b.WriteString(text)
			continue
		}
		if link, ok := m["link"].(string); ok {
			b.WriteString(link)
			continue
		}
		b.WriteString(feishudomain.FormatFieldValue("", m, nil))
	}
	return b.String()
}

// trimMatrix drops trailing empty rows, then trailing columns that are empty
// in every row, and pads short rows to the common width.
func trimMatrix(rows [][]string) [][]string {
	for len(rows) > 0 && rowEmpty(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	width := 0
	for _, row := range rows {
		for i := len(row) - 1; i >= 0; i-- {
			if strings.TrimSpace(row[i]) != "" {
				width = max(width, i+1)
				break
			}
		}
	}
	for i, row := range rows {
		if len(row) > width {
			row = row[:width]
		}
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
