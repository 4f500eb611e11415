package feishu

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFieldValue(t *testing.T) {
	cases := []struct {
		name   string
		uiType string
		value  any
		want   string
	}{
		{name: "nil", uiType: "Text", value: nil, want: ""},
		{name: "plain string", uiType: "Text", value: "hello", want: "hello"},
		{name: "number", uiType: "Number", value: float64(42.5), want: "42.5"},
		{name: "checkbox", uiType: "Checkbox", value: true, want: "true"},
		{name: "datetime millis", uiType: "DateTime", value: float64(1704067200000), want: "2024-01-01 00:00:00"},
		{
			name:   "rich text segments",
			uiType: "Text",
			value:  []any{map[string]any{"text": "a", "type": "text"}, map[string]any{"text": "b", "type": "text"}},
			want:   "a, b",
		},
		{
			name:   "users by name",
			uiType: "User",
			value:  []any{map[string]any{"name": "Ann"}, map[string]any{"full_name": "Bob B"}},
			want:   "Ann, Bob B",
		},
		{name: "multi select", uiType: "MultiSelect", value: []any{"x", "y"}, want: "x, y"},
		{name: "url object", uiType: "Url", value: map[string]any{"link": "https://e.x", "text": "site"}, want: "site"},
		{
			name:   "lookup value wrapper",
			uiType: "Lookup",
			value:  map[string]any{"type": 1, "value": []any{map[string]any{"text": "inner"}}},
			want:   "inner",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatFieldValue(tc.uiType, tc.value, time.UTC))
		})
	}
}

func TestParseEditTime(t *testing.T) {
	secs, ok := ParseEditTime("1704067200")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), secs)

	millis, ok := ParseEditTime(json.Number("1704067200123"))
	require.True(t, ok)
	assert.Equal(t, int64(1704067200123), millis.UnixMilli())

	rfc, ok := ParseEditTime("2024-01-01T10:00:00+02:00")
	require.True(t, ok)
	assert.Equal(t, 8, rfc.Hour())

	_, ok = ParseEditTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseEditTime(nil)
	assert.False(t, ok)
}

func TestSplitEmbedToken(t *testing.T) {
	parent, child, ok := SplitEmbedToken("shtcnAbc_x9Yz")
	require.True(t, ok)
	assert.Equal(t, "shtcnAbc", parent)
	assert.Equal(t, "x9Yz", child)

	for _, bad := range []string{"", "noseparator", "_leading", "trailing_"} {
		_, _, ok := SplitEmbedToken(bad)
		assert.False(t, ok, bad)
	}
}

func TestBlockTypeNameAndCodeLanguage(t *testing.T) {
	assert.Equal(t, "heading3", BlockTypeName(BlockTypeHeading1+2))
	assert.Equal(t, "table_cell", BlockTypeName(BlockTypeTableCell))
	assert.Equal(t, "block_77", BlockTypeName(77))

	assert.Equal(t, "go", CodeLanguage(22))
	assert.Equal(t, "", CodeLanguage(1))
	assert.Equal(t, "", CodeLanguage(4242))
}

func TestRawBlockDecodesNestedPayloads(t *testing.T) {
	raw := `{
		"block_id": "b1",
		"parent_id": "doc",
		"block_type": 13,
		"ordered": {
			"elements": [{"text_run": {"content": "step", "text_element_style": {"bold": true, "link": {"url": "https%3A%2F%2Fe.x"}}}}],
			"style": {"sequence": "3"}
		}
	}`
	var b RawBlock
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	require.NotNil(t, b.Ordered)
	require.Len(t, b.Ordered.Elements, 1)
	run := b.Ordered.Elements[0].TextRun
	require.NotNil(t, run)
	assert.True(t, run.Style.Bold)
	assert.Equal(t, "https%3A%2F%2Fe.x", run.Style.Link.URL)
	assert.Equal(t, "3", b.Ordered.Style.Sequence)
	assert.Nil(t, b.HeadingPayload(2))
}
