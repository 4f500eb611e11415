package feishu

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const fieldDateTimeLayout = "2006-01-02 15:04:05"

// FormatFieldValue converts a bitable record cell into display text.
// DateTime fields hold epoch milliseconds; list and object values are reduced
// to their text, name, url or full_name members.
func FormatFieldValue(uiType string, value any, loc *time.Location) string {
	if value == nil {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}

	if uiType == "DateTime" || uiType == "CreatedTime" || uiType == "ModifiedTime" {
		if ts, ok := ParseEditTime(value); ok {
			return ts.In(loc).Format(fieldDateTimeLayout)
		}
	}

	switch t := value.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case []any:
		return joinFieldItems(t)
	case map[string]any:
		if s, ok := fieldItemText(t); ok {
			return s
		}
		if inner, ok := t["value"].([]any); ok {
			return joinFieldItems(inner)
		}
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func joinFieldItems(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if s, ok := fieldItemText(v); ok {
				parts = append(parts, s)
				continue
			}
			b, _ := json.Marshal(v)
			parts = append(parts, string(b))
		case string:
			parts = append(parts, v)
		case float64:
			parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			b, _ := json.Marshal(v)
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, ", ")
}

func fieldItemText(m map[string]any) (string, bool) {
	for _, key := range []string{"text", "name", "url", "full_name"} {
		if s, ok := m[key].(string); ok {
			return s, true
		}
	}
	return "", false
}

// ParseEditTime parses the timestamps the open API hands out: epoch seconds or
// milliseconds as numbers or numeric strings, and RFC 3339 strings.
func ParseEditTime(value any) (time.Time, bool) {
	toTime := func(v int64) time.Time {
		if v > 1_000_000_000_000 || v < -1_000_000_000_000 {
			return time.UnixMilli(v).UTC()
		}
		return time.Unix(v, 0).UTC()
	}

	switch t := value.(type) {
	case float64:
		return toTime(int64(t)), true
	case int:
		return toTime(int64(t)), true
	case int64:
		return toTime(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return toTime(i), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return toTime(i), true
		}
		if tm, err := time.Parse(time.RFC3339, s); err == nil {
			return tm.UTC(), true
		}
	}
	return time.Time{}, false
}

// SplitEmbedToken splits the "<parent>_<child>" tokens used by sheet and
// bitable blocks, e.g. "shtcnXXX_a1b2c3" into spreadsheet and sheet id.
func SplitEmbedToken(token string) (string, string, bool) {
	idx := strings.LastIndex(token, "_")
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
