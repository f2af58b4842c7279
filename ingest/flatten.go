package ingest

import (
	"strings"

	"github.com/tidwall/gjson"
)

// flattenJSON renders a JSON value as "key: value" lines so tool
// arguments become searchable text. Strings that hold JSON are expanded.
func flattenJSON(v gjson.Result) string {
	var b strings.Builder
	flattenInto(&b, "", v)
	return strings.TrimSpace(b.String())
}

func flattenInto(b *strings.Builder, key string, v gjson.Result) {
	switch {
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			flattenInto(b, k.String(), child)
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, child gjson.Result) bool {
			flattenInto(b, key, child)
			return true
		})
	case v.Type == gjson.String:
		s := v.String()
		if t := strings.TrimSpace(s); (strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")) && gjson.Valid(t) {
			flattenInto(b, key, gjson.Parse(t))
			return
		}
		writeField(b, key, s)
	case v.Type == gjson.Null || !v.Exists():
	default:
		writeField(b, key, v.Raw)
	}
}

func writeField(b *strings.Builder, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	if key != "" {
		b.WriteString(key)
		b.WriteString(": ")
	}
	b.WriteString(value)
}

// contentText joins the text of a message content value, which is either
// a plain string or an array of typed blocks.
func contentText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var parts []string
	v.ForEach(func(_, block gjson.Result) bool {
		switch {
		case block.Type == gjson.String:
			parts = append(parts, block.String())
		case block.Get("text").Exists():
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}
