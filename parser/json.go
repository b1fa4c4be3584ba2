package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// JSONExtractor renders a JSON document as indented "key: value" lines.
// Keys keep their order from the source document.
type JSONExtractor struct{}

func (e *JSONExtractor) SupportedFormats() []Format { return []Format{FormatJSON} }

func (e *JSONExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !gjson.ValidBytes(data) {
		return nil, extractionErr(FormatJSON, "invalid JSON")
	}

	root := gjson.ParseBytes(data)
	var b strings.Builder
	renderJSON(&b, root, 0)

	meta := map[string]any{"rootType": jsonKind(root)}
	if root.IsArray() {
		meta["items"] = len(root.Array())
	}
	return &Extraction{
		Content:  strings.TrimRight(b.String(), "\n"),
		Metadata: meta,
	}, nil
}

func renderJSON(b *strings.Builder, v gjson.Result, depth int) {
	indent := strings.Repeat("  ", depth)
	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				fmt.Fprintf(b, "%s%s:\n", indent, key.String())
				renderJSON(b, value, depth+1)
			} else {
				fmt.Fprintf(b, "%s%s: %s\n", indent, key.String(), scalarString(value))
			}
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, value gjson.Result) bool {
			i++
			if value.IsObject() || value.IsArray() {
				fmt.Fprintf(b, "%sItem %d:\n", indent, i)
				renderJSON(b, value, depth+1)
			} else {
				fmt.Fprintf(b, "%sItem %d: %s\n", indent, i, scalarString(value))
			}
			return true
		})
	default:
		fmt.Fprintf(b, "%s%s\n", indent, scalarString(v))
	}
}

func scalarString(v gjson.Result) string {
	if v.Type == gjson.Null {
		return "null"
	}
	if v.Type == gjson.Number {
		return v.Raw
	}
	return v.String()
}

func jsonKind(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	}
	return strings.ToLower(v.Type.String())
}
