package parser

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// TextExtractor handles plain text (.txt) files.
type TextExtractor struct{}

func (e *TextExtractor) SupportedFormats() []Format { return []Format{FormatTXT} }

func (e *TextExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	return &Extraction{
		Content:  decodeUTF8(data),
		Metadata: map[string]any{},
	}, nil
}

// MarkdownExtractor reads Markdown as text and strips the markup.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) SupportedFormats() []Format { return []Format{FormatMarkdown} }

func (e *MarkdownExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	raw := decodeUTF8(data)
	out := &Extraction{
		Content:  StripMarkdown(raw),
		Metadata: map[string]any{},
	}
	if m := mdFirstHeading.FindStringSubmatch(raw); m != nil {
		out.Title = strings.TrimSpace(m[1])
	}
	return out, nil
}

// decodeUTF8 drops a leading BOM and replaces invalid sequences.
func decodeUTF8(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

var (
	mdFirstHeading = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	mdCodeFence    = regexp.MustCompile("(?m)^\\s*(```|~~~)[^\\n]*$\\n?")
	mdHeading      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdImage        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink         = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdBold         = regexp.MustCompile(`\*\*([^*\n]+)\*\*|\b__([^_\n]+)__\b`)
	mdItalic       = regexp.MustCompile(`\*([^*\n]+)\*|\b_([^_\n]+)_\b`)
	mdInlineCode   = regexp.MustCompile("`([^`]*)`")
	mdListMarker   = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+\.)[ \t]+`)
	mdBlockquote   = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
)

// StripMarkdown removes heading markers, emphasis, code fences and inline
// code, links and images (keeping their text), list markers and blockquote
// markers.
func StripMarkdown(s string) string {
	s = mdCodeFence.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdBlockquote.ReplaceAllString(s, "")
	s = mdListMarker.ReplaceAllString(s, "")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdBold.ReplaceAllString(s, "$1$2")
	s = mdItalic.ReplaceAllString(s, "$1$2")
	return strings.TrimSpace(s)
}
