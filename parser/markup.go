package parser

import (
	"context"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	htmlTitle   = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title\s*>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	wsRun       = regexp.MustCompile(`\s+`)
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// stripPolicy returns a shared bluemonday policy that removes every element.
func stripPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// HTMLExtractor drops script and style blocks, then every remaining tag.
type HTMLExtractor struct{}

func (e *HTMLExtractor) SupportedFormats() []Format { return []Format{FormatHTML} }

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	src := decodeUTF8(data)
	out := &Extraction{Metadata: map[string]any{}}
	if m := htmlTitle.FindStringSubmatch(src); m != nil {
		out.Title = collapseSpaces(html.UnescapeString(anyTag.ReplaceAllString(m[1], "")))
	}

	src = scriptBlock.ReplaceAllString(src, " ")
	src = styleBlock.ReplaceAllString(src, " ")
	// Tags are replaced with a space first so adjacent block elements do
	// not glue their words together.
	src = anyTag.ReplaceAllStringFunc(src, func(tag string) string {
		return " " + tag
	})
	text := stripPolicy().Sanitize(src)
	out.Content = collapseSpaces(html.UnescapeString(text))
	return out, nil
}

// XMLExtractor strips every tag. CDATA sections and entities are left as-is.
type XMLExtractor struct{}

func (e *XMLExtractor) SupportedFormats() []Format { return []Format{FormatXML} }

func (e *XMLExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	text := anyTag.ReplaceAllString(decodeUTF8(data), " ")
	return &Extraction{
		Content:  collapseSpaces(text),
		Metadata: map[string]any{},
	}, nil
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(wsRun.ReplaceAllString(s, " "))
}
