package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gptworkdesk/workdesk/parser"
)

const (
	summaryLength = 300
	maxKeyPoints  = 5
	keyPointLen   = 150
)

// NewDocumentContext derives a DocumentContext from a processed document.
// The summary is the leading sentences up to 300 characters; key points
// are the section titles or, without sections, the sentences that follow
// the summary. An empty id is replaced with a random UUID.
func NewDocumentContext(id, fileName string, doc *parser.ProcessedDocument, uploadedAt time.Time) DocumentContext {
	if id == "" {
		id = uuid.NewString()
	}
	dc := DocumentContext{
		ID:         id,
		FileName:   fileName,
		UploadedAt: uploadedAt.UTC(),
		KeyPoints:  []string{},
	}
	if doc == nil {
		return dc
	}
	dc.Content = doc.Content

	sentences := splitSentences(doc.Content)
	var used int
	dc.Summary, used = summarize(sentences, summaryLength)

	for _, s := range doc.Sections {
		if len(dc.KeyPoints) == maxKeyPoints {
			break
		}
		if t := strings.TrimSpace(s.Title); t != "" {
			dc.KeyPoints = append(dc.KeyPoints, t)
		}
	}
	if len(dc.KeyPoints) == 0 {
		for _, s := range sentences[used:] {
			if len(dc.KeyPoints) == maxKeyPoints {
				break
			}
			dc.KeyPoints = append(dc.KeyPoints, truncate(s, keyPointLen))
		}
	}
	return dc
}

// summarize joins leading sentences while they fit in limit characters and
// reports how many it used. A first sentence longer than limit is cut.
func summarize(sentences []string, limit int) (string, int) {
	if len(sentences) == 0 {
		return "", 0
	}
	if utf8.RuneCountInString(sentences[0]) > limit {
		return truncate(sentences[0], limit), 1
	}
	var b strings.Builder
	n := 0
	for _, s := range sentences {
		add := utf8.RuneCountInString(s)
		if n > 0 {
			add++
		}
		if utf8.RuneCountInString(b.String())+add > limit {
			break
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
		n++
	}
	return b.String(), n
}

// splitSentences breaks text at ., ! or ? followed by whitespace, and at
// line breaks.
func splitSentences(text string) []string {
	var out []string
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			emit(i + 1)
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				emit(i + 1)
			}
		}
	}
	emit(len(text))
	return out
}

// truncate cuts s to at most n characters, ending in "..." when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
