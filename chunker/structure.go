package chunker

import (
	"regexp"
	"strings"
)

// Chunk kinds recorded in store.Chunk.ChunkType.
const (
	KindTable     = "table"
	KindKeyValue  = "keyvalue"
	KindParagraph = "paragraph"
)

var (
	// Rendered CSV rows and spreadsheet sheet markers.
	csvRowLine   = regexp.MustCompile(`^(?:Headers|Row \d+): `)
	sheetMarker  = regexp.MustCompile(`^=== Sheet: .+ ===$`)
	keyValueLine = regexp.MustCompile(`^(?:Item \d+|[A-Za-z_][\w .-]{0,40}):(?: \S|$)`)
)

// ContentType classifies a chunk by its structural cues: tabular output
// from the spreadsheet and CSV extractors, indented key/value lines from
// the JSON extractor, or prose.
func ContentType(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return KindParagraph
	}
	if looksLikeTable(trimmed) {
		return KindTable
	}
	if looksLikeKeyValue(trimmed) {
		return KindKeyValue
	}
	return KindParagraph
}

// looksLikeTable returns true when text appears to contain a table.
func looksLikeTable(text string) bool {
	lines := strings.Split(text, "\n")

	rows := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if sheetMarker.MatchString(l) {
			return true
		}
		if csvRowLine.MatchString(l) {
			rows++
		}
	}
	if rows >= 2 && rows*2 >= len(lines) {
		return true
	}

	// Markdown-style tables: at least 3 lines, pipe characters in most.
	if len(lines) >= 3 {
		pipeCount := 0
		for _, l := range lines {
			if strings.Contains(l, "|") {
				pipeCount++
			}
		}
		if pipeCount*2 >= len(lines) {
			return true
		}
	}

	// Separator rows.
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if len(trimmed) > 3 && (allChar(trimmed, '-') || allChar(trimmed, '=')) {
			return true
		}
	}
	return false
}

// looksLikeKeyValue reports whether most lines are "key: value" pairs.
func looksLikeKeyValue(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return false
	}
	n := 0
	for _, l := range lines {
		if keyValueLine.MatchString(strings.TrimSpace(l)) {
			n++
		}
	}
	return n*3 >= len(lines)*2
}

// allChar reports whether every character in s is c.
func allChar(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return len(s) > 0
}
