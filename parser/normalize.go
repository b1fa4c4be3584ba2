package parser

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRun     = regexp.MustCompile(` {2,}`)
	spaceNewline = regexp.MustCompile(` *\n *`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extracted text: line endings become LF, runs of three or
// more newlines collapse to one blank line, other whitespace runs collapse
// to a single space, and everything outside printable ASCII and newline is
// dropped. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	return normalize(text, false)
}

// NormalizeUnicode is Normalize but keeps printable non-ASCII characters.
func NormalizeUnicode(text string) string {
	return normalize(text, true)
}

func normalize(text string, keepUnicode bool) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Characters are filtered before whitespace is collapsed, otherwise a
	// dropped rune between two spaces would leave a run behind and break
	// idempotence.
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case unicode.IsSpace(r):
			return ' '
		case r >= 0x20 && r <= 0x7e:
			return r
		case keepUnicode && unicode.IsPrint(r):
			return r
		}
		return -1
	}, text)

	text = spaceRun.ReplaceAllString(text, " ")
	text = spaceNewline.ReplaceAllString(text, "\n")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
