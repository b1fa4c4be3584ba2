package retrieval

import (
	"strings"
)

var ftsSpecial = strings.NewReplacer(
	"\"", " ", "*", " ", "(", " ", ")", " ",
	"+", " ", "-", " ", "^", " ", ":", " ",
	"?", " ", "[", " ", "]", " ", "{", " ",
	"}", " ", "!", " ", ".", " ", ",", " ",
	";", " ",
)

// sanitizeFTSQuery strips FTS5 syntax characters and builds an OR query of
// the full phrase plus each significant word. Every term is quoted so bare
// words such as NOT or NEAR are never read as operators. Returns "" when
// nothing searchable remains.
func sanitizeFTSQuery(query string) string {
	words := strings.Fields(ftsSpecial.Replace(query))
	if len(words) == 0 {
		return ""
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, quote(strings.Join(words, " ")))
	}
	seen := make(map[string]bool)
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !isStopWord(lower) && !seen[lower] {
			seen[lower] = true
			parts = append(parts, quote(w))
		}
	}

	if len(parts) == 0 {
		// Only short or stop words: search them as-is.
		for _, w := range words {
			parts = append(parts, quote(w))
		}
	}
	return strings.Join(parts, " OR ")
}

func quote(s string) string {
	return "\"" + s + "\""
}

// isListQuery returns true if the query asks for every item of something.
// Such queries benefit from a wider retrieval window because matching facts
// are spread over many chunks.
func isListQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, p := range []string{
		"all the", "all of the", "every ", "each of",
		"complete list", "list all", "full list", "enumerate",
	} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
