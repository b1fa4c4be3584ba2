package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gptworkdesk/workdesk/parser"
	"github.com/gptworkdesk/workdesk/store"
)

// Defaults match the options the ingestion callers pass to the embedder.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Config controls the chunking behaviour. Sizes are in bytes of the
// normalized text, which is plain ASCII unless Unicode is kept.
type Config struct {
	ChunkSize int // Maximum bytes per window.
	Overlap   int // Bytes shared by consecutive windows.
}

// Window is one slice of the source text. Content is always
// text[Start:End].
type Window struct {
	Content string
	Start   int
	End     int
}

// Chunker splits document text into overlapping windows.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with the defaults and a negative Overlap
// disables overlap. An overlap that would not leave room for progress is
// clamped to a fifth of the chunk size.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	switch {
	case cfg.Overlap == 0:
		cfg.Overlap = DefaultOverlap
	case cfg.Overlap < 0:
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 5
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk splits text into windows of at most ChunkSize bytes. A window ends
// on the last paragraph break, sentence end or space in its second half
// when there is one; the next window starts Overlap bytes before that end,
// moved forward to a word start. Windows never start inside whitespace.
func (c *Chunker) Chunk(text string) []Window {
	var windows []Window
	start := 0
	for {
		start = skipSpace(text, start)
		if start >= len(text) {
			break
		}

		end := start + c.cfg.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.boundary(text, start, end)
		}

		trimmed := strings.TrimRightFunc(text[start:end], isSpace)
		if trimmed != "" {
			windows = append(windows, Window{
				Content: trimmed,
				Start:   start,
				End:     start + len(trimmed),
			})
		}
		if end >= len(text) {
			break
		}

		next := wordStart(text, end-c.cfg.Overlap, end)
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// boundary picks the cut point for a window spanning text[start:limit].
func (c *Chunker) boundary(text string, start, limit int) int {
	half := start + (limit-start)/2
	region := text[half:limit]

	if i := strings.LastIndex(region, "\n\n"); i >= 0 {
		return half + i + 2
	}
	if i := lastSentenceEnd(region); i >= 0 {
		return half + i
	}
	if i := strings.LastIndexAny(region, " \n"); i >= 0 {
		return half + i + 1
	}
	// No boundary: hard cut, kept on a rune boundary.
	for limit > start+1 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}

// lastSentenceEnd returns the offset just past the last ". ", "? " or "! "
// (or the same followed by a newline) in s, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		switch s[i] {
		case '.', '?', '!':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}

// wordStart moves pos forward to the first byte of a word, staying below
// limit. If no word starts before limit, pos is only aligned to a rune.
func wordStart(text string, pos, limit int) int {
	if pos <= 0 {
		return 0
	}
	for pos < limit && !utf8.RuneStart(text[pos]) {
		pos++
	}
	if isSpace(rune(text[pos-1])) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if isSpace(rune(text[i])) {
			return skipSpace(text, i)
		}
	}
	return pos
}

func skipSpace(text string, i int) int {
	for i < len(text) && isSpace(rune(text[i])) {
		i++
	}
	return i
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f'
}

// ToStoreChunks converts windows into store-ready chunks for docID. Each
// chunk takes the title of the section containing its start offset as its
// heading. Sections must be sorted by StartIndex, as the splitter returns
// them.
func (c *Chunker) ToStoreChunks(docID int64, windows []Window, sections []parser.Section) []store.Chunk {
	chunks := make([]store.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, store.Chunk{
			DocumentID:  docID,
			Content:     w.Content,
			ChunkType:   ContentType(w.Content),
			Heading:     headingAt(sections, w.Start),
			ChunkIndex:  i,
			StartOffset: w.Start,
			EndOffset:   w.End,
			TokenCount:  estimateTokens(w.Content),
			ContentHash: contentHash(w.Content),
		})
	}
	return chunks
}

// headingAt returns the title of the section that contains offset.
func headingAt(sections []parser.Section, offset int) string {
	i := sort.Search(len(sections), func(i int) bool {
		return sections[i].StartIndex > offset
	})
	if i == 0 {
		return ""
	}
	if s := sections[i-1]; offset < s.EndIndex {
		return s.Title
	}
	return ""
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
