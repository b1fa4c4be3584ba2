package parser

import (
	"context"
	"time"
)

// ProcessedDocument is what the processor produces from an uploaded file.
type ProcessedDocument struct {
	Content  string    `json:"content"` // Normalized plain text
	Metadata Metadata  `json:"metadata"`
	Sections []Section `json:"sections,omitempty"`
}

// Metadata holds extraction statistics. WordCount and CharCount are always
// computed; the optional fields are set only when the source format exposes them.
type Metadata struct {
	PageCount   *int           `json:"pageCount,omitempty"`
	WordCount   int            `json:"wordCount"`
	CharCount   int            `json:"charCount"`
	FileType    string         `json:"fileType"`
	ExtractedAt time.Time      `json:"extractedAt"`
	Language    string         `json:"language,omitempty"`
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"` // Format-specific fields
}

// Section is a heuristically detected titled span of the document text.
// StartIndex and EndIndex are byte offsets into the split text.
type Section struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

// Extraction is the raw output of a single format extractor, before
// normalization.
type Extraction struct {
	Content   string
	Title     string
	Author    string
	PageCount *int
	Metadata  map[string]any
}

// Extractor turns the bytes of one document format into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Extraction, error)
	SupportedFormats() []Format
}

func intPtr(n int) *int { return &n }
