package parser

import "context"

// UnsupportedExtractor rejects a format that is recognized but deliberately
// not extracted: legacy Word, RTF and presentations.
type UnsupportedExtractor struct {
	Format Format
}

func (e *UnsupportedExtractor) SupportedFormats() []Format { return []Format{e.Format} }

func (e *UnsupportedExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	return nil, &UnsupportedFormatError{Format: e.Format, Hint: unsupportedHints[e.Format]}
}

var unsupportedHints = map[Format]string{
	FormatDOC:  "Legacy .doc files are not supported. Please convert the document to .docx and upload it again",
	FormatRTF:  "RTF files are not supported. Please convert the document to .docx or .txt",
	FormatPPTX: "PowerPoint files are not supported. Please export the presentation to PDF",
	FormatPPT:  "Legacy .ppt files are not supported. Please export the presentation to PDF",
}
