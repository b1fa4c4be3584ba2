package parser

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

// Format is a document kind recognized by the detector.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatDOC      Format = "doc"
	FormatXLSX     Format = "xlsx"
	FormatXLS      Format = "xls"
	FormatCSV      Format = "csv"
	FormatTXT      Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatXML      Format = "xml"
	FormatRTF      Format = "rtf"
	FormatPPTX     Format = "pptx"
	FormatPPT      Format = "ppt"
	FormatUnknown  Format = "unknown"
)

var extensionFormats = map[string]Format{
	"pdf":      FormatPDF,
	"docx":     FormatDOCX,
	"doc":      FormatDOC,
	"xlsx":     FormatXLSX,
	"xls":      FormatXLS,
	"csv":      FormatCSV,
	"txt":      FormatTXT,
	"md":       FormatMarkdown,
	"markdown": FormatMarkdown,
	"html":     FormatHTML,
	"htm":      FormatHTML,
	"json":     FormatJSON,
	"xml":      FormatXML,
	"rtf":      FormatRTF,
	"pptx":     FormatPPTX,
	"ppt":      FormatPPT,
}

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/msword": FormatDOC,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
	"application/vnd.ms-excel": FormatXLS,
	"text/csv":                 FormatCSV,
	"text/plain":               FormatTXT,
	"text/markdown":            FormatMarkdown,
	"text/html":                FormatHTML,
	"application/json":         FormatJSON,
	"application/xml":          FormatXML,
	"text/xml":                 FormatXML,
	"application/rtf":          FormatRTF,
	"text/rtf":                 FormatRTF,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.ms-powerpoint": FormatPPT,
}

// Detect maps a file name to a format using its lowercase extension.
// mimeType is accepted but the extension always wins; unknown extensions
// map to FormatUnknown.
func Detect(fileName, mimeType string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if f, ok := extensionFormats[ext]; ok {
		return f
	}
	return FormatUnknown
}

// Magic-byte families reported by Sniff.
const (
	FamilyNone Family = iota
	FamilyPDF
	FamilyZip // OOXML containers (docx, xlsx, pptx)
	FamilyOLE // legacy compound files (doc, xls, ppt)
	FamilyRTF
)

// Family is a coarse container type derived from leading bytes.
type Family int

var (
	magicPDF = []byte("%PDF-")
	magicZip = []byte("PK\x03\x04")
	magicOLE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	magicRTF = []byte(`{\rtf`)
)

// Sniff reports the magic-byte family of data.
func Sniff(data []byte) Family {
	switch {
	case bytes.HasPrefix(data, magicPDF):
		return FamilyPDF
	case bytes.HasPrefix(data, magicZip):
		return FamilyZip
	case bytes.HasPrefix(data, magicOLE):
		return FamilyOLE
	case bytes.HasPrefix(data, magicRTF):
		return FamilyRTF
	}
	return FamilyNone
}

// DetectContent resolves the format from the extension. Only a file name
// with no extension at all is resolved from its content signature and then
// its MIME type; an unrecognized extension stays FormatUnknown whatever the
// bytes look like.
func DetectContent(fileName, mimeType string, data []byte) Format {
	if f := Detect(fileName, mimeType); f != FormatUnknown || filepath.Ext(fileName) != "" {
		return f
	}
	switch Sniff(data) {
	case FamilyPDF:
		return FormatPDF
	case FamilyRTF:
		return FormatRTF
	case FamilyOLE:
		// Compound files are .doc, .xls or .ppt; none can be told apart
		// without parsing the directory, and all three are rejected anyway.
		return FormatDOC
	}
	if mimeType != "" {
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
			if f, ok := mimeFormats[mt]; ok {
				return f
			}
		}
	}
	return FormatUnknown
}
