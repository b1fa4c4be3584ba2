package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads page text and the document info dictionary.
type PDFExtractor struct{}

func (e *PDFExtractor) SupportedFormats() []Format { return []Format{FormatPDF} }

func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), magicPDF) {
		return nil, extractionErr(FormatPDF, "missing %%PDF header")
	}

	reader, err := openPDF(data)
	if err != nil {
		return nil, extractionErr(FormatPDF, "opening PDF: %w", err)
	}

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	var failed int

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			failed++
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)
	}

	meta := map[string]any{}
	if failed > 0 {
		meta["failedPages"] = failed
	}

	out := &Extraction{
		Content:   strings.Join(pages, "\n\n"),
		PageCount: intPtr(totalPages),
		Metadata:  meta,
	}

	info, err := readPDFInfo(reader)
	if err != nil {
		slog.Debug("pdf: info dictionary unavailable", "error", err)
		meta["warnings"] = []string{fmt.Sprintf("document info: %v", err)}
		return out, nil
	}
	out.Title = info["Title"]
	out.Author = info["Author"]
	for key, field := range pdfInfoFields {
		if v := info[key]; v != "" {
			meta[field] = v
		}
	}
	return out, nil
}

// openPDF wraps pdf.NewReader, which panics on some malformed inputs.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pdfInfoFields maps info dictionary keys to metadata field names.
var pdfInfoFields = map[string]string{
	"Subject":      "subject",
	"Creator":      "creator",
	"Producer":     "producer",
	"CreationDate": "creationDate",
	"ModDate":      "modDate",
}

// readPDFInfo returns the non-empty text entries of the trailer's Info
// dictionary. A document without one yields an empty map.
func readPDFInfo(r *pdf.Reader) (info map[string]string, err error) {
	defer func() {
		if p := recover(); p != nil {
			info, err = nil, fmt.Errorf("malformed info dictionary: %v", p)
		}
	}()
	info = make(map[string]string)
	dict := r.Trailer().Key("Info")
	if dict.Kind() != pdf.Dict {
		return info, nil
	}
	for _, key := range dict.Keys() {
		if v := strings.TrimSpace(dict.Key(key).Text()); v != "" {
			info[key] = v
		}
	}
	return info, nil
}
