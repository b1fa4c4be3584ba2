package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVExtractor treats the first row as headers and renders every later row
// as a numbered line.
type CSVExtractor struct{}

func (e *CSVExtractor) SupportedFormats() []Format { return []Format{FormatCSV} }

func (e *CSVExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var b strings.Builder
	rows, columns := 0, 0

	headers, err := r.Read()
	switch {
	case errors.Is(err, io.EOF):
		return &Extraction{Metadata: map[string]any{"rowCount": 0, "columnCount": 0}}, nil
	case err != nil:
		return nil, extractionErr(FormatCSV, "reading headers: %w", err)
	}
	columns = len(headers)
	b.WriteString("Headers: " + joinFields(headers) + "\n")

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, extractionErr(FormatCSV, "reading row %d: %w", rows+1, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		rows++
		fmt.Fprintf(&b, "Row %d: %s\n", rows, joinFields(record))
	}

	return &Extraction{
		Content: strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]any{
			"rowCount":    rows,
			"columnCount": columns,
		},
	}, nil
}

// joinFields trims each field and strips a surrounding pair of quotes left
// behind by lazy quoting.
func joinFields(fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
			f = f[1 : len(f)-1]
		}
		out[i] = f
	}
	return strings.Join(out, ", ")
}
