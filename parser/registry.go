package parser

import "slices"

// Registry maps each format to the extractor that handles it.
type Registry struct {
	extractors map[Format]Extractor
}

// NewRegistry returns a registry with every built-in extractor registered.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[Format]Extractor)}
	// Register built-in extractors
	builtins := []Extractor{
		&PDFExtractor{},
		&DOCXExtractor{},
		&XLSXExtractor{},
		&CSVExtractor{},
		&TextExtractor{},
		&MarkdownExtractor{},
		&HTMLExtractor{},
		&JSONExtractor{},
		&XMLExtractor{},
		&UnsupportedExtractor{Format: FormatDOC},
		&UnsupportedExtractor{Format: FormatRTF},
		&UnsupportedExtractor{Format: FormatPPTX},
		&UnsupportedExtractor{Format: FormatPPT},
	}

	for _, e := range builtins {
		r.Register(e)
	}
	return r
}

// Get returns the extractor for format. Formats with no extractor yield an
// UnsupportedFormatError.
func (r *Registry) Get(format Format) (Extractor, error) {
	e, ok := r.extractors[format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: format}
	}
	return e, nil
}

// Register installs e for every format it supports, replacing any previous
// extractor for those formats.
func (r *Registry) Register(e Extractor) {
	for _, f := range e.SupportedFormats() {
		r.extractors[f] = e
	}
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.extractors))
	for f := range r.extractors {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
