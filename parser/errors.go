package parser

import "fmt"

// UnsupportedFormatError is returned for formats that are recognized as out
// of scope (legacy .doc, .rtf, presentations) and for unknown extensions.
type UnsupportedFormatError struct {
	Format Format
	Hint   string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Hint != "" {
		return e.Hint
	}
	return fmt.Sprintf("Unsupported file type: %s", e.Format)
}

// ExtractionError is returned when bytes do not parse as the detected format.
type ExtractionError struct {
	Format Format
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ProcessingError is the uniform wrapper the processor surfaces to callers.
type ProcessingError struct {
	FileName string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("Failed to process document: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func extractionErr(f Format, format string, args ...any) error {
	return &ExtractionError{Format: f, Err: fmt.Errorf(format, args...)}
}
