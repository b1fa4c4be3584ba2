package parser

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		fileName, mime string
		want           Format
	}{
		{"report.pdf", "", FormatPDF},
		{"REPORT.PDF", "", FormatPDF},
		{"letter.docx", "", FormatDOCX},
		{"old.doc", "", FormatDOC},
		{"sheet.xlsx", "", FormatXLSX},
		{"sheet.xls", "", FormatXLS},
		{"data.csv", "", FormatCSV},
		{"notes.txt", "", FormatTXT},
		{"readme.md", "", FormatMarkdown},
		{"readme.markdown", "", FormatMarkdown},
		{"page.html", "", FormatHTML},
		{"page.htm", "", FormatHTML},
		{"data.json", "", FormatJSON},
		{"feed.xml", "", FormatXML},
		{"memo.rtf", "", FormatRTF},
		{"deck.pptx", "", FormatPPTX},
		{"deck.ppt", "", FormatPPT},
		{"archive.tar.gz", "", FormatUnknown},
		{"noextension", "", FormatUnknown},
		// The extension always wins over the MIME type.
		{"notes.txt", "application/pdf", FormatTXT},
		{"blob.bin", "application/pdf", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.fileName+"|"+tt.mime, func(t *testing.T) {
			if got := Detect(tt.fileName, tt.mime); got != tt.want {
				t.Errorf("Detect(%q, %q) = %q, want %q", tt.fileName, tt.mime, got, tt.want)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Family
	}{
		{"pdf", []byte("%PDF-1.7\n..."), FamilyPDF},
		{"zip", []byte("PK\x03\x04rest"), FamilyZip},
		{"ole", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00}, FamilyOLE},
		{"rtf", []byte(`{\rtf1\ansi`), FamilyRTF},
		{"text", []byte("hello"), FamilyNone},
		{"empty", nil, FamilyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectContent(t *testing.T) {
	tests := []struct {
		name, fileName, mime string
		data                 []byte
		want                 Format
	}{
		{"extension wins over bytes", "notes.txt", "", []byte("%PDF-1.4"), FormatTXT},
		{"pdf by magic", "upload", "", []byte("%PDF-1.4\n"), FormatPDF},
		{"rtf by magic", "upload", "", []byte(`{\rtf1`), FormatRTF},
		{"unknown extension ignores bytes", "upload.bin", "application/pdf", []byte("%PDF-1.4\n"), FormatUnknown},
		{"ole by magic", "upload", "", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, FormatDOC},
		{"mime fallback", "upload", "text/csv; charset=utf-8", []byte("a,b"), FormatCSV},
		{"zip needs a name or mime", "upload", "", []byte("PK\x03\x04"), FormatUnknown},
		{"nothing known", "upload", "application/octet-stream", []byte("??"), FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContent(tt.fileName, tt.mime, tt.data); got != tt.want {
				t.Errorf("DetectContent = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryBuiltIns(t *testing.T) {
	reg := NewRegistry()
	for _, f := range []Format{
		FormatPDF, FormatDOCX, FormatDOC, FormatXLSX, FormatXLS, FormatCSV, FormatTXT,
		FormatMarkdown, FormatHTML, FormatJSON, FormatXML, FormatRTF, FormatPPTX, FormatPPT,
	} {
		e, err := reg.Get(f)
		if err != nil {
			t.Errorf("Get(%q): %v", f, err)
			continue
		}
		found := false
		for _, sf := range e.SupportedFormats() {
			if sf == f {
				found = true
			}
		}
		if !found {
			t.Errorf("extractor for %q does not list it in SupportedFormats(): %v", f, e.SupportedFormats())
		}
	}
}

func TestRegistryFormats(t *testing.T) {
	want := []Format{
		FormatCSV, FormatDOC, FormatDOCX, FormatHTML, FormatJSON, FormatMarkdown, FormatPDF,
		FormatPPT, FormatPPTX, FormatRTF, FormatTXT, FormatXLS, FormatXLSX, FormatXML,
	}
	got := NewRegistry().Formats()
	if len(got) != len(want) {
		t.Fatalf("Formats() = %v, want %d entries", got, len(want))
	}
	if !slices.IsSorted(got) {
		t.Errorf("Formats() not sorted: %v", got)
	}
	for _, f := range want {
		if !slices.Contains(got, f) {
			t.Errorf("Formats() missing %q", f)
		}
	}
}

func TestRegistryUnknown(t *testing.T) {
	_, err := NewRegistry().Get(FormatUnknown)
	var unsup *UnsupportedFormatError
	if !errors.As(err, &unsup) {
		t.Fatalf("err = %v, want *UnsupportedFormatError", err)
	}
	if unsup.Error() != "Unsupported file type: unknown" {
		t.Errorf("message = %q", unsup.Error())
	}
}

type upperExtractor struct{}

func (upperExtractor) SupportedFormats() []Format { return []Format{FormatTXT} }

func (upperExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	return &Extraction{Content: "OVERRIDDEN"}, nil
}

func TestRegistryRegisterOverrides(t *testing.T) {
	reg := NewRegistry()
	reg.Register(upperExtractor{})
	e, err := reg.Get(FormatTXT)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, _ := e.Extract(context.Background(), []byte("x"))
	if out.Content != "OVERRIDDEN" {
		t.Errorf("Register did not replace the text extractor")
	}
}
