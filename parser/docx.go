package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

var wordprocessingNS = map[string]bool{
	"": true,
	"http://schemas.openxmlformats.org/wordprocessingml/2006/main": true,
	"http://purl.oclc.org/ooxml/wordprocessingml/main":             true,
}

// DOCXExtractor walks word/document.xml in document order. Only an unreadable
// container is fatal; everything else is reported as a warning.
type DOCXExtractor struct{}

func (e *DOCXExtractor) SupportedFormats() []Format { return []Format{FormatDOCX} }

func (e *DOCXExtractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, extractionErr(FormatDOCX, "opening DOCX: %w", err)
	}

	// Build file index for quick lookup
	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, extractionErr(FormatDOCX, "word/document.xml not found in DOCX")
	}

	docXML, err := readZipFile(docFile)
	if err != nil {
		return nil, extractionErr(FormatDOCX, "reading document.xml: %w", err)
	}

	var warnings []string
	rels, err := parseDocxRels(fileIndex)
	if err != nil {
		warnings = append(warnings, err.Error())
	}

	body := walkDocxBody(docXML, rels, fileIndex)
	warnings = append(warnings, body.warnings...)

	out := &Extraction{
		Content: body.text,
		Metadata: map[string]any{
			"paragraphs": body.paragraphs,
			"tables":     body.tables,
		},
	}
	if body.images > 0 {
		out.Metadata["images"] = body.images
	}

	if props, err := parseCoreProps(fileIndex); err != nil {
		warnings = append(warnings, err.Error())
	} else if props != nil {
		out.Title = strings.TrimSpace(props.Title)
		out.Author = strings.TrimSpace(props.Creator)
	}

	if len(warnings) > 0 {
		slog.Debug("docx: extraction warnings", "count", len(warnings))
		out.Metadata["warnings"] = warnings
	}
	return out, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// docxRelationships represents the .rels XML structure.
type docxRelationships struct {
	XMLName xml.Name           `xml:"Relationships"`
	Rels    []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	Type       string `xml:"Type,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// parseDocxRels reads word/_rels/document.xml.rels and returns a map of rId -> relationship.
// A missing rels part is not an error.
func parseDocxRels(fileIndex map[string]*zip.File) (map[string]docxRelationship, error) {
	relsFile := fileIndex["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil, nil
	}

	data, err := readZipFile(relsFile)
	if err != nil {
		return nil, fmt.Errorf("reading relationships: %w", err)
	}

	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("parsing relationships: %w", err)
	}

	result := make(map[string]docxRelationship, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel
	}
	return result, nil
}

type docxCoreProps struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
}

func parseCoreProps(fileIndex map[string]*zip.File) (*docxCoreProps, error) {
	f := fileIndex["docProps/core.xml"]
	if f == nil {
		return nil, nil
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("reading core properties: %w", err)
	}
	var props docxCoreProps
	if err := xml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parsing core properties: %w", err)
	}
	return &props, nil
}

type docxBodyText struct {
	text       string
	paragraphs int
	tables     int
	images     int
	warnings   []string
}

// walkDocxBody streams the document XML, emitting paragraph text in order.
// Table cells are tab-separated and rows end with a newline.
func walkDocxBody(docXML []byte, rels map[string]docxRelationship, fileIndex map[string]*zip.File) docxBodyText {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var (
		out       docxBodyText
		b         strings.Builder
		para      strings.Builder
		inRun     bool
		inText    bool
		tableDeep int
		cellIdx   []int
	)

	flushPara := func() {
		text := para.String()
		para.Reset()
		if tableDeep > 0 {
			// Paragraphs inside a cell are joined with spaces.
			if text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		out.paragraphs++
		b.WriteString(text)
		b.WriteString("\n")
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.warnings = append(out.warnings, fmt.Sprintf("document.xml truncated: %v", err))
			flushPara()
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !wordprocessingNS[t.Name.Space] {
				if t.Name.Local == "blip" {
					out.images++
					checkDocxImage(t, rels, fileIndex, &out.warnings)
				}
				continue
			}
			switch t.Name.Local {
			case "r":
				inRun = true
			case "t":
				inText = inRun
			case "tab":
				if inRun {
					para.WriteString("\t")
				}
			case "br", "cr":
				if inRun {
					para.WriteString("\n")
				}
			case "tbl":
				tableDeep++
				cellIdx = append(cellIdx, 0)
				if tableDeep == 1 {
					out.tables++
				}
			case "tc":
				if n := len(cellIdx); n > 0 {
					if cellIdx[n-1] > 0 {
						trimTrailingSpace(&b)
						b.WriteString("\t")
					}
					cellIdx[n-1]++
				}
			case "tr":
				if n := len(cellIdx); n > 0 {
					cellIdx[n-1] = 0
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			if !wordprocessingNS[t.Name.Space] {
				continue
			}
			switch t.Name.Local {
			case "r":
				inRun = false
			case "t":
				inText = false
			case "p":
				flushPara()
			case "tr":
				trimTrailingSpace(&b)
				b.WriteString("\n")
			case "tbl":
				if tableDeep > 0 {
					tableDeep--
					cellIdx = cellIdx[:len(cellIdx)-1]
				}
			}
		}
	}

	out.text = strings.TrimSpace(b.String())
	return out
}

// checkDocxImage records a warning when an embedded image reference cannot
// be resolved inside the container.
func checkDocxImage(t xml.StartElement, rels map[string]docxRelationship, fileIndex map[string]*zip.File, warnings *[]string) {
	var embedID string
	for _, attr := range t.Attr {
		if attr.Name.Local == "embed" {
			embedID = attr.Value
			break
		}
	}
	if embedID == "" {
		return
	}
	rel, ok := rels[embedID]
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("image %s has no relationship", embedID))
		return
	}
	if rel.TargetMode == "External" {
		return
	}
	mediaPath := path.Clean("word/" + rel.Target)
	if fileIndex[mediaPath] == nil {
		*warnings = append(*warnings, fmt.Sprintf("image %s not found in container", mediaPath))
	}
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " ")
	if len(trimmed) != len(s) {
		b.Reset()
		b.WriteString(trimmed)
	}
}
