package enum

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// minRun is the shortest printable run kept from legacy binary documents.
const minRun = 6

// Extractor turns rich documents into plain text.
type Extractor struct {
	// MaxPages bounds PDF extraction (0 = all pages).
	MaxPages int
}

// NewExtractor returns an extractor with no page limit.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractText returns the text content of a docx, xlsx, pdf, doc or xls
// document. The format is chosen by the extension of p.
func (e *Extractor) ExtractText(p string, content []byte) (string, error) {
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".docx":
		return extractOOXML(content, "docx", func(name string) bool {
			return name == "word/document.xml" ||
				strings.HasPrefix(name, "word/header") ||
				strings.HasPrefix(name, "word/footer")
		}, "p")
	case ".xlsx":
		return extractOOXML(content, "xlsx", func(name string) bool {
			return name == "xl/sharedStrings.xml" ||
				(strings.HasPrefix(name, "xl/worksheets/sheet") && strings.HasSuffix(name, ".xml"))
		}, "si", "c")
	case ".pdf":
		return e.extractPDF(content)
	case ".doc", ".xls":
		return printableRuns(content), nil
	default:
		return "", fmt.Errorf("unsupported document type %q", ext)
	}
}

// extractOOXML collects the text of the archive members selected by want.
// Each element named in breaks ends a line.
func extractOOXML(content []byte, kind string, want func(string) bool, breaks ...string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open %s as zip: %w", kind, err)
	}

	var text strings.Builder
	for _, file := range zr.File {
		if !want(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open %s member %s: %w", kind, file.Name, err)
		}
		err = xmlText(rc, &text, breaks)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to parse %s member %s: %w", kind, file.Name, err)
		}
	}
	return text.String(), nil
}

// xmlText appends the character data of r to out. Adjacent runs are joined
// without separators so a value split across runs stays contiguous.
func xmlText(r io.Reader, out *strings.Builder, breaks []string) error {
	decoder := xml.NewDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				out.Write(t)
			}
		case xml.EndElement:
			for _, b := range breaks {
				if t.Name.Local == b {
					out.WriteByte('\n')
					break
				}
			}
		}
	}
}

func (e *Extractor) extractPDF(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := reader.NumPage()
	if e.MaxPages > 0 && pages > e.MaxPages {
		pages = e.MaxPages
	}
	var b strings.Builder
	for n := 1; n <= pages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// printableRuns pulls ASCII text out of legacy binary office files. Runs
// stored as UTF-16LE are folded back to single bytes.
func printableRuns(data []byte) string {
	var out strings.Builder
	run := make([]byte, 0, 64)
	flush := func() {
		if len(run) >= minRun {
			out.Write(run)
			out.WriteByte('\n')
		}
		run = run[:0]
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		if !isPrintable(c) {
			flush()
			continue
		}
		run = append(run, c)
		if i+2 < len(data) && data[i+1] == 0 && isPrintable(data[i+2]) {
			i++
		}
	}
	flush()
	return out.String()
}

func isPrintable(c byte) bool {
	return c == '\t' || (c >= 0x20 && c < 0x7f)
}
