// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// Extractor pulls plain text out of a raw document.
type Extractor interface {
	ExtractText(raw []byte) (string, error)
}

// PDFExtractor extracts page text with github.com/dslipak/pdf.
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

var _ Extractor = (*PDFExtractor)(nil)

// ExtractText returns the text of every page, each page followed by a newline.
// Pages without extractable text are skipped.
func (e *PDFExtractor) ExtractText(raw []byte) (text string, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		for _, name := range page.Fonts() {
			font := page.Font(name)
			fonts[name] = &font
		}

		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		if pageText != "" {
			sb.WriteString(pageText)
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}
