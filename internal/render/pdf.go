package render

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
)

// PDF renders a single-column A4 report: title at 18pt, body at 12pt.
// Without a usable font file the core Helvetica font is used and
// characters outside cp1252 are lost.
func (r *Renderer) PDF(title, content string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetTitle(title, true)
	pdf.AddPage()

	family, translate := "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
	if data := r.fontBytes(); data != nil {
		pdf.AddUTF8FontFromBytes("body", "", data)
		family, translate = "body", func(s string) string { return s }
	}

	if title != "" {
		pdf.SetFont(family, "", 18)
		pdf.MultiCell(0, 9, translate(title), "", "L", false)
		pdf.Ln(4)
	}
	pdf.SetFont(family, "", 12)
	pdf.MultiCell(0, 6, translate(content), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) fontBytes() []byte {
	if r.FontPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.FontPath)
	if err != nil {
		return nil
	}
	return data
}
