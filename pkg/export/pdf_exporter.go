package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled line of a record document.
type Field struct {
	Label string
	Value string
}

// PDFExporter renders record documents such as archived appointments and signed waivers.
type PDFExporter struct {
	issuer string
}

// NewPDFExporter constructs a PDF exporter. issuer is printed in the page header.
func NewPDFExporter(issuer string) *PDFExporter {
	if issuer == "" {
		issuer = "Academy Portal"
	}
	return &PDFExporter{issuer: issuer}
}

// RenderRecord lays out fields as a two-column table under title, with an optional free-text body.
func (e *PDFExporter) RenderRecord(title string, fields []Field, body string) ([]byte, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("pdf record requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(title, true)
	pdf.SetCreator(e.issuer, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 5, tr(e.issuer), "", 1, "R", false, 0, "")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "", 10)
	for _, field := range fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(55, 8, tr(field.Label), "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(125, 8, tr(field.Value), "1", 1, "", false, 0, "")
	}

	if body != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, tr(body), "", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
