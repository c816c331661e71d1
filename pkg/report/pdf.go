package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/payback159/cubesatbudget/pkg/models"
)

const (
	pdfLabelW = 80.0
	pdfValueW = 60.0
	pdfUnitW  = 30.0
	pdfLineH  = 6.0
)

var severityRGB = map[models.Severity][3]int{
	models.SeverityInfo:     {212, 237, 218},
	models.SeverityWarning:  {255, 243, 205},
	models.SeverityCritical: {248, 215, 218},
}

type pdfDoc struct {
	*fpdf.Fpdf
	tr func(string) string
}

func (d *pdfDoc) heading(text string) {
	d.Ln(4)
	d.SetFont("Helvetica", "B", 13)
	d.CellFormat(0, 8, d.tr(text), "B", 1, "L", false, 0, "")
	d.Ln(2)
}

func (d *pdfDoc) table(rows []row) {
	d.SetFont("Helvetica", "B", 10)
	d.SetFillColor(242, 242, 242)
	d.CellFormat(pdfLabelW, pdfLineH, "Quantity", "1", 0, "L", true, 0, "")
	d.CellFormat(pdfValueW, pdfLineH, "Value", "1", 0, "R", true, 0, "")
	d.CellFormat(pdfUnitW, pdfLineH, "Unit", "1", 1, "L", true, 0, "")

	d.SetFont("Helvetica", "", 10)
	for _, r := range rows {
		d.CellFormat(pdfLabelW, pdfLineH, d.tr(r.Label), "1", 0, "L", false, 0, "")
		d.CellFormat(pdfValueW, pdfLineH, d.tr(r.text()), "1", 0, "R", false, 0, "")
		d.CellFormat(pdfUnitW, pdfLineH, d.tr(r.Unit), "1", 1, "L", false, 0, "")
	}
}

func (d *pdfDoc) note(text string, sev models.Severity) {
	rgb, ok := severityRGB[sev]
	if !ok {
		rgb = [3]int{255, 255, 255}
	}
	d.SetFillColor(rgb[0], rgb[1], rgb[2])
	d.SetFont("Helvetica", "", 10)
	d.MultiCell(pdfLabelW+pdfValueW+pdfUnitW, pdfLineH, d.tr(text), "1", "L", true)
}

// WritePDF renders a human readable report of the project's parameters and
// results. kind selects the link budget, the data budget or both.
func WritePDF(w io.Writer, s Snapshot, kind Kind) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	doc := &pdfDoc{Fpdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	generated := s.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	pdf.SetTitle(fmt.Sprintf("CubeSat budget report: %s", s.Project.Name), true)
	pdf.SetCreator("cubesatbudget", true)
	pdf.SetCreationDate(generated)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, doc.tr(s.Project.Name), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, "Generated "+generated.UTC().Format(time.RFC1123), "", 1, "L", false, 0, "")

	if kind == KindLink || kind == KindAll {
		doc.heading("Link budget parameters")
		doc.table(linkParameterRows(s.Project.Link))
		if s.Link != nil {
			doc.heading("Link budget results")
			doc.table(linkResultRows(*s.Link))
			pdf.Ln(2)
			verdict := models.SeverityInfo
			if !s.Link.LinkCloses {
				verdict = models.SeverityCritical
			}
			doc.note(s.Link.Status, verdict)
			for _, hint := range s.Link.Hints {
				doc.note(hint, models.SeverityWarning)
			}
		}
	}

	if kind == KindData || kind == KindAll {
		doc.heading("Data budget parameters")
		doc.table(dataParameterRows(s.Project.Data))
		if s.Data != nil {
			doc.heading("Data budget results")
			doc.table(dataResultRows(*s.Data))
			if len(s.Data.Recommendations) > 0 {
				doc.heading("Recommendations")
				for _, rec := range s.Data.Recommendations {
					doc.note(fmt.Sprintf("[%s] %s", rec.Severity, rec.Message), rec.Severity)
				}
			}
		}
	}

	if (kind == KindLink && s.Link == nil) || (kind == KindData && s.Data == nil) ||
		(kind == KindAll && s.Link == nil && s.Data == nil) {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, pdfLineH, "Results are stale; recalculate to include them.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
