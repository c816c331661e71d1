package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/models"
)

const (
	SheetLink = "Link Budget"
	SheetData = "Data Budget"
	SheetRuns = "Runs"
)

// setRowSafe writes values from column A of the given row
func setRowSafe(f *excelize.File, sheet string, row int, values []interface{}) error {
	if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &values); err != nil {
		logging.LogError("Failed to set row", err,
			"sheet", sheet,
			"row", row)
		return err
	}
	return nil
}

// setCellStyleSafe safely sets a cell style with error handling
func setCellStyleSafe(f *excelize.File, sheet, hCell, vCell string, styleID int) {
	if err := f.SetCellStyle(sheet, hCell, vCell, styleID); err != nil {
		logging.LogError("Failed to set cell style", err,
			"sheet", sheet,
			"range", fmt.Sprintf("%s:%s", hCell, vCell))
		// Non-critical error for styles, continue execution
	}
}

// createSheetSafe safely creates a new sheet with error handling
func createSheetSafe(f *excelize.File, name string) error {
	if _, err := f.NewSheet(name); err != nil {
		logging.LogError("Failed to create sheet", err,
			"sheet_name", name)
		return err
	}
	return nil
}

// deleteSheetSafe safely deletes a sheet with error handling
func deleteSheetSafe(f *excelize.File, name string) {
	if err := f.DeleteSheet(name); err != nil {
		logging.LogError("Failed to delete sheet", err,
			"sheet_name", name)
		// Non-critical error, continue
	}
}

var thinBorder = []excelize.Border{
	{Type: "left", Color: "#000000", Style: 1},
	{Type: "top", Color: "#000000", Style: 1},
	{Type: "right", Color: "#000000", Style: 1},
	{Type: "bottom", Color: "#000000", Style: 1},
}

// createSeverityStyles creates coloured styles for recommendation severities
// and for the link margin verdict.
func createSeverityStyles(f *excelize.File) map[models.Severity]int {
	styles := make(map[models.Severity]int)
	colors := map[models.Severity]string{
		models.SeverityInfo:     "#d4edda",
		models.SeverityWarning:  "#fff3cd",
		models.SeverityCritical: "#f8d7da",
	}
	for sev, color := range colors {
		style, _ := f.NewStyle(&excelize.Style{
			Fill:   excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Border: thinBorder,
		})
		styles[sev] = style
	}
	return styles
}

func createHeaderStyle(f *excelize.File) int {
	style, _ := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"#f2f2f2"}, Pattern: 1},
		Border: thinBorder,
	})
	return style
}

// workbook accumulates sheets; the first error stops all further writes.
type workbook struct {
	f        *excelize.File
	header   int
	severity map[models.Severity]int
	err      error
}

func (b *workbook) sheet(name string) {
	if b.err == nil {
		b.err = createSheetSafe(b.f, name)
	}
}

func (b *workbook) row(sheet string, row int, values ...interface{}) {
	if b.err == nil {
		b.err = setRowSafe(b.f, sheet, row, values)
	}
}

func (b *workbook) style(sheet string, row, cols, style int) {
	if b.err != nil {
		return
	}
	last, _ := excelize.ColumnNumberToName(cols)
	setCellStyleSafe(b.f, sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", last, row), style)
}

// table writes a titled three-column table and returns the next free row.
func (b *workbook) table(sheet string, start int, title string, rows []row) int {
	b.row(sheet, start, title, "Value", "Unit")
	b.style(sheet, start, 3, b.header)
	for i, r := range rows {
		var v interface{} = r.Value
		if q, ok := r.Value.(models.Quantity); ok {
			v = q.Format(2)
		}
		b.row(sheet, start+1+i, r.Label, v, r.Unit)
	}
	return start + len(rows) + 2
}

// WriteWorkbook renders the snapshot as an Excel workbook with link, data
// and run history sheets.
func WriteWorkbook(w io.Writer, s Snapshot) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logging.LogError("Failed to close Excel file", err, "project", s.Project.Name)
		}
	}()

	b := &workbook{f: f, header: createHeaderStyle(f), severity: createSeverityStyles(f)}

	b.sheet(SheetLink)
	deleteSheetSafe(f, "Sheet1")
	next := b.table(SheetLink, 1, "Link parameters", linkParameterRows(s.Project.Link))
	if s.Link != nil {
		next = b.table(SheetLink, next, "Link results", linkResultRows(*s.Link))
		b.row(SheetLink, next, "Status", s.Link.Status)
		verdict := models.SeverityInfo
		if !s.Link.LinkCloses {
			verdict = models.SeverityCritical
		}
		b.style(SheetLink, next, 2, b.severity[verdict])
		for i, hint := range s.Link.Hints {
			b.row(SheetLink, next+1+i, "Hint", hint)
		}
	}

	b.sheet(SheetData)
	next = b.table(SheetData, 1, "Data parameters", dataParameterRows(s.Project.Data))
	if s.Data != nil {
		next = b.table(SheetData, next, "Data results", dataResultRows(*s.Data))
		b.row(SheetData, next, "Recommendation", "Severity", "Message")
		b.style(SheetData, next, 3, b.header)
		for i, rec := range s.Data.Recommendations {
			b.row(SheetData, next+1+i, rec.Tag, string(rec.Severity), rec.Message)
			if style, ok := b.severity[rec.Severity]; ok {
				b.style(SheetData, next+1+i, 3, style)
			}
		}
	}

	b.sheet(SheetRuns)
	header := make([]interface{}, len(runColumns))
	for i, c := range runColumns {
		header[i] = c
	}
	b.row(SheetRuns, 1, header...)
	b.style(SheetRuns, 1, len(runColumns), b.header)
	for i, run := range s.Runs {
		rec := runRecord(run)
		values := make([]interface{}, len(rec))
		for j, v := range rec {
			values[j] = v
		}
		b.row(SheetRuns, i+2, values...)
	}

	if b.err != nil {
		return b.err
	}
	if idx, err := f.GetSheetIndex(SheetLink); err == nil {
		f.SetActiveSheet(idx)
	}
	return f.Write(w)
}
