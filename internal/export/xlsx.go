// Package export renders attendance grids as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"attendanceportal/internal/calendar"
	"attendanceportal/internal/grid"
	"attendanceportal/internal/model"
)

// SheetName is the worksheet holding the attendance table.
const SheetName = "Asistencia"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Cell returns the one-letter code of a status; unrecorded cells are "-".
func Cell(status string) string {
	switch status {
	case model.StatusPresent:
		return "P"
	case model.StatusLate:
		return "T"
	case model.StatusAbsent:
		return "A"
	default:
		return "-"
	}
}

// FileName is the download name for a course export produced at now.
func FileName(courseCode string, now time.Time) string {
	return fmt.Sprintf("Asistencia_%s_%s.xlsx", courseCode, now.UTC().Format(calendar.DateLayout))
}

// Rows builds the table: a header of CUI, full name and one dd/mmm column per
// date, then one row per student.
func Rows(students []model.Student, dates []string, g grid.Grid) [][]any {
	header := []any{"CUI", "Apellidos y Nombres"}
	for _, d := range dates {
		header = append(header, calendar.FormatHeader(d))
	}

	rows := [][]any{header}
	for _, s := range students {
		row := []any{s.CUI, s.FullName()}
		for _, d := range dates {
			row = append(row, Cell(g.Status(s.ID, d)))
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteXLSX writes the attendance table of students x dates as a workbook.
func WriteXLSX(w io.Writer, students []model.Student, dates []string, g grid.Grid) error {
	rows := Rows(students, dates, g)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return err
	}

	if err := f.SetColWidth(SheetName, "A", "A", 15); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "B", "B", 30); err != nil {
		return err
	}
	if len(dates) > 0 {
		last, err := excelize.ColumnNumberToName(2 + len(dates))
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, "C", last, 5); err != nil {
			return err
		}
	}

	return f.Write(w)
}
