package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"attendanceportal/internal/grid"
	"attendanceportal/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	students := []model.Student{
		{ID: "s1", CUI: "20201234", FirstName: "Ana", LastName: "Quispe"},
		{ID: "s2", CUI: "20205678", FirstName: "Beto", LastName: "Apaza"},
	}
	dates := []string{"2025-09-01", "2025-09-03", "2025-10-06"}
	g := grid.Grid{
		"s1": {"2025-09-01": model.StatusPresent, "2025-09-03": model.StatusLate},
		"s2": {"2025-10-06": model.StatusAbsent},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, students, dates, g))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"CUI", "Apellidos y Nombres", "01/sep", "03/sep", "06/oct"},
		{"20201234", "Quispe, Ana", "P", "T", "-"},
		{"20205678", "Apaza, Beto", "-", "-", "A"},
	}, rows)

	width, err := f.GetColWidth(SheetName, "B")
	require.NoError(t, err)
	assert.InDelta(t, 30, width, 0.01)
}

func TestWriteXLSXNoDates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, nil, grid.Grid{}))
	assert.NotZero(t, buf.Len())
}

func TestFileName(t *testing.T) {
	now := time.Date(2025, 11, 30, 23, 30, 0, 0, time.FixedZone("PET", -5*3600))
	assert.Equal(t, "Asistencia_1705265_2025-12-01.xlsx", FileName("1705265", now))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "P", Cell(model.StatusPresent))
	assert.Equal(t, "T", Cell(model.StatusLate))
	assert.Equal(t, "A", Cell(model.StatusAbsent))
	assert.Equal(t, "-", Cell(model.StatusUnrecorded))
}
