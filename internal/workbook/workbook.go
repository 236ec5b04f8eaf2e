// Package workbook reads and writes the single-sheet xlsx files that carry a
// working set from one bulk stage to the next. Each stage owns a Schema; both
// sides of the hand-off go through it.
package workbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMissingColumn is returned by Read when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

// Schema fixes the sheet name and column order of one stage's workbook.
type Schema struct {
	Sheet    string
	Columns  []string
	Required []string
}

// Formula marks a cell value to be written as a formula rather than text.
type Formula string

// Write creates path with one sheet holding a styled header row and rows.
// Each row must have one value per schema column.
func Write(path string, schema Schema, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", schema.Sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, name := range schema.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(schema.Sheet, cell, name); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(schema.Sheet, col, col, columnWidth(name))
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1F4E78"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(schema.Columns), 1)
	if err := f.SetCellStyle(schema.Sheet, "A1", last, header); err != nil {
		return err
	}

	for r, row := range rows {
		if len(row) != len(schema.Columns) {
			return fmt.Errorf("row %d has %d values, schema %s has %d columns", r+1, len(row), schema.Sheet, len(schema.Columns))
		}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := setCell(f, schema.Sheet, cell, v); err != nil {
				return fmt.Errorf("writing %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(schema.Sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return err
	}
	if len(rows) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(schema.Columns), len(rows)+1)
		if err := f.AutoFilter(schema.Sheet, "A1:"+end, nil); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating workbook directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, sheet, cell string, v any) error {
	switch t := v.(type) {
	case Formula:
		if t == "" {
			return nil
		}
		return f.SetCellFormula(sheet, cell, string(t))
	case bool:
		if t {
			return f.SetCellValue(sheet, cell, "true")
		}
		return f.SetCellValue(sheet, cell, "false")
	default:
		return f.SetCellValue(sheet, cell, v)
	}
}

func columnWidth(name string) float64 {
	switch {
	case strings.Contains(name, "URL"), strings.Contains(name, "matchLocations"), strings.Contains(name, "hyperlink"):
		return 60
	case strings.Contains(name, "Name"):
		return 36
	default:
		return 18
	}
}

// Read loads the schema's sheet from path. Every required column must be
// present in the header; columns outside the schema are ignored. Blank rows
// are skipped.
func Read(path string, schema Schema) ([]map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if !slices.Contains(f.GetSheetList(), schema.Sheet) {
		return nil, fmt.Errorf("workbook %s has no sheet %q", filepath.Base(path), schema.Sheet)
	}
	rows, err := f.GetRows(schema.Sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", schema.Sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s: %w: empty header", schema.Sheet, ErrMissingColumn)
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range schema.Required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("sheet %s: %w %q", schema.Sheet, ErrMissingColumn, name)
		}
	}

	var out []map[string]string
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(schema.Columns))
		blank := true
		for _, name := range schema.Columns {
			i, ok := index[name]
			if !ok || i >= len(row) {
				continue
			}
			rec[name] = row[i]
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Sheets lists the sheet names of a workbook.
func Sheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}
