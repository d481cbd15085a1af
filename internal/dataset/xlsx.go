package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadXLSX reads a sheet laid out like LoadCSV expects: one header row and
// numeric cells below it. An empty sheet name selects the first sheet.
func LoadXLSX(path, sheet string) (Frame, error) {
	if strings.TrimSpace(path) == "" {
		return Frame{}, fmt.Errorf("xlsx path is required")
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("open xlsx %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Frame{}, fmt.Errorf("xlsx %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return Frame{}, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(records) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	columns := make([]string, len(records[0]))
	for i, name := range records[0] {
		columns[i] = strings.TrimSpace(name)
	}
	rows := make([][]float64, 0, len(records)-1)
	for i, record := range records[1:] {
		if blankRecord(record) {
			continue
		}
		// GetRows trims trailing empty cells.
		for len(record) < len(columns) {
			record = append(record, "")
		}
		row, err := parseRow(record, len(columns), i+2)
		if err != nil {
			return Frame{}, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	return Frame{Columns: columns, Rows: rows}, nil
}
