package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrUnknownFeature = errors.New("unknown feature")
	ErrEmptyFrame     = errors.New("frame has no rows")
)

// Frame is a dense numeric table with named columns, ordered by time.
type Frame struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

func (f Frame) Len() int {
	return len(f.Rows)
}

func (f Frame) ColumnIndex(name string) (int, error) {
	for i, column := range f.Columns {
		if column == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
}

// HasColumns reports the first missing column name, if any.
func (f Frame) HasColumns(names []string) error {
	for _, name := range names {
		if _, err := f.ColumnIndex(name); err != nil {
			return err
		}
	}
	return nil
}

// Split cuts the frame at trainFraction of its rows. Both halves share the
// column set; row slices are copied.
func (f Frame) Split(trainFraction float64) (Frame, Frame, error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return Frame{}, Frame{}, fmt.Errorf("train fraction must be in (0, 1), got %v", trainFraction)
	}
	cut := int(float64(len(f.Rows)) * trainFraction)
	return f.slice(0, cut), f.slice(cut, len(f.Rows)), nil
}

func (f Frame) slice(start, end int) Frame {
	rows := make([][]float64, 0, end-start)
	for _, row := range f.Rows[start:end] {
		rows = append(rows, append([]float64(nil), row...))
	}
	return Frame{Columns: append([]string(nil), f.Columns...), Rows: rows}
}

// LoadCSV reads a header row followed by numeric rows. Blank records are skipped.
func LoadCSV(in io.Reader) (Frame, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Frame{}, ErrEmptyFrame
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	rows := make([][]float64, 0, 1024)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return Frame{}, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if blankRecord(record) {
			continue
		}
		row, err := parseRow(record, len(columns), line)
		if err != nil {
			return Frame{}, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	return Frame{Columns: columns, Rows: rows}, nil
}

func parseRow(record []string, width, line int) ([]float64, error) {
	if len(record) != width {
		return nil, fmt.Errorf("row %d: expected %d fields, got %d", line, width, len(record))
	}
	row := make([]float64, width)
	for i, raw := range record {
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parse row %d column %d: %w", line, i, err)
		}
		row[i] = value
	}
	return row, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
