package dataset

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Normalization modes accepted by the "normalize" loader parameter.
const (
	NormalizeNone   = "none"
	NormalizeMinMax = "minmax"
	NormalizeZScore = "zscore"
)

// Normalize rescales every column of f independently and returns a new frame.
// A constant column becomes all zeros.
func (f Frame) Normalize(mode string) (Frame, error) {
	var scale func([]float64)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", NormalizeNone:
		return f, nil
	case NormalizeMinMax:
		scale = scaleMinMax
	case NormalizeZScore:
		scale = scaleZScore
	default:
		return Frame{}, fmt.Errorf("unsupported normalization mode: %s", mode)
	}

	out := Frame{
		Columns: append([]string(nil), f.Columns...),
		Rows:    make([][]float64, len(f.Rows)),
	}
	for i, row := range f.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	column := make([]float64, len(out.Rows))
	for c := range out.Columns {
		for r, row := range out.Rows {
			column[r] = row[c]
		}
		scale(column)
		for r, row := range out.Rows {
			row[c] = column[r]
		}
	}
	return out, nil
}

func scaleMinMax(values []float64) {
	if len(values) == 0 {
		return
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	for i := range values {
		if span == 0 {
			values[i] = 0
			continue
		}
		values[i] = (values[i] - lo) / span
	}
}

func scaleZScore(values []float64) {
	if len(values) == 0 {
		return
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	std := math.Sqrt(variance)
	for i := range values {
		if std == 0 {
			values[i] = 0
			continue
		}
		values[i] = (values[i] - mean) / std
	}
}
