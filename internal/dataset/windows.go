package dataset

import "fmt"

// Windows holds supervised samples cut from a frame: X[i] is a look-back
// sequence of x-feature vectors and Y[i] the y-feature vector that follows it.
type Windows struct {
	X [][][]float64
	Y [][]float64
}

func (w Windows) Len() int {
	return len(w.Y)
}

// ChopData slices frame into look-back windows over xFeatures predicting the
// next row's yFeatures.
func ChopData(frame Frame, xFeatures, yFeatures []string, lookBack int) (Windows, error) {
	if lookBack < 1 {
		return Windows{}, fmt.Errorf("look back must be >= 1, got %d", lookBack)
	}
	xIdx, err := columnIndexes(frame, xFeatures)
	if err != nil {
		return Windows{}, err
	}
	yIdx, err := columnIndexes(frame, yFeatures)
	if err != nil {
		return Windows{}, err
	}
	if frame.Len() <= lookBack {
		return Windows{}, fmt.Errorf("look back %d leaves no complete window in %d rows", lookBack, frame.Len())
	}

	count := frame.Len() - lookBack
	out := Windows{
		X: make([][][]float64, 0, count),
		Y: make([][]float64, 0, count),
	}
	for t := lookBack; t < frame.Len(); t++ {
		window := make([][]float64, 0, lookBack)
		for _, row := range frame.Rows[t-lookBack : t] {
			window = append(window, pick(row, xIdx))
		}
		out.X = append(out.X, window)
		out.Y = append(out.Y, pick(frame.Rows[t], yIdx))
	}
	return out, nil
}

func columnIndexes(frame Frame, names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one feature is required")
	}
	out := make([]int, len(names))
	for i, name := range names {
		idx, err := frame.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func pick(row []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}
