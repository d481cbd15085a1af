package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const defaultTrainFraction = 0.7

var (
	ErrLoaderExists   = errors.New("data loader already registered")
	ErrLoaderNotFound = errors.New("data loader not found")
)

// Dataset is a loaded frame with its train/test split and the feature sets
// models read from and predict.
type Dataset struct {
	Frame     Frame
	Training  Frame
	Testing   Frame
	XFeatures []string
	YFeatures []string
}

func (d Dataset) InputDim() int {
	return len(d.XFeatures)
}

func (d Dataset) OutputDim() int {
	return len(d.YFeatures)
}

// Loader turns a parameter bag into a Dataset.
type Loader interface {
	Name() string
	Load(ctx context.Context, params map[string]any) (Dataset, error)
}

type CSVLoader struct{}

func (CSVLoader) Name() string {
	return "csv"
}

func (CSVLoader) Load(ctx context.Context, params map[string]any) (Dataset, error) {
	if err := ctx.Err(); err != nil {
		return Dataset{}, err
	}
	path, err := requiredString(params, "path")
	if err != nil {
		return Dataset{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer file.Close()

	frame, err := LoadCSV(file)
	if err != nil {
		return Dataset{}, fmt.Errorf("load csv %s: %w", path, err)
	}
	return NewDataset(frame, params)
}

type XLSXLoader struct{}

func (XLSXLoader) Name() string {
	return "xlsx"
}

func (XLSXLoader) Load(ctx context.Context, params map[string]any) (Dataset, error) {
	if err := ctx.Err(); err != nil {
		return Dataset{}, err
	}
	path, err := requiredString(params, "path")
	if err != nil {
		return Dataset{}, err
	}
	sheet, _ := params["sheet"].(string)
	frame, err := LoadXLSX(path, sheet)
	if err != nil {
		return Dataset{}, err
	}
	return NewDataset(frame, params)
}

// NewDataset normalizes and splits frame and resolves feature sets from
// params ("normalize", "train_fraction", "x_features", "y_features"). Missing
// feature lists default to every column.
func NewDataset(frame Frame, params map[string]any) (Dataset, error) {
	if mode, ok := params["normalize"].(string); ok {
		normalized, err := frame.Normalize(mode)
		if err != nil {
			return Dataset{}, err
		}
		frame = normalized
	}
	fraction := defaultTrainFraction
	if v, ok := params["train_fraction"].(float64); ok {
		fraction = v
	}
	training, testing, err := frame.Split(fraction)
	if err != nil {
		return Dataset{}, err
	}

	xFeatures := stringList(params["x_features"])
	if len(xFeatures) == 0 {
		xFeatures = append([]string(nil), frame.Columns...)
	}
	yFeatures := stringList(params["y_features"])
	if len(yFeatures) == 0 {
		yFeatures = append([]string(nil), frame.Columns...)
	}
	if err := frame.HasColumns(xFeatures); err != nil {
		return Dataset{}, fmt.Errorf("x features: %w", err)
	}
	if err := frame.HasColumns(yFeatures); err != nil {
		return Dataset{}, fmt.Errorf("y features: %w", err)
	}
	return Dataset{
		Frame:     frame,
		Training:  training,
		Testing:   testing,
		XFeatures: xFeatures,
		YFeatures: yFeatures,
	}, nil
}

var loaderRegistry = struct {
	mu sync.RWMutex
	m  map[string]Loader
}{
	m: map[string]Loader{
		"csv":  CSVLoader{},
		"xlsx": XLSXLoader{},
	},
}

func RegisterLoader(loader Loader) error {
	if loader == nil || loader.Name() == "" {
		return errors.New("named data loader is required")
	}
	loaderRegistry.mu.Lock()
	defer loaderRegistry.mu.Unlock()
	if _, exists := loaderRegistry.m[loader.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrLoaderExists, loader.Name())
	}
	loaderRegistry.m[loader.Name()] = loader
	return nil
}

func ResolveLoader(name string) (Loader, error) {
	loaderRegistry.mu.RLock()
	defer loaderRegistry.mu.RUnlock()
	loader, ok := loaderRegistry.m[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoaderNotFound, name)
	}
	return loader, nil
}

func ListLoaders() []string {
	loaderRegistry.mu.RLock()
	defer loaderRegistry.mu.RUnlock()
	names := make([]string, 0, len(loaderRegistry.m))
	for name := range loaderRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func requiredString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("data loader param %q is required", key)
	}
	return v, nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
