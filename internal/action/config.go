// Package action runs the two top-level search modes from a configuration
// bag: exhaustive random sampling over an architecture listing, and
// evolutionary optimization.
package action

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"archsearch/internal/dataset"
)

var ErrInvalidConfig = errors.New("invalid action configuration")

// Config is the loosely typed parameter bag both actions read. Values come
// from JSON, TOML or Go literals, so numbers may be int, int64 or float64.
type Config map[string]any

const (
	KeyArchitectures    = "architectures"
	KeyListing          = "listing"
	KeyListingParams    = "listing_params"
	KeyDataLoader       = "data_loader"
	KeyDataLoaderParams = "data_loader_params"
	KeyEvaluationSplit  = "evaluation_split"
	KeyMinLookBack      = "min_look_back"
	KeyMaxLookBack      = "max_look_back"
	KeyMinLayers        = "min_layers"
	KeyMaxLayers        = "max_layers"
	KeyMinNeurons       = "min_neurons"
	KeyMaxNeurons       = "max_neurons"
	KeyBuilder          = "nn_builder"
	KeySampler          = "sampler"
	KeyNumSamples       = "num_samples"
	KeyOptions          = "options"
	KeyTargets          = "targets"
	KeyDirection        = "direction"
	KeyAlgorithm        = "algorithm"
	KeyAlgorithmParams  = "algorithm_params"
	KeyPopulationSize   = "population_size"
	KeyOffspringSize    = "offspring_size"
	KeyGenerations      = "generations"
	KeyMaxEvaluations   = "max_evaluations"
	KeyFitnessGoal      = "fitness_goal"
	KeyWorkers          = "workers"
	KeyArtifactsDir     = "artifacts_dir"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c Config) has(key string) bool {
	_, ok := c[key]
	return ok
}

// Int reads an integral number; ok is false when the key is absent.
func (c Config) Int(key string) (int, bool, error) {
	v, ok := c[key]
	if !ok {
		return 0, false, nil
	}
	n, err := asInt(v)
	if err != nil {
		return 0, true, invalid("%s: %v", key, err)
	}
	return n, true, nil
}

func (c Config) IntOr(key string, fallback int) (int, error) {
	n, ok, err := c.Int(key)
	if err != nil || !ok {
		return fallback, err
	}
	return n, nil
}

func (c Config) Float(key string) (float64, bool, error) {
	v, ok := c[key]
	if !ok {
		return 0, false, nil
	}
	f, err := asFloat64(v)
	if err != nil {
		return 0, true, invalid("%s: %v", key, err)
	}
	return f, true, nil
}

func (c Config) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("%s must be a string", key)
	}
	return s, nil
}

func (c Config) Map(key string) (map[string]any, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("%s must be a table", key)
	}
	return m, nil
}

func (c Config) Strings(key string) ([]string, error) {
	v, ok := c[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalid("%s must hold strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalid("%s must be a list of strings", key)
	}
}

// FloatMap reads a table of numbers, as used for algorithm parameters.
func (c Config) FloatMap(key string) (map[string]float64, error) {
	m, err := c.Map(key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, err := asFloat64(m[k])
		if err != nil {
			return nil, invalid("%s.%s: %v", key, k, err)
		}
		out[k] = f
	}
	return out, nil
}

// Architectures reads a list of hidden-layer size lists.
func (c Config) Architectures(key string) ([][]int, error) {
	v, ok := c[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case [][]int:
		out := make([][]int, len(list))
		for i, arch := range list {
			out[i] = append([]int(nil), arch...)
		}
		return out, nil
	case []any:
		out := make([][]int, 0, len(list))
		for i, item := range list {
			var layers []int
			switch arch := item.(type) {
			case []int:
				layers = append([]int(nil), arch...)
			case []any:
				for _, width := range arch {
					n, err := asInt(width)
					if err != nil {
						return nil, invalid("%s[%d]: %v", key, i, err)
					}
					layers = append(layers, n)
				}
			default:
				return nil, invalid("%s[%d] must be a list of layer sizes", key, i)
			}
			out = append(out, layers)
		}
		return out, nil
	default:
		return nil, invalid("%s must be a list of architectures", key)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// evaluationFrame picks the split models are scored on; the held-out split
// unless configured otherwise.
func evaluationFrame(ds dataset.Dataset, split string) (dataset.Frame, error) {
	switch split {
	case "", "testing":
		return ds.Testing, nil
	case "training":
		return ds.Training, nil
	case "all":
		return ds.Frame, nil
	default:
		return dataset.Frame{}, invalid("%s: unknown split %q", KeyEvaluationSplit, split)
	}
}
