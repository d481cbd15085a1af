// Package sampling estimates the fitness of an untrained architecture by
// repeatedly drawing random weights and measuring prediction error.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"archsearch/internal/dataset"
	"archsearch/internal/nn"
)

const (
	MetricMAE        = "mae"
	MetricStdDev     = "mae_std"
	MetricMin        = "mae_min"
	MetricMax        = "mae_max"
	MetricMedian     = "mae_median"
	MetricQ25        = "mae_p25"
	MetricQ75        = "mae_p75"
	MetricNumSamples = "num_samples"

	defaultInitRange = 1.0
)

var (
	ErrSamplerExists   = errors.New("sampler already registered")
	ErrSamplerNotFound = errors.New("sampler not found")
	ErrNonFinite       = errors.New("non-finite prediction error")
)

// Result maps objective names to aggregated scores.
type Result map[string]float64

// RandomSamplingFit is the fitness-sampling capability: numSamples random fit
// and measure trials of model over windows, summarized per objective.
type RandomSamplingFit interface {
	Name() string
	Fit(ctx context.Context, rng *rand.Rand, model nn.Model, numSamples int, windows dataset.Windows, opts map[string]any) (Result, error)
}

// MAERandomSampling draws fresh uniform weights per sample and records the
// mean absolute error of each draw. Recognized options: "init_range".
type MAERandomSampling struct{}

func (MAERandomSampling) Name() string {
	return "mae_random"
}

func (MAERandomSampling) Fit(ctx context.Context, rng *rand.Rand, model nn.Model, numSamples int, windows dataset.Windows, opts map[string]any) (Result, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("num samples must be >= 1, got %d", numSamples)
	}
	if windows.Len() == 0 {
		return nil, fmt.Errorf("no windows to sample against")
	}
	initRange, err := initRangeOption(opts)
	if err != nil {
		return nil, err
	}

	errs := make([]float64, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		model.Reinitialize(rng, initRange)
		mae, err := MeanAbsoluteError(model, windows)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		errs = append(errs, mae)
	}
	return Summarize(errs), nil
}

// MeanAbsoluteError averages |prediction - target| over every window and output.
func MeanAbsoluteError(model nn.Model, windows dataset.Windows) (float64, error) {
	total := 0.0
	count := 0
	for i, window := range windows.X {
		prediction, err := model.Predict(window)
		if err != nil {
			return 0, fmt.Errorf("window %d: %w", i, err)
		}
		target := windows.Y[i]
		if len(prediction) != len(target) {
			return 0, fmt.Errorf("window %d: prediction width %d, target width %d", i, len(prediction), len(target))
		}
		for j := range target {
			total += math.Abs(prediction[j] - target[j])
			count++
		}
	}
	mae := total / float64(count)
	if math.IsNaN(mae) || math.IsInf(mae, 0) {
		return 0, ErrNonFinite
	}
	return mae, nil
}

// Summarize reduces per-sample errors to the objective map.
func Summarize(errs []float64) Result {
	sorted := append([]float64(nil), errs...)
	sort.Float64s(sorted)
	out := Result{
		MetricMAE:        stat.Mean(sorted, nil),
		MetricMin:        sorted[0],
		MetricMax:        sorted[len(sorted)-1],
		MetricMedian:     stat.Quantile(0.5, stat.Empirical, sorted, nil),
		MetricQ25:        stat.Quantile(0.25, stat.Empirical, sorted, nil),
		MetricQ75:        stat.Quantile(0.75, stat.Empirical, sorted, nil),
		MetricNumSamples: float64(len(sorted)),
		MetricStdDev:     0,
	}
	if len(sorted) > 1 {
		out[MetricStdDev] = stat.StdDev(sorted, nil)
	}
	return out
}

var samplerRegistry = struct {
	mu sync.RWMutex
	m  map[string]RandomSamplingFit
}{
	m: map[string]RandomSamplingFit{
		"mae_random": MAERandomSampling{},
	},
}

func RegisterSampler(sampler RandomSamplingFit) error {
	if sampler == nil || sampler.Name() == "" {
		return errors.New("named sampler is required")
	}
	samplerRegistry.mu.Lock()
	defer samplerRegistry.mu.Unlock()
	if _, exists := samplerRegistry.m[sampler.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrSamplerExists, sampler.Name())
	}
	samplerRegistry.m[sampler.Name()] = sampler
	return nil
}

func ResolveSampler(name string) (RandomSamplingFit, error) {
	samplerRegistry.mu.RLock()
	defer samplerRegistry.mu.RUnlock()
	sampler, ok := samplerRegistry.m[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSamplerNotFound, name)
	}
	return sampler, nil
}

// initRangeOption reads "init_range" as any numeric kind; config files decode
// whole numbers as integers.
func initRangeOption(opts map[string]any) (float64, error) {
	v, ok := opts["init_range"]
	if !ok || v == nil {
		return defaultInitRange, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	default:
		return 0, fmt.Errorf("init_range must be a number, got %T", v)
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("init_range must be a positive finite number, got %v", v)
	}
	return f, nil
}
