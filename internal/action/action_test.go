package action

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archsearch/internal/evo"
	"archsearch/internal/stats"
	"archsearch/internal/storage"
	"archsearch/internal/telemetry"
)

func writeSeries(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,y\n")
	for i := 0; i < rows; i++ {
		x := math.Sin(float64(i) / 3)
		fmt.Fprintf(&b, "%g,%g\n", x, 0.5*x)
	}
	path := filepath.Join(t.TempDir(), "series.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func samplerConfig(path string) Config {
	return Config{
		KeyArchitectures:    []any{[]any{2}, []any{3, 2}},
		KeyDataLoader:       "csv",
		KeyDataLoaderParams: map[string]any{"path": path, "train_fraction": 0.5, "x_features": []any{"x"}, "y_features": []any{"y"}},
		KeyMinLookBack:      1,
		KeyMaxLookBack:      int64(2),
		KeyBuilder:          "rnn",
		KeyNumSamples:       4.0,
	}
}

func TestRandomSamplerValidateConfig(t *testing.T) {
	path := writeSeries(t, 20)
	a := &RandomSamplerAction{}
	require.NoError(t, a.ValidateConfig(samplerConfig(path)))

	cases := map[string]func(Config){
		"no architectures":  func(c Config) { delete(c, KeyArchitectures) },
		"listing no params": func(c Config) { delete(c, KeyArchitectures); c[KeyListing] = "full_space" },
		"unknown listing":   func(c Config) { c[KeyListing] = "nope"; c[KeyListingParams] = map[string]any{} },
		"no loader":         func(c Config) { delete(c, KeyDataLoader) },
		"no loader params":  func(c Config) { delete(c, KeyDataLoaderParams) },
		"min look back":     func(c Config) { c[KeyMinLookBack] = 0 },
		"max below min":     func(c Config) { c[KeyMinLookBack] = 3 },
		"no builder":        func(c Config) { delete(c, KeyBuilder) },
		"unknown builder":   func(c Config) { c[KeyBuilder] = "lstm" },
		"no samples":        func(c Config) { c[KeyNumSamples] = 0 },
		"fractional":        func(c Config) { c[KeyNumSamples] = 2.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := samplerConfig(path)
			mutate(cfg)
			assert.ErrorIs(t, a.ValidateConfig(cfg), ErrInvalidConfig)
		})
	}
}

func TestRandomSamplerEmitsOneRecordPerPair(t *testing.T) {
	ctx := context.Background()
	path := writeSeries(t, 30)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(ctx))
	var buf bytes.Buffer
	metrics := telemetry.NewMetrics()

	a := &RandomSamplerAction{
		Seed:    7,
		RunID:   "sample-1",
		Store:   store,
		Metrics: metrics,
		Output: stats.MultiOutputLogger{
			stats.StoreOutputLogger{Store: store, RunID: "sample-1"},
			stats.NewCSVOutputLogger(&buf),
		},
	}
	result, err := a.Do(ctx, samplerConfig(path))
	require.NoError(t, err)

	require.Len(t, result.Records, 4)
	assert.Equal(t, 2, result.Architectures)
	assert.Equal(t, []int{1, 2, 1}, result.Records[0].Architecture)
	assert.Equal(t, 1, result.Records[0].LookBack)
	assert.Equal(t, 2, result.Records[1].LookBack)
	assert.Equal(t, []int{1, 3, 2, 1}, result.Records[2].Architecture)
	for _, record := range result.Records {
		assert.Contains(t, record.Metrics, "mae")
		assert.Equal(t, "sample-1", record.RunID)
	}

	stored, ok, err := store.GetSamplingRecords(ctx, "sample-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, stored, 4)
	run, ok, err := store.GetRun(ctx, "sample-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ModeSample, run.Mode)
	assert.Equal(t, 5, strings.Count(buf.String(), "\n"))
}

func TestRandomSamplerIsReproducible(t *testing.T) {
	path := writeSeries(t, 30)
	first, err := (&RandomSamplerAction{Seed: 3}).Do(context.Background(), samplerConfig(path))
	require.NoError(t, err)
	second, err := (&RandomSamplerAction{Seed: 3}).Do(context.Background(), samplerConfig(path))
	require.NoError(t, err)
	for i := range first.Records {
		assert.Equal(t, first.Records[i].Metrics, second.Records[i].Metrics)
	}
}

func TestRandomSamplerWithListing(t *testing.T) {
	path := writeSeries(t, 30)
	cfg := samplerConfig(path)
	delete(cfg, KeyArchitectures)
	cfg[KeyListing] = "full_space"
	cfg[KeyListingParams] = map[string]any{"min_layers": 1, "max_layers": 2, "min_neurons": 1, "max_neurons": 2}
	cfg[KeyMaxLookBack] = 1

	result, err := (&RandomSamplerAction{Seed: 1}).Do(context.Background(), cfg)
	require.NoError(t, err)
	// 2 one-layer + 4 two-layer architectures, one look-back each.
	assert.Equal(t, 6, result.Architectures)
	assert.Len(t, result.Records, 6)
}

func optimizeConfig(path string) Config {
	return Config{
		KeyDataLoader:       "csv",
		KeyDataLoaderParams: map[string]any{"path": path, "train_fraction": 0.5, "x_features": []any{"x"}, "y_features": []any{"y"}},
		KeyBuilder:          "rnn",
		KeyNumSamples:       2,
		KeyMinLayers:        1,
		KeyMaxLayers:        2,
		KeyMinNeurons:       1,
		KeyMaxNeurons:       4,
		KeyMinLookBack:      1,
		KeyMaxLookBack:      3,
		KeyPopulationSize:   4,
		KeyGenerations:      2,
		KeyWorkers:          2,
		KeyAlgorithmParams:  map[string]any{evo.ParamMutationProbabilityIndividual: 0.5},
	}
}

func TestOptimizePersistsRun(t *testing.T) {
	ctx := context.Background()
	path := writeSeries(t, 40)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(ctx))
	artifacts := t.TempDir()
	cfg := optimizeConfig(path)
	cfg[KeyArtifactsDir] = artifacts

	a := &OptimizeAction{Seed: 11, RunID: "opt-1", Store: store, Metrics: telemetry.NewMetrics(), TopN: 2}
	result, err := a.Do(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Run.Generations)
	assert.Equal(t, 4+2*4, result.Run.Evaluations)
	require.Len(t, result.TopSolutions, 2)
	assert.Equal(t, 1, result.TopSolutions[0].Rank)
	assert.GreaterOrEqual(t, result.Best.LookBack, 1)
	assert.LessOrEqual(t, result.Best.LookBack, 3)
	hidden := result.Best.Layers[1 : len(result.Best.Layers)-1]
	assert.NotEmpty(t, hidden)
	assert.LessOrEqual(t, len(hidden), 2)

	run, ok, err := store.GetRun(ctx, "opt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ModeOptimize, run.Mode)
	assert.Equal(t, 0.5, run.Params[evo.ParamMutationProbabilityIndividual])
	require.NotNil(t, run.BestSolution)

	history, ok, err := store.GetFitnessHistory(ctx, "opt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, history, 3)

	population, ok, err := store.GetPopulation(ctx, storage.PopulationID("opt-1", 2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, population.Solutions, 4)

	loaded, ok, err := stats.ReadRunArtifacts(artifacts, "opt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history, loaded.BestByGeneration)
	index, err := stats.ListRunIndex(artifacts)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "opt-1", index[0].RunID)
}

func TestOptimizeRejectsBadConfig(t *testing.T) {
	path := writeSeries(t, 40)
	a := &OptimizeAction{}
	cases := map[string]func(Config){
		"unknown param":     func(c Config) { c[KeyAlgorithmParams] = map[string]any{"p_crossover": 0.2} },
		"unknown direction": func(c Config) { c[KeyDirection] = "sideways" },
		"unknown algorithm": func(c Config) { c[KeyAlgorithm] = "nsga2" },
		"no builder":        func(c Config) { delete(c, KeyBuilder) },
		"bad targets":       func(c Config) { c[KeyTargets] = "mae" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := optimizeConfig(path)
			mutate(cfg)
			assert.ErrorIs(t, a.ValidateConfig(cfg), ErrInvalidConfig)
		})
	}
}

func TestOptimizeInvalidBoundsIsConfigurationError(t *testing.T) {
	path := writeSeries(t, 40)
	cfg := optimizeConfig(path)
	cfg[KeyMaxLayers] = 0
	cfg[KeyMinLayers] = 3
	_, err := (&OptimizeAction{}).Do(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_layers")
}
