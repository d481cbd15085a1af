package sampling

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archsearch/internal/dataset"
	"archsearch/internal/nn"
)

type constModel struct {
	out       []float64
	resets    int
	initRange float64
}

func (m *constModel) Predict([][]float64) ([]float64, error) { return m.out, nil }
func (m *constModel) Reinitialize(_ *rand.Rand, r float64) {
	m.resets++
	m.initRange = r
}
func (m *constModel) Layers() []int          { return []int{1, 1, 1} }
func (m *constModel) Config() map[string]any { return map[string]any{} }

func testWindows() dataset.Windows {
	return dataset.Windows{
		X: [][][]float64{{{1}}, {{2}}, {{3}}},
		Y: [][]float64{{1}, {2}, {6}},
	}
}

func TestMeanAbsoluteError(t *testing.T) {
	mae, err := MeanAbsoluteError(&constModel{out: []float64{2}}, testWindows())
	require.NoError(t, err)
	assert.InDelta(t, (1.0+0+4)/3, mae, 1e-12)
}

func TestMAERandomSamplingReinitializesEverySample(t *testing.T) {
	model := &constModel{out: []float64{2}}
	result, err := MAERandomSampling{}.Fit(context.Background(), rand.New(rand.NewSource(1)), model, 5, testWindows(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, model.resets)
	assert.InDelta(t, 5.0/3, result[MetricMAE], 1e-12)
	assert.InDelta(t, 0.0, result[MetricStdDev], 1e-12)
	assert.Equal(t, 5.0, result[MetricNumSamples])
}

func TestMAERandomSamplingWithRNNIsReproducible(t *testing.T) {
	model, err := nn.RNNBuilder{}.BuildModel([]int{1, 3, 1}, nil)
	require.NoError(t, err)

	first, err := MAERandomSampling{}.Fit(context.Background(), rand.New(rand.NewSource(9)), model, 4, testWindows(), map[string]any{"init_range": 0.5})
	require.NoError(t, err)
	second, err := MAERandomSampling{}.Fit(context.Background(), rand.New(rand.NewSource(9)), model, 4, testWindows(), map[string]any{"init_range": 0.5})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.LessOrEqual(t, first[MetricMin], first[MetricMedian])
	assert.LessOrEqual(t, first[MetricMedian], first[MetricMax])
}

func TestMAERandomSamplingCoercesInitRange(t *testing.T) {
	ctx := context.Background()
	for name, tc := range map[string]struct {
		value any
		want  float64
	}{
		"default": {value: nil, want: defaultInitRange},
		"float":   {value: 0.25, want: 0.25},
		"int":     {value: 2, want: 2},
		"int64":   {value: int64(3), want: 3},
	} {
		t.Run(name, func(t *testing.T) {
			model := &constModel{out: []float64{0}}
			opts := map[string]any{}
			if tc.value != nil {
				opts["init_range"] = tc.value
			}
			_, err := MAERandomSampling{}.Fit(ctx, rand.New(rand.NewSource(1)), model, 1, testWindows(), opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, model.initRange)
		})
	}

	for _, bad := range []any{"2", 0, -1.5} {
		_, err := MAERandomSampling{}.Fit(ctx, rand.New(rand.NewSource(1)), &constModel{out: []float64{0}}, 1, testWindows(), map[string]any{"init_range": bad})
		assert.Error(t, err, "init_range=%v", bad)
	}
}

func TestMAERandomSamplingValidatesInputs(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	model := &constModel{out: []float64{0}}

	_, err := MAERandomSampling{}.Fit(ctx, rng, model, 0, testWindows(), nil)
	assert.Error(t, err)
	_, err = MAERandomSampling{}.Fit(ctx, nil, model, 1, testWindows(), nil)
	assert.Error(t, err)
	_, err = MAERandomSampling{}.Fit(ctx, rng, model, 1, dataset.Windows{}, nil)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = MAERandomSampling{}.Fit(cancelled, rng, model, 1, testWindows(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	result := Summarize([]float64{4, 1, 3, 2})
	assert.InDelta(t, 2.5, result[MetricMAE], 1e-12)
	assert.Equal(t, 1.0, result[MetricMin])
	assert.Equal(t, 4.0, result[MetricMax])
	assert.Greater(t, result[MetricStdDev], 0.0)
}

func TestFullSpaceListing(t *testing.T) {
	archs, err := FullSpaceListing{}.ListArchitectures(context.Background(), map[string]any{
		"min_layers": 1, "max_layers": 2, "min_neurons": 1, "max_neurons": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}, {2}, {1, 1}, {1, 2}, {2, 1}, {2, 2}}, archs)

	_, err = FullSpaceListing{}.ListArchitectures(context.Background(), map[string]any{
		"min_layers": 2, "max_layers": 1, "min_neurons": 1, "max_neurons": 2,
	})
	assert.Error(t, err)
}

func TestResolveRegistries(t *testing.T) {
	_, err := ResolveSampler("mae_random")
	require.NoError(t, err)
	_, err = ResolveSampler("nope")
	assert.ErrorIs(t, err, ErrSamplerNotFound)
	_, err = ResolveListing("full_space")
	require.NoError(t, err)
	_, err = ResolveListing("nope")
	assert.ErrorIs(t, err, ErrListingNotFound)
}
