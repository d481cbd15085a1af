package problem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"archsearch/internal/dataset"
	"archsearch/internal/genotype"
	"archsearch/internal/nn"
	"archsearch/internal/sampling"
)

const defaultNumSamples = 30

// Bounds delimits the architecture search space.
type Bounds struct {
	MinLayers   int `json:"min_layers"`
	MaxLayers   int `json:"max_layers"`
	MinNeurons  int `json:"min_neurons"`
	MaxNeurons  int `json:"max_neurons"`
	MinLookBack int `json:"min_look_back"`
	MaxLookBack int `json:"max_look_back"`
}

type TimeSeriesConfig struct {
	Data       dataset.Frame
	Targets    []string
	XFeatures  []string
	YFeatures  []string
	NumSamples int
	Bounds     Bounds
	Builder    nn.Builder
	Sampler    sampling.RandomSamplingFit
	// Options is forwarded to both the builder and the sampler.
	Options map[string]any
	Verbose bool
	Logger  *slog.Logger
}

// TimeSeriesMAEProblem searches [look_back, n1, ..., nk] genomes whose
// fitness is the sampled prediction error of the decoded recurrent network.
type TimeSeriesMAEProblem struct {
	data       dataset.Frame
	targets    []string
	xFeatures  []string
	yFeatures  []string
	numSamples int
	bounds     Bounds
	builder    nn.Builder
	sampler    sampling.RandomSamplingFit
	options    map[string]any
	verbose    bool
	logger     *slog.Logger
}

var (
	_ Problem                 = (*TimeSeriesMAEProblem)(nil)
	_ Decoder[DecodedNetwork] = (*TimeSeriesMAEProblem)(nil)
)

// DecodedNetwork is the artifact a genome stands for.
type DecodedNetwork struct {
	Layers   []int
	LookBack int
	Model    nn.Model
}

func NewTimeSeriesMAEProblem(cfg TimeSeriesConfig) (*TimeSeriesMAEProblem, error) {
	if cfg.Builder == nil {
		return nil, configError("builder", "a model builder is required")
	}
	if cfg.Sampler == nil {
		return nil, configError("sampler", "a random sampling fit implementation is required")
	}
	if len(cfg.Data.Columns) == 0 || cfg.Data.Len() == 0 {
		return nil, configError("data", "a non-empty frame is required")
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = []string{sampling.MetricMAE}
	}
	if len(cfg.XFeatures) == 0 {
		cfg.XFeatures = append([]string(nil), cfg.Data.Columns...)
	}
	if len(cfg.YFeatures) == 0 {
		cfg.YFeatures = append([]string(nil), cfg.Data.Columns...)
	}
	if err := cfg.Data.HasColumns(cfg.XFeatures); err != nil {
		return nil, configError("x_features", "%v", err)
	}
	if err := cfg.Data.HasColumns(cfg.YFeatures); err != nil {
		return nil, configError("y_features", "%v", err)
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = defaultNumSamples
	}
	if cfg.NumSamples < 1 {
		return nil, configError("num_samples", "must be >= 1, got %d", cfg.NumSamples)
	}
	bounds, err := normalizeBounds(cfg.Bounds)
	if err != nil {
		return nil, err
	}
	if cfg.Data.Len() <= bounds.MaxLookBack {
		return nil, configError("max_look_back", "%d leaves no complete window in %d rows", bounds.MaxLookBack, cfg.Data.Len())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	options := make(map[string]any, len(cfg.Options))
	for k, v := range cfg.Options {
		options[k] = v
	}

	return &TimeSeriesMAEProblem{
		data:       cfg.Data,
		targets:    append([]string(nil), cfg.Targets...),
		xFeatures:  append([]string(nil), cfg.XFeatures...),
		yFeatures:  append([]string(nil), cfg.YFeatures...),
		numSamples: cfg.NumSamples,
		bounds:     bounds,
		builder:    cfg.Builder,
		sampler:    cfg.Sampler,
		options:    options,
		verbose:    cfg.Verbose,
		logger:     cfg.Logger,
	}, nil
}

// normalizeBounds fills unset (zero) bounds with 1 and rejects inverted or
// non-positive ranges.
func normalizeBounds(b Bounds) (Bounds, error) {
	fields := []struct {
		name string
		v    *int
	}{
		{"min_layers", &b.MinLayers}, {"max_layers", &b.MaxLayers},
		{"min_neurons", &b.MinNeurons}, {"max_neurons", &b.MaxNeurons},
		{"min_look_back", &b.MinLookBack}, {"max_look_back", &b.MaxLookBack},
	}
	for _, f := range fields {
		if *f.v == 0 {
			*f.v = 1
		}
		if *f.v < 1 {
			return Bounds{}, configError(f.name, "must be >= 1, got %d", *f.v)
		}
	}
	if b.MaxLayers < b.MinLayers {
		return Bounds{}, configError("max_layers", "%d is below min_layers %d", b.MaxLayers, b.MinLayers)
	}
	if b.MaxNeurons < b.MinNeurons {
		return Bounds{}, configError("max_neurons", "%d is below min_neurons %d", b.MaxNeurons, b.MinNeurons)
	}
	if b.MaxLookBack < b.MinLookBack {
		return Bounds{}, configError("max_look_back", "%d is below min_look_back %d", b.MaxLookBack, b.MinLookBack)
	}
	return b, nil
}

func (p *TimeSeriesMAEProblem) Targets() []string {
	return append([]string(nil), p.targets...)
}

func (p *TimeSeriesMAEProblem) Bounds() Bounds {
	return p.bounds
}

func (p *TimeSeriesMAEProblem) NextSolution(rng *rand.Rand) *genotype.Solution {
	solution := genotype.NewSolution(p.targets, []string{genotype.ArchitectureKey})
	solution.ID = genotype.NewSolutionID(rng)
	numLayers := uniformInt(rng, p.bounds.MinLayers, p.bounds.MaxLayers)
	layers := make([]int, numLayers)
	for i := range layers {
		layers[i] = uniformInt(rng, p.bounds.MinNeurons, p.bounds.MaxNeurons)
	}
	arch := genotype.Architecture{
		LookBack: uniformInt(rng, p.bounds.MinLookBack, p.bounds.MaxLookBack),
		Layers:   layers,
	}
	_ = solution.SetEncoded(genotype.ArchitectureKey, arch.Encode())
	return solution
}

// ValidateSolution clamps the look-back, pads or truncates the layer list to
// the layer bounds and clamps every width. Padding uses MinNeurons.
func (p *TimeSeriesMAEProblem) ValidateSolution(solution *genotype.Solution) {
	_ = solution.Update(genotype.ArchitectureKey, func(genes []int) []int {
		arch := genotype.ArchitectureOf(genes)
		if len(genes) == 0 {
			arch.LookBack = p.bounds.MinLookBack
		}
		arch.LookBack = clamp(arch.LookBack, p.bounds.MinLookBack, p.bounds.MaxLookBack)
		for len(arch.Layers) < p.bounds.MinLayers {
			arch.Layers = append(arch.Layers, p.bounds.MinNeurons)
		}
		if len(arch.Layers) > p.bounds.MaxLayers {
			arch.Layers = arch.Layers[:p.bounds.MaxLayers]
		}
		for i := range arch.Layers {
			arch.Layers[i] = clamp(arch.Layers[i], p.bounds.MinNeurons, p.bounds.MaxNeurons)
		}
		return arch.Encode()
	})
}

func (p *TimeSeriesMAEProblem) DecodeSolution(solution *genotype.Solution) (DecodedNetwork, error) {
	arch := genotype.ArchitectureOf(solution.Encoded(genotype.ArchitectureKey))
	layers := arch.LayerSizes(len(p.xFeatures), len(p.yFeatures))
	model, err := p.builder.BuildModel(layers, p.options)
	if err != nil {
		return DecodedNetwork{}, fmt.Errorf("build model %v: %w", layers, err)
	}
	return DecodedNetwork{Layers: layers, LookBack: arch.LookBack, Model: model}, nil
}

func (p *TimeSeriesMAEProblem) Evaluate(ctx context.Context, rng *rand.Rand, solution *genotype.Solution) error {
	solution.ResetFitness()
	decoded, err := p.DecodeSolution(solution)
	if err != nil {
		return err
	}
	windows, err := dataset.ChopData(p.data, p.xFeatures, p.yFeatures, decoded.LookBack)
	if err != nil {
		return fmt.Errorf("chop data for look back %d: %w", decoded.LookBack, err)
	}
	results, err := p.sampler.Fit(ctx, rng, decoded.Model, p.numSamples, windows, p.options)
	if err != nil {
		return fmt.Errorf("sample %v: %w", decoded.Layers, err)
	}
	if p.verbose {
		p.logger.Info("sampled architecture", "solution_id", solution.ID, "layers", decoded.Layers, "look_back", decoded.LookBack, "results", map[string]float64(results))
	}
	for _, target := range p.targets {
		value, ok := results[target]
		if !ok {
			solution.ResetFitness()
			return fmt.Errorf("sampler %s returned no %q objective", p.sampler.Name(), target)
		}
		if err := solution.SetFitness(target, value); err != nil {
			return err
		}
	}
	return nil
}

// SolutionSummary describes a solution for reports.
type SolutionSummary struct {
	SolutionID  string             `json:"solution_id"`
	Layers      []int              `json:"layers"`
	LookBack    int                `json:"look_back"`
	ModelConfig map[string]any     `json:"model_config"`
	Fitness     map[string]float64 `json:"fitness"`
}

func (p *TimeSeriesMAEProblem) SolutionSummary(solution *genotype.Solution) (SolutionSummary, error) {
	decoded, err := p.DecodeSolution(solution)
	if err != nil {
		return SolutionSummary{}, err
	}
	return SolutionSummary{
		SolutionID:  solution.ID,
		Layers:      decoded.Layers,
		LookBack:    decoded.LookBack,
		ModelConfig: decoded.Model.Config(),
		Fitness:     solution.FitnessMap(),
	}, nil
}
