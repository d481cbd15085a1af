package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"archsearch/internal/dataset"
	"archsearch/internal/evo"
	"archsearch/internal/genotype"
	"archsearch/internal/model"
	"archsearch/internal/nn"
	"archsearch/internal/problem"
	"archsearch/internal/sampling"
	"archsearch/internal/stats"
	"archsearch/internal/storage"
	"archsearch/internal/telemetry"
)

const (
	ModeSample   = "sample"
	ModeOptimize = "optimize"

	defaultPopulationSize = 10
	defaultGenerations    = 10
	defaultTopSolutions   = 5
)

// OptimizeAction searches the architecture space with the evolutionary
// engine and persists what it found.
type OptimizeAction struct {
	Seed      int64
	Verbose   bool
	Logger    *slog.Logger
	Store     storage.Store
	Metrics   *telemetry.Metrics
	Observers []evo.GenerationObserver
	RunID     string
	// TopN bounds the ranked solutions reported; 0 means 5.
	TopN int
}

type OptimizeResult struct {
	RunID        string
	Run          evo.RunResult
	Best         problem.SolutionSummary
	TopSolutions []stats.TopSolution
	RunDir       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type optimizeSettings struct {
	loader         dataset.Loader
	loaderParams   map[string]any
	split          string
	builder        nn.Builder
	builderName    string
	sampler        sampling.RandomSamplingFit
	numSamples     int
	bounds         problem.Bounds
	targets        []string
	direction      evo.Direction
	algorithm      evo.Algorithm
	params         map[string]float64
	mu             int
	lambda         int
	generations    int
	maxEvaluations int
	fitnessGoal    *float64
	workers        int
	options        map[string]any
	artifactsDir   string
}

func (a *OptimizeAction) ValidateConfig(cfg Config) error {
	_, err := parseOptimizeConfig(cfg)
	return err
}

func parseOptimizeConfig(cfg Config) (optimizeSettings, error) {
	var s optimizeSettings
	var err error

	if !cfg.has(KeyDataLoader) || !cfg.has(KeyDataLoaderParams) {
		return s, invalid("%s and %s are required", KeyDataLoader, KeyDataLoaderParams)
	}
	loaderName, err := cfg.String(KeyDataLoader)
	if err != nil {
		return s, err
	}
	if s.loader, err = dataset.ResolveLoader(loaderName); err != nil {
		return s, invalid("%v", err)
	}
	if s.loaderParams, err = cfg.Map(KeyDataLoaderParams); err != nil {
		return s, err
	}
	if s.split, err = cfg.String(KeyEvaluationSplit); err != nil {
		return s, err
	}

	if !cfg.has(KeyBuilder) {
		return s, invalid("%s is required", KeyBuilder)
	}
	if s.builderName, err = cfg.String(KeyBuilder); err != nil {
		return s, err
	}
	if s.builder, err = nn.ResolveBuilder(s.builderName); err != nil {
		return s, invalid("%v", err)
	}
	samplerName, err := cfg.String(KeySampler)
	if err != nil {
		return s, err
	}
	if samplerName == "" {
		samplerName = sampling.MAERandomSampling{}.Name()
	}
	if s.sampler, err = sampling.ResolveSampler(samplerName); err != nil {
		return s, invalid("%v", err)
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
	}{
		{KeyNumSamples, &s.numSamples, 0},
		{KeyMinLayers, &s.bounds.MinLayers, 0},
		{KeyMaxLayers, &s.bounds.MaxLayers, 0},
		{KeyMinNeurons, &s.bounds.MinNeurons, 0},
		{KeyMaxNeurons, &s.bounds.MaxNeurons, 0},
		{KeyMinLookBack, &s.bounds.MinLookBack, 0},
		{KeyMaxLookBack, &s.bounds.MaxLookBack, 0},
		{KeyPopulationSize, &s.mu, defaultPopulationSize},
		{KeyOffspringSize, &s.lambda, 0},
		{KeyGenerations, &s.generations, defaultGenerations},
		{KeyMaxEvaluations, &s.maxEvaluations, 0},
		{KeyWorkers, &s.workers, 1},
	}
	for _, field := range ints {
		if *field.dst, err = cfg.IntOr(field.key, field.fallback); err != nil {
			return s, err
		}
	}
	if goal, ok, err := cfg.Float(KeyFitnessGoal); err != nil {
		return s, err
	} else if ok {
		s.fitnessGoal = &goal
	}

	if s.targets, err = cfg.Strings(KeyTargets); err != nil {
		return s, err
	}
	directionName, err := cfg.String(KeyDirection)
	if err != nil {
		return s, err
	}
	var ok bool
	if s.direction, ok = evo.ParseDirection(directionName); !ok {
		return s, invalid("%s: unknown direction %q", KeyDirection, directionName)
	}
	algorithmName, err := cfg.String(KeyAlgorithm)
	if err != nil {
		return s, err
	}
	if s.algorithm, err = evo.ResolveAlgorithm(algorithmName); err != nil {
		return s, invalid("%v", err)
	}
	if s.params, err = cfg.FloatMap(KeyAlgorithmParams); err != nil {
		return s, err
	}
	if _, err := s.algorithm.DefaultParams().Merge(s.params); err != nil {
		return s, invalid("%v", err)
	}
	if s.options, err = cfg.Map(KeyOptions); err != nil {
		return s, err
	}
	if s.artifactsDir, err = cfg.String(KeyArtifactsDir); err != nil {
		return s, err
	}
	return s, nil
}

func (a *OptimizeAction) Do(ctx context.Context, cfg Config) (OptimizeResult, error) {
	settings, err := parseOptimizeConfig(cfg)
	if err != nil {
		return OptimizeResult{}, err
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := a.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("run_id", runID)
	out := OptimizeResult{RunID: runID, StartedAt: time.Now().UTC()}

	ds, err := settings.loader.Load(ctx, settings.loaderParams)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("load data: %w", err)
	}
	frame, err := evaluationFrame(ds, settings.split)
	if err != nil {
		return OptimizeResult{}, err
	}

	prob, err := problem.NewTimeSeriesMAEProblem(problem.TimeSeriesConfig{
		Data:       frame,
		Targets:    settings.targets,
		XFeatures:  ds.XFeatures,
		YFeatures:  ds.YFeatures,
		NumSamples: settings.numSamples,
		Bounds:     settings.bounds,
		Builder:    settings.builder,
		Sampler:    settings.sampler,
		Options:    settings.options,
		Verbose:    a.Verbose,
		Logger:     logger,
	})
	if err != nil {
		return OptimizeResult{}, err
	}

	observers := append([]evo.GenerationObserver(nil), a.Observers...)
	if a.Metrics != nil {
		observers = append(observers, a.Metrics.ForRun(runID))
	}
	engine, err := evo.NewEngine(evo.EngineConfig{
		Problem:        prob,
		Algorithm:      settings.algorithm,
		Mu:             settings.mu,
		Lambda:         settings.lambda,
		Generations:    settings.generations,
		MaxEvaluations: settings.maxEvaluations,
		FitnessGoal:    settings.fitnessGoal,
		Direction:      settings.direction,
		Params:         settings.params,
		Workers:        settings.workers,
		Seed:           a.Seed,
		Logger:         logger,
		Observers:      observers,
	})
	if err != nil {
		return OptimizeResult{}, invalid("%v", err)
	}

	run, err := engine.Run(ctx)
	if err != nil {
		return OptimizeResult{}, err
	}
	out.Run = run
	out.FinishedAt = time.Now().UTC()

	if out.Best, err = prob.SolutionSummary(run.Best); err != nil {
		return OptimizeResult{}, err
	}
	topN := a.TopN
	if topN <= 0 {
		topN = defaultTopSolutions
	}
	for i, solution := range run.FinalPopulation {
		if i == topN {
			break
		}
		summary, err := prob.SolutionSummary(solution)
		if err != nil {
			return OptimizeResult{}, err
		}
		out.TopSolutions = append(out.TopSolutions, stats.TopSolution{
			Rank:       i + 1,
			SolutionID: summary.SolutionID,
			Fitness:    summary.Fitness,
			LookBack:   summary.LookBack,
			Layers:     summary.Layers,
		})
	}

	if a.Store != nil {
		if err := a.persist(ctx, prob, settings, out); err != nil {
			return OptimizeResult{}, err
		}
	}
	if settings.artifactsDir != "" {
		if out.RunDir, err = writeArtifacts(settings, a.Seed, prob, out); err != nil {
			return OptimizeResult{}, fmt.Errorf("write artifacts: %w", err)
		}
	}

	logger.Info("optimization complete",
		"generations", run.Generations,
		"evaluations", run.Evaluations,
		"stop_reason", run.StopReason,
		"best_layers", out.Best.Layers,
		"best_look_back", out.Best.LookBack,
		"best_fitness", out.Best.Fitness,
	)
	return out, nil
}

func (a *OptimizeAction) persist(ctx context.Context, prob *problem.TimeSeriesMAEProblem, settings optimizeSettings, out OptimizeResult) error {
	best := genotype.ToRecord(out.Run.Best)
	run := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              out.RunID,
		Mode:            ModeOptimize,
		Algorithm:       settings.algorithm.Name(),
		Seed:            a.Seed,
		Targets:         prob.Targets(),
		Params:          out.Run.Params,
		Generations:     out.Run.Generations,
		Evaluations:     out.Run.Evaluations,
		BestSolution:    &best,
		StartedAt:       out.StartedAt,
		FinishedAt:      out.FinishedAt,
	}
	if err := a.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	population := model.Population{
		VersionedRecord: storage.Versioned(),
		ID:              storage.PopulationID(out.RunID, out.Run.Generations),
		RunID:           out.RunID,
		Generation:      out.Run.Generations,
	}
	for _, solution := range out.Run.FinalPopulation {
		population.Solutions = append(population.Solutions, genotype.ToRecord(solution))
	}
	if err := a.Store.SavePopulation(ctx, population); err != nil {
		return fmt.Errorf("save population: %w", err)
	}
	if err := a.Store.SaveFitnessHistory(ctx, out.RunID, out.Run.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := a.Store.SaveGenerationDiagnostics(ctx, out.RunID, out.Run.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := a.Store.SaveLineage(ctx, out.RunID, out.Run.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	return nil
}

func writeArtifacts(settings optimizeSettings, seed int64, prob *problem.TimeSeriesMAEProblem, out OptimizeResult) (string, error) {
	bounds := prob.Bounds()
	finalBest := 0.0
	if n := len(out.Run.BestByGeneration); n > 0 {
		finalBest = out.Run.BestByGeneration[n-1]
	}
	runDir, err := stats.WriteRunArtifacts(settings.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          out.RunID,
			Mode:           ModeOptimize,
			Algorithm:      settings.algorithm.Name(),
			Seed:           seed,
			Mu:             settings.mu,
			Lambda:         settings.lambda,
			Generations:    settings.generations,
			MaxEvaluations: settings.maxEvaluations,
			FitnessGoal:    settings.fitnessGoal,
			Workers:        settings.workers,
			Direction:      settings.direction.String(),
			Targets:        prob.Targets(),
			Params:         out.Run.Params,
			Bounds: stats.SearchBounds{
				MinLayers:   bounds.MinLayers,
				MaxLayers:   bounds.MaxLayers,
				MinNeurons:  bounds.MinNeurons,
				MaxNeurons:  bounds.MaxNeurons,
				MinLookBack: bounds.MinLookBack,
				MaxLookBack: bounds.MaxLookBack,
			},
			NumSamples: settings.numSamples,
			DataLoader: settings.loader.Name(),
			DataParams: settings.loaderParams,
			Builder:    settings.builderName,
			Sampler:    settings.sampler.Name(),
			Options:    settings.options,
		},
		BestByGeneration: out.Run.BestByGeneration,
		Diagnostics:      out.Run.Diagnostics,
		FinalBestFitness: finalBest,
		TopSolutions:     out.TopSolutions,
		Lineage:          out.Run.Lineage,
	})
	if err != nil {
		return "", err
	}
	err = stats.AppendRunIndex(settings.artifactsDir, stats.RunIndexEntry{
		RunID:            out.RunID,
		Mode:             ModeOptimize,
		Generations:      out.Run.Generations,
		Evaluations:      out.Run.Evaluations,
		Seed:             seed,
		Workers:          settings.workers,
		FinalBestFitness: finalBest,
		CreatedAtUTC:     out.FinishedAt.Format(time.RFC3339Nano),
	})
	return runDir, err
}
