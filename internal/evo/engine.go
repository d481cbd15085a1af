package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"

	"archsearch/internal/genotype"
	"archsearch/internal/model"
	"archsearch/internal/problem"
)

var ErrEvaluation = errors.New("evaluation failed")

const (
	StopGenerations = "generations"
	StopEvaluations = "evaluations"
	StopFitnessGoal = "fitness_goal"
)

type EngineConfig struct {
	Problem   problem.Problem
	Algorithm Algorithm
	// Mu is the population size; Lambda the offspring count per generation
	// (defaults to Mu).
	Mu          int
	Lambda      int
	Generations int
	// MaxEvaluations caps total evaluations, initial population included
	// (0 disables).
	MaxEvaluations int
	// FitnessGoal stops the run once the best primary fitness reaches it.
	FitnessGoal *float64
	Direction   Direction
	Params      map[string]float64
	Workers     int
	Seed        int64
	Logger      *slog.Logger
	Observers   []GenerationObserver
}

// GenerationReport is handed to observers after every generation, the
// initial population being generation 0.
type GenerationReport struct {
	Generation  int
	Evaluations int
	Best        *genotype.Solution
	Diagnostics model.GenerationDiagnostics
}

type GenerationObserver interface {
	ObserveGeneration(report GenerationReport)
}

// EvaluationObserver is optionally implemented by observers that also want
// per-evaluation timings. It may be called concurrently.
type EvaluationObserver interface {
	ObserveEvaluation(elapsed time.Duration, err error)
}

type RunResult struct {
	Best             *genotype.Solution
	FinalPopulation  []*genotype.Solution
	BestByGeneration []float64
	Diagnostics      []model.GenerationDiagnostics
	Lineage          []model.LineageRecord
	Params           Params
	Generations      int
	Evaluations      int
	StopReason       string
}

// Engine drives the generational loop of an Algorithm over a Problem.
type Engine struct {
	cfg    EngineConfig
	params Params
	cmp    Comparator
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Problem == nil {
		return nil, fmt.Errorf("problem is required")
	}
	if cfg.Algorithm == nil {
		return nil, fmt.Errorf("algorithm is required")
	}
	if cfg.Mu <= 0 {
		return nil, fmt.Errorf("mu must be > 0")
	}
	if cfg.Lambda == 0 {
		cfg.Lambda = cfg.Mu
	}
	if cfg.Lambda < 0 {
		return nil, fmt.Errorf("lambda must be > 0")
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("generations must be >= 0")
	}
	if cfg.MaxEvaluations < 0 {
		return nil, fmt.Errorf("max evaluations must be >= 0")
	}
	if cfg.MaxEvaluations > 0 && cfg.MaxEvaluations < cfg.Mu {
		return nil, fmt.Errorf("max evaluations %d cannot cover the initial population of %d", cfg.MaxEvaluations, cfg.Mu)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	targets := cfg.Problem.Targets()
	if len(targets) == 0 {
		return nil, fmt.Errorf("problem declares no targets")
	}
	params, err := cfg.Algorithm.DefaultParams().Merge(cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		cfg:    cfg,
		params: params,
		cmp:    Comparator{Targets: targets, Direction: cfg.Direction},
	}, nil
}

func (e *Engine) Params() Params {
	out := make(Params, len(e.params))
	for k, v := range e.params {
		out[k] = v
	}
	return out
}

// Run executes one seeded run. Two runs with the same configuration produce
// the same trajectory regardless of the worker count.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	rng := rand.New(rand.NewSource(e.cfg.Seed))
	better := e.cmp.Better
	logger := e.cfg.Logger.With("algorithm", e.cfg.Algorithm.Name())

	result := RunResult{
		Params:           e.Params(),
		BestByGeneration: make([]float64, 0, e.cfg.Generations+1),
		Diagnostics:      make([]model.GenerationDiagnostics, 0, e.cfg.Generations+1),
		StopReason:       StopGenerations,
	}

	population := make([]*genotype.Solution, 0, e.cfg.Mu)
	for i := 0; i < e.cfg.Mu; i++ {
		solution := e.cfg.Problem.NextSolution(rng)
		e.cfg.Problem.ValidateSolution(solution)
		population = append(population, solution)
		result.Lineage = append(result.Lineage, lineageRecord(solution, "", 0, "seed"))
	}
	if err := e.evaluateBatch(ctx, rng, population); err != nil {
		return RunResult{}, err
	}
	result.Evaluations += len(population)
	population = e.cfg.Algorithm.Replace(population, nil, e.cfg.Mu, better)
	e.record(&result, logger, population, nil, 0)

	for gen := 1; gen <= e.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if e.goalReached(population[0]) {
			result.StopReason = StopFitnessGoal
			break
		}
		lambda := e.cfg.Lambda
		if e.cfg.MaxEvaluations > 0 {
			remaining := e.cfg.MaxEvaluations - result.Evaluations
			if remaining <= 0 {
				result.StopReason = StopEvaluations
				break
			}
			if remaining < lambda {
				lambda = remaining
			}
		}

		parents, err := e.cfg.Algorithm.Select(rng, population, lambda, better)
		if err != nil {
			return RunResult{}, fmt.Errorf("select generation %d: %w", gen, err)
		}
		offspring := make([]*genotype.Solution, 0, len(parents))
		for _, parent := range parents {
			child := parent.Clone(genotype.NewSolutionID(rng))
			child.ResetFitness()
			ops, err := e.cfg.Algorithm.Mutate(rng, e.params, child)
			if err != nil {
				return RunResult{}, fmt.Errorf("mutate %s: %w", child.ID, err)
			}
			e.cfg.Problem.ValidateSolution(child)
			operation := "clone"
			if len(ops) > 0 {
				operation = strings.Join(ops, "+")
			}
			offspring = append(offspring, child)
			result.Lineage = append(result.Lineage, lineageRecord(child, parent.ID, gen, operation))
		}

		if err := e.evaluateBatch(ctx, rng, offspring); err != nil {
			return RunResult{}, err
		}
		result.Evaluations += len(offspring)
		population = e.cfg.Algorithm.Replace(population, offspring, e.cfg.Mu, better)
		e.record(&result, logger, population, offspring, gen)
	}

	if result.StopReason == StopGenerations && e.goalReached(population[0]) {
		result.StopReason = StopFitnessGoal
	}
	result.Best = population[0]
	result.FinalPopulation = population
	return result, nil
}

func (e *Engine) goalReached(best *genotype.Solution) bool {
	if e.cfg.FitnessGoal == nil {
		return false
	}
	v := e.cmp.Primary(best)
	if math.IsNaN(v) {
		return false
	}
	if e.cfg.Direction == Maximize {
		return v >= *e.cfg.FitnessGoal
	}
	return v <= *e.cfg.FitnessGoal
}

// evaluateBatch scores every solution before returning. Evaluation seeds are
// drawn from rng in slice order before any work is dispatched.
func (e *Engine) evaluateBatch(ctx context.Context, rng *rand.Rand, batch []*genotype.Solution) error {
	seeds := make([]int64, len(batch))
	for i := range batch {
		seeds[i] = rng.Int63()
	}

	if e.cfg.Workers == 1 || len(batch) < 2 {
		for i, solution := range batch {
			if err := e.evaluateOne(ctx, seeds[i], solution); err != nil {
				return err
			}
		}
		return nil
	}

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(e.cfg.Workers).
		WithCancelOnError().
		WithFirstError()
	for i, solution := range batch {
		p.Go(func(ctx context.Context) error {
			return e.evaluateOne(ctx, seeds[i], solution)
		})
	}
	return p.Wait()
}

func (e *Engine) evaluateOne(ctx context.Context, seed int64, solution *genotype.Solution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := e.cfg.Problem.Evaluate(ctx, rand.New(rand.NewSource(seed)), solution)
	if err == nil && !solution.Evaluated() {
		err = fmt.Errorf("problem left targets unscored")
	}
	if err != nil {
		solution.ResetFitness()
		err = fmt.Errorf("%w: solution %s: %w", ErrEvaluation, solution.ID, err)
	}
	elapsed := time.Since(start)
	for _, observer := range e.cfg.Observers {
		if eo, ok := observer.(EvaluationObserver); ok {
			eo.ObserveEvaluation(elapsed, err)
		}
	}
	e.cfg.Logger.Debug("evaluated solution", "solution_id", solution.ID, "elapsed", elapsed, "fitness", solution.FitnessMap(), "error", err)
	return err
}

func (e *Engine) record(result *RunResult, logger *slog.Logger, population, offspring []*genotype.Solution, generation int) {
	diagnostics := summarizeGeneration(e.cmp, population, offspring, generation, result.Evaluations)
	result.Generations = generation
	result.BestByGeneration = append(result.BestByGeneration, diagnostics.BestFitness)
	result.Diagnostics = append(result.Diagnostics, diagnostics)

	logger.Info("generation complete",
		"generation", generation,
		"evaluations", result.Evaluations,
		"best", diagnostics.BestFitness,
		"mean", diagnostics.MeanFitness,
		"distinct", diagnostics.DistinctGenomes,
	)
	report := GenerationReport{
		Generation:  generation,
		Evaluations: result.Evaluations,
		Best:        population[0],
		Diagnostics: diagnostics,
	}
	for _, observer := range e.cfg.Observers {
		observer.ObserveGeneration(report)
	}
}

// summarizeGeneration expects population ranked best first.
func summarizeGeneration(cmp Comparator, population, offspring []*genotype.Solution, generation, evaluations int) model.GenerationDiagnostics {
	if len(population) == 0 {
		return model.GenerationDiagnostics{Generation: generation, Evaluations: evaluations}
	}
	scores := make([]float64, 0, len(population))
	genomeLength := 0
	distinct := make(map[string]struct{}, len(population))
	for _, solution := range population {
		if v := cmp.Primary(solution); !math.IsNaN(v) {
			scores = append(scores, v)
		}
		for _, key := range solution.EncodingKeys() {
			genomeLength += len(solution.Encoded(key))
		}
		distinct[solution.Signature()] = struct{}{}
	}

	offspringIDs := make(map[string]struct{}, len(offspring))
	for _, child := range offspring {
		offspringIDs[child.ID] = struct{}{}
	}
	survived := 0
	for _, solution := range population {
		if _, ok := offspringIDs[solution.ID]; ok {
			survived++
		}
	}

	out := model.GenerationDiagnostics{
		Generation:        generation,
		Evaluations:       evaluations,
		BestFitness:       cmp.Primary(population[0]),
		WorstFitness:      cmp.Primary(population[len(population)-1]),
		MeanGenomeLength:  float64(genomeLength) / float64(len(population)),
		DistinctGenomes:   len(distinct),
		OffspringSurvived: survived,
	}
	if len(scores) > 0 {
		out.MeanFitness = stat.Mean(scores, nil)
	}
	if len(scores) > 1 {
		out.FitnessStdDev = stat.StdDev(scores, nil)
	}
	return out
}

func lineageRecord(solution *genotype.Solution, parentID string, generation int, operation string) model.LineageRecord {
	return model.LineageRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: genotype.SchemaVersion, CodecVersion: genotype.CodecVersion},
		SolutionID:      solution.ID,
		ParentID:        parentID,
		Generation:      generation,
		Operation:       operation,
		Encoding:        append([]int(nil), solution.Encoded(genotype.ArchitectureKey)...),
	}
}
