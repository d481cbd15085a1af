// Package archsearch is the programmatic entry point for architecture search
// runs: evolutionary optimization, exhaustive sampling and run inspection.
package archsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"archsearch/internal/action"
	"archsearch/internal/genotype"
	"archsearch/internal/model"
	"archsearch/internal/stats"
	"archsearch/internal/storage"
	"archsearch/internal/telemetry"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "archsearch.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics

	artifactsDir string
	exportsDir   string

	initOnce sync.Once
	initErr  error
}

// RunRequest carries the configuration bag of an optimization run; see the
// action package for its keys.
type RunRequest struct {
	Config  map[string]any
	Seed    int64
	RunID   string
	Verbose bool
	TopN    int
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByGeneration []float64
	FinalBestFitness float64
	// BestLayers are the full layer sizes, input and output included.
	BestLayers   []int
	BestLookBack int
	BestFitness  map[string]float64
	Generations  int
	Evaluations  int
	StopReason   string
}

type SampleRequest struct {
	Config  map[string]any
	Seed    int64
	RunID   string
	Verbose bool
}

type SampleSummary struct {
	RunID         string
	Architectures int
	Records       []model.SamplingRecord
	CSVPath       string
}

type RunsRequest struct {
	Limit int
	Mode  string
}

type RunItem struct {
	RunID       string
	Mode        string
	Seed        int64
	Generations int
	Evaluations int
	BestFitness map[string]float64
	StartedAt   string
	FinishedAt  string
}

// RunRef selects a run by id, or the most recent one when Latest is set.
type RunRef struct {
	RunID  string
	Latest bool
}

type FitnessHistoryRequest struct {
	RunRef
	Limit int
}

type DiagnosticsRequest struct {
	RunRef
	Limit int
}

type LineageRequest struct {
	RunRef
	Limit int
}

type TopSolutionsRequest struct {
	RunRef
	Limit int
}

// SolutionItem is a ranked solution read back from the store. Only the hidden
// layers are known there; input and output widths come from the dataset.
type SolutionItem struct {
	Rank         int
	SolutionID   string
	LookBack     int
	HiddenLayers []int
	Fitness      map[string]float64
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" && storeKind == "sqlite" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. Every other method calls it, so calling it
// directly is only needed to surface store errors early.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Optimize(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	cfg := copyConfig(req.Config)
	if _, ok := cfg[action.KeyArtifactsDir]; !ok {
		cfg[action.KeyArtifactsDir] = c.artifactsDir
	}

	a := &action.OptimizeAction{
		Seed:    req.Seed,
		Verbose: req.Verbose,
		Logger:  c.logger,
		Store:   c.store,
		Metrics: c.metrics,
		RunID:   req.RunID,
		TopN:    req.TopN,
	}
	result, err := a.Do(ctx, cfg)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:            result.RunID,
		ArtifactsDir:     result.RunDir,
		BestByGeneration: result.Run.BestByGeneration,
		BestLayers:       result.Best.Layers,
		BestLookBack:     result.Best.LookBack,
		BestFitness:      result.Best.Fitness,
		Generations:      result.Run.Generations,
		Evaluations:      result.Run.Evaluations,
		StopReason:       result.Run.StopReason,
	}
	if n := len(result.Run.BestByGeneration); n > 0 {
		summary.FinalBestFitness = result.Run.BestByGeneration[n-1]
	}
	return summary, nil
}

// Sample runs the enumeration sweep. Records go to the store and, when an
// artifacts directory is configured, to a CSV file under the run directory.
func (c *Client) Sample(ctx context.Context, req SampleRequest) (SampleSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SampleSummary{}, err
	}
	cfg := copyConfig(req.Config)
	a := &action.RandomSamplerAction{
		Seed:    req.Seed,
		Verbose: req.Verbose,
		Logger:  c.logger,
		Store:   c.store,
		Metrics: c.metrics,
		RunID:   req.RunID,
	}
	if err := a.ValidateConfig(cfg); err != nil {
		return SampleSummary{}, err
	}
	if a.RunID == "" {
		a.RunID = uuid.NewString()
	}

	outputs := stats.MultiOutputLogger{stats.StoreOutputLogger{Store: c.store, RunID: a.RunID}}
	var csvPath string
	if c.artifactsDir != "" {
		runDir := filepath.Join(c.artifactsDir, a.RunID)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return SampleSummary{}, err
		}
		csvPath = filepath.Join(runDir, stats.SamplingFile)
		csvLogger, err := stats.CreateCSVOutputLogger(csvPath)
		if err != nil {
			return SampleSummary{}, err
		}
		outputs = append(outputs, csvLogger)
	}
	a.Output = outputs

	result, err := a.Do(ctx, cfg)
	closeErr := outputs.Close()
	if err != nil {
		return SampleSummary{}, err
	}
	if closeErr != nil {
		return SampleSummary{}, closeErr
	}
	return SampleSummary{
		RunID:         result.RunID,
		Architectures: result.Architectures,
		Records:       result.Records,
		CSVPath:       csvPath,
	}, nil
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(runs))
	for i := len(runs) - 1; i >= 0 && len(out) < req.Limit; i-- {
		run := runs[i]
		if req.Mode != "" && run.Mode != req.Mode {
			continue
		}
		item := RunItem{
			RunID:       run.ID,
			Mode:        run.Mode,
			Seed:        run.Seed,
			Generations: run.Generations,
			Evaluations: run.Evaluations,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			FinishedAt:  run.FinishedAt.Format(time.RFC3339),
		}
		if run.BestSolution != nil {
			item.BestFitness = run.BestSolution.Fitness
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRun(ctx, req.RunRef, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return history, nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRun(ctx, req.RunRef, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return diagnostics, nil
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRun(ctx, req.RunRef, "lineage")
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return lineage, nil
}

// TopSolutions ranks the final population of an optimization run.
func (c *Client) TopSolutions(ctx context.Context, req TopSolutionsRequest) ([]SolutionItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	population, err := c.FinalPopulation(ctx, req.RunRef)
	if err != nil {
		return nil, err
	}
	solutions := population.Solutions
	if req.Limit > 0 && len(solutions) > req.Limit {
		solutions = solutions[:req.Limit]
	}

	out := make([]SolutionItem, 0, len(solutions))
	for i, record := range solutions {
		arch := genotype.ArchitectureOf(record.Encodings[genotype.ArchitectureKey])
		out = append(out, SolutionItem{
			Rank:         i + 1,
			SolutionID:   record.ID,
			LookBack:     arch.LookBack,
			HiddenLayers: arch.Layers,
			Fitness:      record.Fitness,
		})
	}
	return out, nil
}

// FinalPopulation returns the surviving population of an optimization run,
// best first.
func (c *Client) FinalPopulation(ctx context.Context, ref RunRef) (model.Population, error) {
	runID, err := c.resolveRun(ctx, ref, "population")
	if err != nil {
		return model.Population{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.Population{}, err
	}
	if !ok {
		return model.Population{}, fmt.Errorf("run not found: %s", runID)
	}
	population, ok, err := c.store.GetPopulation(ctx, storage.PopulationID(runID, run.Generations))
	if err != nil {
		return model.Population{}, err
	}
	if !ok {
		return model.Population{}, fmt.Errorf("population not found for run id: %s", runID)
	}
	return population, nil
}

func (c *Client) SamplingRecords(ctx context.Context, ref RunRef) ([]model.SamplingRecord, error) {
	runID, err := c.resolveRun(ctx, ref, "sampling records")
	if err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetSamplingRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sampling records not found for run id: %s", runID)
	}
	return records, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRun(ctx, req.RunRef, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRun(ctx context.Context, ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.RunID == "" && !ref.Latest {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[len(runs)-1].ID, nil
}

func copyConfig(cfg map[string]any) action.Config {
	out := make(action.Config, len(cfg)+1)
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
