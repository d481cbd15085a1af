package storage

import (
	"context"
	"fmt"

	"archsearch/internal/model"
)

// Store persists run summaries and the per-generation artifacts of a search.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run ordered by start time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
	// AppendSamplingRecords adds records after those already stored for runID.
	AppendSamplingRecords(ctx context.Context, runID string, records []model.SamplingRecord) error
	GetSamplingRecords(ctx context.Context, runID string) ([]model.SamplingRecord, bool, error)
}

// PopulationID names the population snapshot of a run at a generation.
func PopulationID(runID string, generation int) string {
	return fmt.Sprintf("%s/gen-%06d", runID, generation)
}
