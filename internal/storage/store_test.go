package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"archsearch/internal/model"
)

func sampleRun(id string, started time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: Versioned(),
		ID:              id,
		Mode:            "optimize",
		Algorithm:       "mu_plus_lambda",
		Seed:            7,
		Targets:         []string{"mae"},
		Params:          map[string]float64{"p_mutation_i": 0.1},
		Generations:     3,
		Evaluations:     12,
		BestSolution: &model.SolutionRecord{
			VersionedRecord: Versioned(),
			ID:              "s1",
			Encodings:       map[string][]int{"architecture": {2, 8, 4}},
			Fitness:         map[string]float64{"mae": 0.25},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveRun(ctx, sampleRun("run-b", base.Add(time.Hour))); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-a", base)); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.BestSolution == nil || !reflect.DeepEqual(run.BestSolution.Encodings["architecture"], []int{2, 8, 4}) {
		t.Fatalf("unexpected run: %+v", run)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-a" || runs[1].ID != "run-b" {
		t.Fatalf("expected runs ordered by start time, got=%+v", runs)
	}

	population := model.Population{
		VersionedRecord: Versioned(),
		ID:              PopulationID("run-a", 3),
		RunID:           "run-a",
		Generation:      3,
		Solutions: []model.SolutionRecord{{
			VersionedRecord: Versioned(),
			ID:              "s1",
			Encodings:       map[string][]int{"architecture": {1, 2}},
			Fitness:         map[string]float64{"mae": 1.5},
		}},
	}
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("save population: %v", err)
	}
	loaded, ok, err := store.GetPopulation(ctx, population.ID)
	if err != nil || !ok {
		t.Fatalf("get population: ok=%t err=%v", ok, err)
	}
	if loaded.Generation != 3 || len(loaded.Solutions) != 1 || loaded.Solutions[0].Fitness["mae"] != 1.5 {
		t.Fatalf("unexpected population: %+v", loaded)
	}

	if err := store.SaveFitnessHistory(ctx, "run-a", []float64{3, 2, 1}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil || !ok || !reflect.DeepEqual(history, []float64{3, 2, 1}) {
		t.Fatalf("unexpected history: %v ok=%t err=%v", history, ok, err)
	}

	diagnostics := []model.GenerationDiagnostics{{Generation: 0, BestFitness: 3}, {Generation: 1, BestFitness: 2, DistinctGenomes: 4}}
	if err := store.SaveGenerationDiagnostics(ctx, "run-a", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-a")
	if err != nil || !ok || !reflect.DeepEqual(gotDiagnostics, diagnostics) {
		t.Fatalf("unexpected diagnostics: %+v ok=%t err=%v", gotDiagnostics, ok, err)
	}

	lineage := []model.LineageRecord{{VersionedRecord: Versioned(), SolutionID: "s2", ParentID: "s1", Generation: 1, Operation: "gaussian", Encoding: []int{1, 3}}}
	if err := store.SaveLineage(ctx, "run-a", lineage); err != nil {
		t.Fatalf("save lineage: %v", err)
	}
	gotLineage, ok, err := store.GetLineage(ctx, "run-a")
	if err != nil || !ok || !reflect.DeepEqual(gotLineage, lineage) {
		t.Fatalf("unexpected lineage: %+v ok=%t err=%v", gotLineage, ok, err)
	}

	first := []model.SamplingRecord{
		{VersionedRecord: Versioned(), RunID: "run-s", Architecture: []int{2}, LookBack: 1, Metrics: map[string]float64{"mae": 0.4}},
		{VersionedRecord: Versioned(), RunID: "run-s", Architecture: []int{2, 2}, LookBack: 1, Metrics: map[string]float64{"mae": 0.3}},
	}
	second := []model.SamplingRecord{
		{VersionedRecord: Versioned(), RunID: "run-s", Architecture: []int{4}, LookBack: 2, Metrics: map[string]float64{"mae": 0.2}},
	}
	if err := store.AppendSamplingRecords(ctx, "run-s", first); err != nil {
		t.Fatalf("append sampling: %v", err)
	}
	if err := store.AppendSamplingRecords(ctx, "run-s", second); err != nil {
		t.Fatalf("append sampling: %v", err)
	}
	records, ok, err := store.GetSamplingRecords(ctx, "run-s")
	if err != nil || !ok {
		t.Fatalf("get sampling: ok=%t err=%v", ok, err)
	}
	if len(records) != 3 || records[2].LookBack != 2 || !reflect.DeepEqual(records[1].Architecture, []int{2, 2}) {
		t.Fatalf("expected records in append order, got=%+v", records)
	}
	if _, ok, err := store.GetSamplingRecords(ctx, "run-missing"); err != nil || ok {
		t.Fatalf("expected no sampling records, ok=%t err=%v", ok, err)
	}
}
