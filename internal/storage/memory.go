package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"archsearch/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	populations map[string]model.Population
	history     map[string][]float64
	diagnostics map[string][]model.GenerationDiagnostics
	lineage     map[string][]model.LineageRecord
	sampling    map[string][]model.SamplingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.populations = make(map[string]model.Population)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.lineage = make(map[string][]model.LineageRecord)
	s.sampling = make(map[string][]model.SamplingRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.populations[population.ID] = clonePopulation(population)
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	population, ok := s.populations[id]
	if !ok {
		return model.Population{}, false, nil
	}
	return clonePopulation(population), true, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.history[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.diagnostics[runID] = append([]model.GenerationDiagnostics(nil), diagnostics...)
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationDiagnostics(nil), diagnostics...), true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	copied := make([]model.LineageRecord, len(lineage))
	for i, record := range lineage {
		record.Encoding = append([]int(nil), record.Encoding...)
		copied[i] = record
	}
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	for i, record := range lineage {
		record.Encoding = append([]int(nil), record.Encoding...)
		copied[i] = record
	}
	return copied, true, nil
}

func (s *MemoryStore) AppendSamplingRecords(_ context.Context, runID string, records []model.SamplingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	for _, record := range records {
		s.sampling[runID] = append(s.sampling[runID], cloneSamplingRecord(record))
	}
	return nil
}

func (s *MemoryStore) GetSamplingRecords(_ context.Context, runID string) ([]model.SamplingRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.sampling[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.SamplingRecord, len(records))
	for i, record := range records {
		out[i] = cloneSamplingRecord(record)
	}
	return out, true, nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	run.Targets = append([]string(nil), run.Targets...)
	if run.Params != nil {
		params := make(map[string]float64, len(run.Params))
		for k, v := range run.Params {
			params[k] = v
		}
		run.Params = params
	}
	if run.BestSolution != nil {
		best := cloneSolution(*run.BestSolution)
		run.BestSolution = &best
	}
	return run
}

func clonePopulation(population model.Population) model.Population {
	solutions := make([]model.SolutionRecord, len(population.Solutions))
	for i, solution := range population.Solutions {
		solutions[i] = cloneSolution(solution)
	}
	population.Solutions = solutions
	return population
}

func cloneSolution(solution model.SolutionRecord) model.SolutionRecord {
	encodings := make(map[string][]int, len(solution.Encodings))
	for k, v := range solution.Encodings {
		encodings[k] = append([]int(nil), v...)
	}
	solution.Encodings = encodings
	if solution.Fitness != nil {
		fitness := make(map[string]float64, len(solution.Fitness))
		for k, v := range solution.Fitness {
			fitness[k] = v
		}
		solution.Fitness = fitness
	}
	return solution
}

func cloneSamplingRecord(record model.SamplingRecord) model.SamplingRecord {
	record.Architecture = append([]int(nil), record.Architecture...)
	metrics := make(map[string]float64, len(record.Metrics))
	for k, v := range record.Metrics {
		metrics[k] = v
	}
	record.Metrics = metrics
	return record
}

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
}
