package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// SolutionRecord is the persisted form of a genotype.Solution.
type SolutionRecord struct {
	VersionedRecord
	ID        string             `json:"id"`
	Encodings map[string][]int   `json:"encodings"`
	Fitness   map[string]float64 `json:"fitness,omitempty"`
}

type Population struct {
	VersionedRecord
	ID         string           `json:"id"`
	RunID      string           `json:"run_id"`
	Generation int              `json:"generation"`
	Solutions  []SolutionRecord `json:"solutions"`
}

type RunRecord struct {
	VersionedRecord
	ID           string             `json:"id"`
	Mode         string             `json:"mode"`
	Algorithm    string             `json:"algorithm,omitempty"`
	Seed         int64              `json:"seed"`
	Targets      []string           `json:"targets,omitempty"`
	Params       map[string]float64 `json:"params,omitempty"`
	Generations  int                `json:"generations"`
	Evaluations  int                `json:"evaluations"`
	BestSolution *SolutionRecord    `json:"best_solution,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	Evaluations       int     `json:"evaluations"`
	BestFitness       float64 `json:"best_fitness"`
	MeanFitness       float64 `json:"mean_fitness"`
	WorstFitness      float64 `json:"worst_fitness"`
	FitnessStdDev     float64 `json:"fitness_std_dev"`
	MeanGenomeLength  float64 `json:"mean_genome_length"`
	DistinctGenomes   int     `json:"distinct_genomes"`
	OffspringSurvived int     `json:"offspring_survived"`
}

type LineageRecord struct {
	VersionedRecord
	SolutionID string `json:"solution_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Generation int    `json:"generation"`
	Operation  string `json:"operation"`
	Encoding   []int  `json:"encoding,omitempty"`
}

// SamplingRecord is one (architecture, look-back) measurement produced in
// enumeration mode.
type SamplingRecord struct {
	VersionedRecord
	RunID        string             `json:"run_id"`
	Architecture []int              `json:"architecture"`
	LookBack     int                `json:"look_back"`
	Metrics      map[string]float64 `json:"metrics"`
}
