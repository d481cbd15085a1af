package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"archsearch/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	fitnessHistoryFile = "fitness_history.csv"
	diagnosticsFile    = "diagnostics.csv"
	topSolutionsFile   = "top_solutions.json"
	lineageFile        = "lineage.json"
)

var artifactFiles = []string{configFile, fitnessHistoryFile, diagnosticsFile, topSolutionsFile, lineageFile}

type SearchBounds struct {
	MinLayers   int `json:"min_layers"`
	MaxLayers   int `json:"max_layers"`
	MinNeurons  int `json:"min_neurons"`
	MaxNeurons  int `json:"max_neurons"`
	MinLookBack int `json:"min_look_back"`
	MaxLookBack int `json:"max_look_back"`
}

// RunConfig records everything needed to repeat a run.
type RunConfig struct {
	RunID          string             `json:"run_id"`
	Mode           string             `json:"mode"`
	Algorithm      string             `json:"algorithm,omitempty"`
	Seed           int64              `json:"seed"`
	Mu             int                `json:"mu,omitempty"`
	Lambda         int                `json:"lambda,omitempty"`
	Generations    int                `json:"generations"`
	MaxEvaluations int                `json:"max_evaluations,omitempty"`
	FitnessGoal    *float64           `json:"fitness_goal,omitempty"`
	Workers        int                `json:"workers"`
	Direction      string             `json:"direction,omitempty"`
	Targets        []string           `json:"targets,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"`
	Bounds         SearchBounds       `json:"bounds"`
	NumSamples     int                `json:"num_samples"`
	DataLoader     string             `json:"data_loader"`
	DataParams     map[string]any     `json:"data_params,omitempty"`
	Builder        string             `json:"builder"`
	Sampler        string             `json:"sampler"`
	Options        map[string]any     `json:"options,omitempty"`
}

type TopSolution struct {
	Rank       int                `json:"rank"`
	SolutionID string             `json:"solution_id"`
	Fitness    map[string]float64 `json:"fitness"`
	LookBack   int                `json:"look_back"`
	Layers     []int              `json:"layers"`
}

type RunArtifacts struct {
	Config           RunConfig                     `json:"config"`
	BestByGeneration []float64                     `json:"best_by_generation"`
	Diagnostics      []model.GenerationDiagnostics `json:"diagnostics,omitempty"`
	FinalBestFitness float64                       `json:"final_best_fitness"`
	TopSolutions     []TopSolution                 `json:"top_solutions"`
	Lineage          []model.LineageRecord         `json:"lineage"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Mode             string  `json:"mode"`
	Generations      int     `json:"generations"`
	Evaluations      int     `json:"evaluations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes one directory per run under baseDir and returns it.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeFitnessHistory(filepath.Join(runDir, fitnessHistoryFile), artifacts.BestByGeneration); err != nil {
		return "", err
	}
	if err := writeDiagnostics(filepath.Join(runDir, diagnosticsFile), artifacts.Diagnostics); err != nil {
		return "", err
	}
	top := artifacts.TopSolutions
	if top == nil {
		top = []TopSolution{}
	}
	if err := writeJSON(filepath.Join(runDir, topSolutionsFile), top); err != nil {
		return "", err
	}
	lineage := artifacts.Lineage
	if lineage == nil {
		lineage = []model.LineageRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, lineageFile), lineage); err != nil {
		return "", err
	}

	return runDir, nil
}

// ReadRunArtifacts loads what WriteRunArtifacts wrote. The final best fitness
// is the last entry of the fitness history.
func ReadRunArtifacts(baseDir, runID string) (RunArtifacts, bool, error) {
	runDir := filepath.Join(baseDir, runID)
	var out RunArtifacts

	ok, err := readJSON(filepath.Join(runDir, configFile), &out.Config)
	if err != nil || !ok {
		return RunArtifacts{}, false, err
	}
	history, err := readFitnessHistory(filepath.Join(runDir, fitnessHistoryFile))
	if err != nil {
		return RunArtifacts{}, false, err
	}
	out.BestByGeneration = history
	if len(history) > 0 {
		out.FinalBestFitness = history[len(history)-1]
	}
	diagnostics, err := readDiagnostics(filepath.Join(runDir, diagnosticsFile))
	if err != nil {
		return RunArtifacts{}, false, err
	}
	out.Diagnostics = diagnostics
	if _, err := readJSON(filepath.Join(runDir, topSolutionsFile), &out.TopSolutions); err != nil {
		return RunArtifacts{}, false, err
	}
	if _, err := readJSON(filepath.Join(runDir, lineageFile), &out.Lineage); err != nil {
		return RunArtifacts{}, false, err
	}
	return out, true, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first; equal timestamps keep the later
// append first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	samplingPath := filepath.Join(src, SamplingFile)
	if _, err := os.Stat(samplingPath); err == nil {
		if err := copyFile(samplingPath, filepath.Join(dst, SamplingFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func writeFitnessHistory(path string, bestByGeneration []float64) error {
	rows := make([][]string, 0, len(bestByGeneration))
	for i, best := range bestByGeneration {
		rows = append(rows, []string{strconv.Itoa(i), formatFloat(best)})
	}
	return writeCSV(path, []string{"generation", "best_fitness"}, rows)
}

func readFitnessHistory(path string) ([]float64, error) {
	rows, err := readCSV(path, 2)
	if err != nil {
		return nil, err
	}
	series := make([]float64, 0, len(rows))
	for _, row := range rows {
		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		series = append(series, value)
	}
	return series, nil
}

var diagnosticsHeader = []string{
	"generation", "evaluations", "best_fitness", "mean_fitness", "worst_fitness",
	"fitness_std_dev", "mean_genome_length", "distinct_genomes", "offspring_survived",
}

func writeDiagnostics(path string, diagnostics []model.GenerationDiagnostics) error {
	rows := make([][]string, 0, len(diagnostics))
	for _, d := range diagnostics {
		rows = append(rows, []string{
			strconv.Itoa(d.Generation),
			strconv.Itoa(d.Evaluations),
			formatFloat(d.BestFitness),
			formatFloat(d.MeanFitness),
			formatFloat(d.WorstFitness),
			formatFloat(d.FitnessStdDev),
			formatFloat(d.MeanGenomeLength),
			strconv.Itoa(d.DistinctGenomes),
			strconv.Itoa(d.OffspringSurvived),
		})
	}
	return writeCSV(path, diagnosticsHeader, rows)
}

func readDiagnostics(path string) ([]model.GenerationDiagnostics, error) {
	rows, err := readCSV(path, len(diagnosticsHeader))
	if err != nil {
		return nil, err
	}
	out := make([]model.GenerationDiagnostics, 0, len(rows))
	for _, row := range rows {
		var (
			d    model.GenerationDiagnostics
			errs [9]error
		)
		d.Generation, errs[0] = strconv.Atoi(row[0])
		d.Evaluations, errs[1] = strconv.Atoi(row[1])
		d.BestFitness, errs[2] = strconv.ParseFloat(row[2], 64)
		d.MeanFitness, errs[3] = strconv.ParseFloat(row[3], 64)
		d.WorstFitness, errs[4] = strconv.ParseFloat(row[4], 64)
		d.FitnessStdDev, errs[5] = strconv.ParseFloat(row[5], 64)
		d.MeanGenomeLength, errs[6] = strconv.ParseFloat(row[6], 64)
		d.DistinctGenomes, errs[7] = strconv.Atoi(row[7])
		d.OffspringSurvived, errs[8] = strconv.Atoi(row[8])
		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Sync()
}

// readCSV returns the data rows of path, skipping the header. A missing file
// yields no rows.
func readCSV(path string, minColumns int) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < minColumns {
			return nil, fmt.Errorf("%s: row must have at least %d columns", path, minColumns)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
