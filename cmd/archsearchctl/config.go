package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"archsearch/internal/action"
)

// fileConfig is a run configuration read from disk. The seed and run_id
// keys are lifted out of the bag since they belong to the request.
type fileConfig struct {
	Config action.Config
	seed   *int64
	runID  string
}

func loadConfig(path string) (fileConfig, error) {
	out := fileConfig{Config: action.Config{}}
	if path == "" {
		return out, nil
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return out, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return out, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if v, ok := raw["seed"]; ok {
		seed, ok := asInt64(v)
		if !ok {
			return out, fmt.Errorf("seed must be an integer, got %v", v)
		}
		out.seed = &seed
		delete(raw, "seed")
	}
	if v, ok := raw["run_id"]; ok {
		runID, ok := v.(string)
		if !ok {
			return out, fmt.Errorf("run_id must be a string, got %v", v)
		}
		out.runID = runID
		delete(raw, "run_id")
	}
	for k, v := range raw {
		out.Config[k] = v
	}
	return out, nil
}

// seedOr prefers an explicit flag, then the file, then the flag default.
func (f fileConfig) seedOr(fs *flag.FlagSet, name string, flagValue int64) int64 {
	if f.seed == nil || flagSet(fs, name) {
		return flagValue
	}
	return *f.seed
}

func (f fileConfig) runIDOr(fs *flag.FlagSet, name, flagValue string) string {
	if f.runID == "" || flagSet(fs, name) {
		return flagValue
	}
	return f.runID
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// binding maps a command-line flag onto a configuration key. Flags left
// unset on the command line never touch the configuration.
type binding struct {
	flag  string
	key   string
	param string
	value *string
	parse func(string) (any, error)
}

type overrideSet struct {
	bindings []*binding
	params   map[string]float64
}

func (o *overrideSet) bind(fs *flag.FlagSet, name, key string, parse func(string) (any, error), usage string) {
	b := &binding{flag: name, key: key, parse: parse, value: new(string)}
	fs.StringVar(b.value, name, "", usage)
	o.bindings = append(o.bindings, b)
}

func (o *overrideSet) bindLoaderParam(fs *flag.FlagSet, name, param string, parse func(string) (any, error), usage string) {
	b := &binding{flag: name, key: action.KeyDataLoaderParams, param: param, parse: parse, value: new(string)}
	fs.StringVar(b.value, name, "", usage)
	o.bindings = append(o.bindings, b)
}

func (o *overrideSet) bindAlgorithmParams(fs *flag.FlagSet) {
	o.params = map[string]float64{}
	fs.Func("param", "algorithm parameter name=value (repeatable)", func(v string) error {
		name, raw, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("expected name=value, got %q", v)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		o.params[strings.TrimSpace(name)] = f
		return nil
	})
}

func (o *overrideSet) apply(fs *flag.FlagSet, cfg action.Config) error {
	for _, b := range o.bindings {
		if !flagSet(fs, b.flag) {
			continue
		}
		v, err := b.parse(*b.value)
		if err != nil {
			return fmt.Errorf("-%s: %w", b.flag, err)
		}
		if b.param == "" {
			cfg[b.key] = v
			continue
		}
		params, err := cfg.Map(b.key)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(params)+1)
		for k, pv := range params {
			merged[k] = pv
		}
		merged[b.param] = v
		cfg[b.key] = merged
		if b.param == "path" {
			if _, ok := cfg[action.KeyDataLoader]; !ok {
				cfg[action.KeyDataLoader] = loaderForPath(*b.value)
			}
		}
	}
	if len(o.params) > 0 {
		params, err := cfg.Map(action.KeyAlgorithmParams)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(params)+len(o.params))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range o.params {
			merged[k] = v
		}
		cfg[action.KeyAlgorithmParams] = merged
	}
	return nil
}

func registerDataOverrides(o *overrideSet, fs *flag.FlagSet) {
	o.bindLoaderParam(fs, "data", "path", parseString, "CSV or XLSX data file; picks the loader from the extension")
	o.bindLoaderParam(fs, "sheet", "sheet", parseString, "XLSX sheet name")
	o.bindLoaderParam(fs, "train-fraction", "train_fraction", parseFloat, "fraction of rows used for training")
	o.bindLoaderParam(fs, "normalize", "normalize", parseString, "column normalization: none|minmax|zscore")
	o.bindLoaderParam(fs, "x-features", "x_features", parseList, "comma-separated input columns")
	o.bindLoaderParam(fs, "y-features", "y_features", parseList, "comma-separated output columns")
	o.bind(fs, "data-loader", action.KeyDataLoader, parseString, "data loader: csv|xlsx")
	o.bind(fs, "split", action.KeyEvaluationSplit, parseString, "rows to evaluate on: testing|training|all")
	o.bind(fs, "builder", action.KeyBuilder, parseString, "model builder")
	o.bind(fs, "sampler", action.KeySampler, parseString, "random sampling fit")
	o.bind(fs, "num-samples", action.KeyNumSamples, parseInt, "random weight samples per evaluation")
	o.bind(fs, "min-look-back", action.KeyMinLookBack, parseInt, "minimum look back")
	o.bind(fs, "max-look-back", action.KeyMaxLookBack, parseInt, "maximum look back")
}

func registerOptimizeOverrides(fs *flag.FlagSet) *overrideSet {
	o := &overrideSet{}
	registerDataOverrides(o, fs)
	o.bind(fs, "min-layers", action.KeyMinLayers, parseInt, "minimum hidden layers")
	o.bind(fs, "max-layers", action.KeyMaxLayers, parseInt, "maximum hidden layers")
	o.bind(fs, "min-neurons", action.KeyMinNeurons, parseInt, "minimum neurons per layer")
	o.bind(fs, "max-neurons", action.KeyMaxNeurons, parseInt, "maximum neurons per layer")
	o.bind(fs, "targets", action.KeyTargets, parseList, "comma-separated fitness targets")
	o.bind(fs, "direction", action.KeyDirection, parseString, "optimization direction: minimize|maximize")
	o.bind(fs, "algorithm", action.KeyAlgorithm, parseString, "evolutionary algorithm")
	o.bind(fs, "pop", action.KeyPopulationSize, parseInt, "population size (mu)")
	o.bind(fs, "offspring", action.KeyOffspringSize, parseInt, "offspring per generation (lambda)")
	o.bind(fs, "gens", action.KeyGenerations, parseInt, "generations")
	o.bind(fs, "max-evals", action.KeyMaxEvaluations, parseInt, "evaluation budget (0 for none)")
	o.bind(fs, "fitness-goal", action.KeyFitnessGoal, parseFloat, "stop once the best primary fitness reaches this value")
	o.bind(fs, "workers", action.KeyWorkers, parseInt, "parallel evaluations")
	o.bindAlgorithmParams(fs)
	return o
}

func registerSampleOverrides(fs *flag.FlagSet) *overrideSet {
	o := &overrideSet{}
	registerDataOverrides(o, fs)
	o.bind(fs, "architectures", action.KeyArchitectures, parseArchitectures, "semicolon-separated hidden layer lists, e.g. 4;8,4")
	o.bind(fs, "listing", action.KeyListing, parseString, "architecture listing used instead of -architectures")
	return o
}

func loaderForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}

func parseString(v string) (any, error) {
	return v, nil
}

func parseInt(v string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil, err
	}
	return n, nil
}

func parseFloat(v string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func parseList(v string) (any, error) {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

func parseArchitectures(v string) (any, error) {
	var out [][]int
	for _, arch := range strings.Split(v, ";") {
		arch = strings.TrimSpace(arch)
		if arch == "" {
			continue
		}
		var layers []int
		for _, width := range strings.Split(arch, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(width))
			if err != nil {
				return nil, fmt.Errorf("architecture %q: %w", arch, err)
			}
			layers = append(layers, n)
		}
		out = append(out, layers)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no architectures")
	}
	return out, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
