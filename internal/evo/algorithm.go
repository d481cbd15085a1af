package evo

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"archsearch/internal/genotype"
)

const (
	ParamMutationProbabilityIndividual = "p_mutation_i"
	ParamMutationProbabilityLength     = "p_mutation_e"
	ParamMutationScaleFactor           = "mutation_scale_factor"
)

// Params is the numeric parameter table of an algorithm variant.
type Params map[string]float64

// Merge returns defaults overridden by overrides. Overrides naming a
// parameter the variant does not define are rejected, as are probabilities
// ("p_" prefix) outside [0, 1].
func (p Params) Merge(overrides map[string]float64) (Params, error) {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := p[k]; !ok {
			return nil, fmt.Errorf("unknown algorithm parameter: %s", k)
		}
		out[k] = overrides[k]
	}
	for k, v := range out {
		if strings.HasPrefix(k, "p_") && (v < 0 || v > 1) {
			return nil, fmt.Errorf("parameter %s must be in [0, 1], got %v", k, v)
		}
	}
	return out, nil
}

// Algorithm supplies the variant-specific steps of the generational loop.
type Algorithm interface {
	Name() string
	DefaultParams() Params
	// Mutate changes solution in place and returns the names of the
	// operators that took effect.
	Mutate(rng *rand.Rand, params Params, solution *genotype.Solution) ([]string, error)
	Select(rng *rand.Rand, population []*genotype.Solution, n int, better BetterFunc) ([]*genotype.Solution, error)
	Replace(population, offspring []*genotype.Solution, mu int, better BetterFunc) []*genotype.Solution
}

// MuPlusLambda mutates with gaussian then uniform-length mutation, selects by
// binary tournament and survives by elitist plus replacement.
type MuPlusLambda struct {
	// EncodingKey defaults to the architecture encoding.
	EncodingKey string
}

func (MuPlusLambda) Name() string {
	return "mu_plus_lambda"
}

func (MuPlusLambda) DefaultParams() Params {
	return Params{
		ParamMutationProbabilityIndividual: 0.1,
		ParamMutationProbabilityLength:     0.1,
		ParamMutationScaleFactor:           2,
	}
}

func (a MuPlusLambda) Mutate(rng *rand.Rand, params Params, solution *genotype.Solution) ([]string, error) {
	key := a.EncodingKey
	if key == "" {
		key = genotype.ArchitectureKey
	}
	var ops []string
	err := solution.Update(key, func(genes []int) []int {
		if GaussianMutation(rng, genes, params[ParamMutationProbabilityIndividual], params[ParamMutationScaleFactor]) > 0 {
			ops = append(ops, "gaussian")
		}
		genes, change := UniformLengthMutation(rng, genes, params[ParamMutationProbabilityLength])
		if change != LengthUnchanged {
			ops = append(ops, change.String())
		}
		return genes
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (MuPlusLambda) Select(rng *rand.Rand, population []*genotype.Solution, n int, better BetterFunc) ([]*genotype.Solution, error) {
	return BinaryTournament(rng, population, n, better)
}

func (MuPlusLambda) Replace(population, offspring []*genotype.Solution, mu int, better BetterFunc) []*genotype.Solution {
	return ElitistPlusReplacement(population, offspring, mu, better)
}

// ResolveAlgorithm maps a variant name to its implementation.
func ResolveAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mu_plus_lambda", "mu+lambda":
		return MuPlusLambda{}, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", name)
	}
}
