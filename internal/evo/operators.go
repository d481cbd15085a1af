package evo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"archsearch/internal/genotype"
)

// GaussianMutation perturbs each gene independently with probability
// pMutation by NormFloat64()*scale rounded half away from zero. Genes are
// modified in place and left unbounded; the returned count is the number of
// genes whose value changed.
func GaussianMutation(rng *rand.Rand, genes []int, pMutation, scale float64) int {
	changed := 0
	for i := range genes {
		if rng.Float64() >= pMutation {
			continue
		}
		delta := int(math.Round(rng.NormFloat64() * scale))
		if delta != 0 {
			genes[i] += delta
			changed++
		}
	}
	return changed
}

type LengthChange int

const (
	LengthUnchanged LengthChange = iota
	LengthGrown
	LengthShrunk
)

func (c LengthChange) String() string {
	switch c {
	case LengthGrown:
		return "grow"
	case LengthShrunk:
		return "shrink"
	default:
		return "none"
	}
}

// UniformLengthMutation, with probability pMutation, either appends a copy of
// a uniformly chosen tail gene or drops the last gene, with equal odds. Index 0
// is the fixed head and is never removed.
func UniformLengthMutation(rng *rand.Rand, genes []int, pMutation float64) ([]int, LengthChange) {
	if rng.Float64() >= pMutation {
		return genes, LengthUnchanged
	}
	if rng.Intn(2) == 0 {
		value := 1
		if len(genes) > 1 {
			value = genes[1+rng.Intn(len(genes)-1)]
		}
		return append(genes, value), LengthGrown
	}
	if len(genes) <= 1 {
		return genes, LengthUnchanged
	}
	return genes[:len(genes)-1], LengthShrunk
}

// BinaryTournament returns n winners, each the strictly better of two
// distinct uniformly drawn contenders. Ties are settled by a fair coin.
func BinaryTournament(rng *rand.Rand, population []*genotype.Solution, n int, better BetterFunc) ([]*genotype.Solution, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(population) == 0 {
		return nil, fmt.Errorf("population is empty")
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid selection count: %d", n)
	}

	winners := make([]*genotype.Solution, 0, n)
	if len(population) == 1 {
		for len(winners) < n {
			winners = append(winners, population[0])
		}
		return winners, nil
	}
	for len(winners) < n {
		i := rng.Intn(len(population))
		j := rng.Intn(len(population) - 1)
		if j >= i {
			j++
		}
		a, b := population[i], population[j]
		switch {
		case better(a, b):
			winners = append(winners, a)
		case better(b, a):
			winners = append(winners, b)
		case rng.Intn(2) == 0:
			winners = append(winners, a)
		default:
			winners = append(winners, b)
		}
	}
	return winners, nil
}

// ElitistPlusReplacement ranks parents and offspring together and keeps the
// best mu. Equal solutions keep their union order, parents first.
func ElitistPlusReplacement(population, offspring []*genotype.Solution, mu int, better BetterFunc) []*genotype.Solution {
	union := make([]*genotype.Solution, 0, len(population)+len(offspring))
	union = append(union, population...)
	union = append(union, offspring...)
	sort.SliceStable(union, func(i, j int) bool {
		return better(union[i], union[j])
	})
	if mu < len(union) {
		union = union[:mu]
	}
	return union
}
