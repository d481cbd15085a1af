package evo

import (
	"math"

	"archsearch/internal/genotype"
)

type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

func ParseDirection(name string) (Direction, bool) {
	switch name {
	case "", "min", "minimize":
		return Minimize, true
	case "max", "maximize":
		return Maximize, true
	default:
		return Minimize, false
	}
}

// BetterFunc reports whether a is strictly better than b.
type BetterFunc func(a, b *genotype.Solution) bool

// Comparator orders solutions lexicographically over Targets. Unevaluated
// solutions and NaN scores lose against any scored solution.
type Comparator struct {
	Targets   []string
	Direction Direction
}

func (c Comparator) Better(a, b *genotype.Solution) bool {
	aOK, bOK := a.Evaluated(), b.Evaluated()
	if !aOK || !bOK {
		return aOK && !bOK
	}
	for _, target := range c.Targets {
		va, _ := a.Fitness(target)
		vb, _ := b.Fitness(target)
		if math.IsNaN(va) || math.IsNaN(vb) {
			if math.IsNaN(va) && math.IsNaN(vb) {
				continue
			}
			return math.IsNaN(vb)
		}
		if va == vb {
			continue
		}
		if c.Direction == Maximize {
			return va > vb
		}
		return va < vb
	}
	return false
}

// Primary returns the first target's fitness, or NaN when unscored.
func (c Comparator) Primary(s *genotype.Solution) float64 {
	if len(c.Targets) == 0 {
		return math.NaN()
	}
	v, ok := s.Fitness(c.Targets[0])
	if !ok {
		return math.NaN()
	}
	return v
}
