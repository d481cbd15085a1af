package evo

import (
	"math/rand"
	"reflect"
	"testing"

	"archsearch/internal/genotype"
)

func scored(id string, fitness float64) *genotype.Solution {
	s := genotype.NewSolution([]string{"loss"}, []string{genotype.ArchitectureKey})
	s.ID = id
	_ = s.SetFitness("loss", fitness)
	return s
}

func TestGaussianMutationZeroProbabilityIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	genes := []int{3, 4, 5, 6}
	if changed := GaussianMutation(rng, genes, 0, 10); changed != 0 {
		t.Fatalf("expected no changes, got=%d", changed)
	}
	if !reflect.DeepEqual(genes, []int{3, 4, 5, 6}) {
		t.Fatalf("expected unchanged genes, got=%v", genes)
	}
}

func TestGaussianMutationCertainProbabilityMovesGenes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	genes := make([]int, 200)
	changed := GaussianMutation(rng, genes, 1, 5)
	diff := 0
	for _, g := range genes {
		if g != 0 {
			diff++
		}
	}
	if changed != diff {
		t.Fatalf("reported %d changes, observed %d", changed, diff)
	}
	if changed < 150 {
		t.Fatalf("expected most genes to move at scale 5, got=%d", changed)
	}
}

func TestGaussianMutationKeepsLength(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	genes := []int{1, 2, 3}
	GaussianMutation(rng, genes, 1, 100)
	if len(genes) != 3 {
		t.Fatalf("expected length 3, got=%d", len(genes))
	}
}

func TestUniformLengthMutationZeroProbability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	genes, change := UniformLengthMutation(rng, []int{2, 5, 7}, 0)
	if change != LengthUnchanged || !reflect.DeepEqual(genes, []int{2, 5, 7}) {
		t.Fatalf("expected untouched genes, got=%v change=%s", genes, change)
	}
}

func TestUniformLengthMutationChangesByOne(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	sawGrow, sawShrink := false, false
	for i := 0; i < 200; i++ {
		in := []int{2, 5, 7}
		out, change := UniformLengthMutation(rng, append([]int(nil), in...), 1)
		switch change {
		case LengthGrown:
			sawGrow = true
			if len(out) != 4 {
				t.Fatalf("grow must add exactly one gene, got=%v", out)
			}
			if added := out[3]; added != 5 && added != 7 {
				t.Fatalf("grow must copy a tail gene, got=%d", added)
			}
		case LengthShrunk:
			sawShrink = true
			if !reflect.DeepEqual(out, []int{2, 5}) {
				t.Fatalf("shrink must drop the last gene, got=%v", out)
			}
		default:
			t.Fatalf("expected a length change with probability 1, got=%v", out)
		}
	}
	if !sawGrow || !sawShrink {
		t.Fatalf("expected both directions, grow=%t shrink=%t", sawGrow, sawShrink)
	}
}

func TestUniformLengthMutationNeverRemovesHead(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 100; i++ {
		out, _ := UniformLengthMutation(rng, []int{4}, 1)
		if len(out) == 0 || out[0] != 4 {
			t.Fatalf("head gene lost: %v", out)
		}
		if len(out) == 2 && out[1] != 1 {
			t.Fatalf("growing a bare head must append 1, got=%v", out)
		}
	}
}

func TestBinaryTournamentWinnerNeverWorseThanBoth(t *testing.T) {
	pop := []*genotype.Solution{scored("a", 5), scored("b", 1), scored("c", 3), scored("d", 4)}
	cmp := Comparator{Targets: []string{"loss"}}
	rng := rand.New(rand.NewSource(42))
	winners, err := BinaryTournament(rng, pop, 500, cmp.Better)
	if err != nil {
		t.Fatalf("tournament: %v", err)
	}
	if len(winners) != 500 {
		t.Fatalf("expected 500 winners, got=%d", len(winners))
	}
	for _, w := range winners {
		if w.ID == "a" {
			t.Fatal("worst solution can never win against a distinct contender")
		}
	}
}

func TestBinaryTournamentTiesPickBothSides(t *testing.T) {
	pop := []*genotype.Solution{scored("a", 1), scored("b", 1)}
	cmp := Comparator{Targets: []string{"loss"}}
	rng := rand.New(rand.NewSource(9))
	winners, err := BinaryTournament(rng, pop, 200, cmp.Better)
	if err != nil {
		t.Fatalf("tournament: %v", err)
	}
	counts := map[string]int{}
	for _, w := range winners {
		counts[w.ID]++
	}
	if counts["a"] == 0 || counts["b"] == 0 {
		t.Fatalf("expected ties to be split, got=%v", counts)
	}
}

func TestBinaryTournamentSingleton(t *testing.T) {
	pop := []*genotype.Solution{scored("only", 1)}
	winners, err := BinaryTournament(rand.New(rand.NewSource(1)), pop, 3, Comparator{Targets: []string{"loss"}}.Better)
	if err != nil {
		t.Fatalf("tournament: %v", err)
	}
	for _, w := range winners {
		if w.ID != "only" {
			t.Fatalf("unexpected winner %s", w.ID)
		}
	}
}

func TestBinaryTournamentRejectsEmptyPopulation(t *testing.T) {
	if _, err := BinaryTournament(rand.New(rand.NewSource(1)), nil, 1, Comparator{}.Better); err == nil {
		t.Fatal("expected empty population error")
	}
}

func TestElitistPlusReplacementKeepsBest(t *testing.T) {
	parents := []*genotype.Solution{scored("p1", 3), scored("p2", 6)}
	offspring := []*genotype.Solution{scored("o1", 1), scored("o2", 9), scored("o3", 3)}
	cmp := Comparator{Targets: []string{"loss"}}
	survivors := ElitistPlusReplacement(parents, offspring, 3, cmp.Better)
	got := []string{survivors[0].ID, survivors[1].ID, survivors[2].ID}
	if !reflect.DeepEqual(got, []string{"o1", "p1", "o3"}) {
		t.Fatalf("unexpected survivors: %v", got)
	}
}

func TestElitistPlusReplacementShortUnion(t *testing.T) {
	cmp := Comparator{Targets: []string{"loss"}}
	survivors := ElitistPlusReplacement([]*genotype.Solution{scored("p", 1)}, nil, 4, cmp.Better)
	if len(survivors) != 1 {
		t.Fatalf("expected the whole union, got=%d", len(survivors))
	}
}

func TestComparatorOrdering(t *testing.T) {
	unscored := genotype.NewSolution([]string{"loss"}, nil)
	low, high := scored("low", 1), scored("high", 2)

	minimize := Comparator{Targets: []string{"loss"}}
	if !minimize.Better(low, high) || minimize.Better(high, low) {
		t.Fatal("minimize must prefer the lower score")
	}
	maximize := Comparator{Targets: []string{"loss"}, Direction: Maximize}
	if !maximize.Better(high, low) {
		t.Fatal("maximize must prefer the higher score")
	}
	if !minimize.Better(high, unscored) || minimize.Better(unscored, high) {
		t.Fatal("unscored solutions must lose")
	}
	if minimize.Better(low, scored("low2", 1)) {
		t.Fatal("equal scores are not strictly better")
	}
}

func TestParamsMerge(t *testing.T) {
	defaults := MuPlusLambda{}.DefaultParams()
	merged, err := defaults.Merge(map[string]float64{ParamMutationScaleFactor: 4})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged[ParamMutationScaleFactor] != 4 || merged[ParamMutationProbabilityIndividual] != 0.1 {
		t.Fatalf("unexpected merged params: %v", merged)
	}
	if defaults[ParamMutationScaleFactor] != 2 {
		t.Fatal("merge must not modify defaults")
	}
	if _, err := defaults.Merge(map[string]float64{"p_crossover": 0.5}); err == nil {
		t.Fatal("expected unknown parameter error")
	}
	if _, err := defaults.Merge(map[string]float64{ParamMutationProbabilityLength: 1.5}); err == nil {
		t.Fatal("expected probability range error")
	}
}

func TestResolveAlgorithm(t *testing.T) {
	for _, name := range []string{"", "mu_plus_lambda", "MU+LAMBDA"} {
		if _, err := ResolveAlgorithm(name); err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
	}
	if _, err := ResolveAlgorithm("nsga2"); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
}

func TestMuPlusLambdaMutateReportsOperators(t *testing.T) {
	s := genotype.NewSolution([]string{"loss"}, []string{genotype.ArchitectureKey})
	_ = s.SetEncoded(genotype.ArchitectureKey, []int{3, 4, 5})
	params := Params{
		ParamMutationProbabilityIndividual: 1,
		ParamMutationProbabilityLength:     1,
		ParamMutationScaleFactor:           50,
	}
	ops, err := MuPlusLambda{}.Mutate(rand.New(rand.NewSource(2)), params, s)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if len(ops) == 0 {
		t.Fatal("expected operators to take effect")
	}
	if n := len(s.Encoded(genotype.ArchitectureKey)); n != 2 && n != 4 {
		t.Fatalf("expected length to change by one, got=%d", n)
	}
}
