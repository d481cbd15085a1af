package nn

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	loom "github.com/openfluke/loom/nn"
)

func TestRegisterAndGetActivation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("squash", loom.ActivationSigmoid); err != nil {
		t.Fatalf("register activation: %v", err)
	}
	act, err := GetActivation("squash")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if act != loom.ActivationSigmoid {
		t.Fatalf("unexpected activation: got=%v want=%v", act, loom.ActivationSigmoid)
	}
	if err := RegisterActivation("squash", act); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
	if _, err := GetActivation("missing"); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
	if got := ListActivations(); !reflect.DeepEqual(got, []string{"leaky_relu", "scaled_relu", "sigmoid", "softplus", "squash", "tanh"}) {
		t.Fatalf("unexpected activations: %v", got)
	}
}

func TestRNNBuilderValidatesLayers(t *testing.T) {
	b := RNNBuilder{}
	if _, err := b.BuildModel([]int{2, 1}, nil); err == nil {
		t.Fatal("expected error for missing hidden layer")
	}
	if _, err := b.BuildModel([]int{2, 0, 1}, nil); err == nil {
		t.Fatal("expected error for empty hidden layer")
	}
	if _, err := b.BuildModel([]int{2, 3, 1}, map[string]any{"output_activation": "nope"}); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestRNNPredictShapeAndDeterminism(t *testing.T) {
	model, err := RNNBuilder{}.BuildModel([]int{2, 4, 3, 1}, map[string]any{"output_activation": "tanh"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !reflect.DeepEqual(model.Layers(), []int{2, 4, 3, 1}) {
		t.Fatalf("unexpected layers: %v", model.Layers())
	}

	window := [][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}
	model.Reinitialize(rand.New(rand.NewSource(3)), 1)
	first, err := model.Predict(window)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(first) != 1 || math.IsNaN(first[0]) {
		t.Fatalf("unexpected prediction: %v", first)
	}

	model.Reinitialize(rand.New(rand.NewSource(3)), 1)
	second, err := model.Predict(window)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if first[0] != second[0] {
		t.Fatalf("expected identical predictions for identical seeds: %v vs %v", first, second)
	}

	if _, err := model.Predict([][]float64{{1}}); err == nil {
		t.Fatal("expected input width error")
	}
	if _, err := model.Predict(nil); err == nil {
		t.Fatal("expected empty window error")
	}
}

func TestRNNServesSeveralWindowLengths(t *testing.T) {
	model, err := RNNBuilder{}.BuildModel([]int{1, 3, 2}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	model.Reinitialize(rand.New(rand.NewSource(5)), 0.5)
	for _, window := range [][][]float64{{{1}}, {{1}, {2}}, {{1}, {2}, {3}, {4}}} {
		out, err := model.Predict(window)
		if err != nil {
			t.Fatalf("predict %d steps: %v", len(window), err)
		}
		if len(out) != 2 {
			t.Fatalf("unexpected output width for %d steps: %v", len(window), out)
		}
	}
}

func TestRNNZeroWeightsPredictZero(t *testing.T) {
	model, err := RNNBuilder{}.BuildModel([]int{1, 2, 2}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out, err := model.Predict([][]float64{{5}, {7}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !reflect.DeepEqual(out, []float64{0, 0}) {
		t.Fatalf("expected zero output before initialization, got %v", out)
	}
	if got := model.Config()["parameters"]; got != 2*(1+2+1)+2*(2+1) {
		t.Fatalf("unexpected parameter count: %v", got)
	}
}

func TestLSTMBuilderPredictsAndReinitializesDeterministically(t *testing.T) {
	b, err := ResolveBuilder("lstm")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	model, err := b.BuildModel([]int{2, 3, 3}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := model.Config()["type"]; got != "lstm" {
		t.Fatalf("unexpected model type: %v", got)
	}
	if got := model.Config()["parameters"]; got != 4*3*(2+3+1)+3*(3+1) {
		t.Fatalf("unexpected parameter count: %v", got)
	}

	window := [][]float64{{0.1, -0.2}, {0.3, 0.4}, {-0.5, 0.6}, {0.7, 0.8}}
	model.Reinitialize(rand.New(rand.NewSource(11)), 0.8)
	first, err := model.Predict(window)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 outputs, got %v", first)
	}

	model.Reinitialize(rand.New(rand.NewSource(12)), 0.8)
	model.Reinitialize(rand.New(rand.NewSource(11)), 0.8)
	second, err := model.Predict(window)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical predictions for identical seeds: %v vs %v", first, second)
	}
}

func TestResolveBuilder(t *testing.T) {
	b, err := ResolveBuilder("RNN")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.Name() != "rnn" {
		t.Fatalf("unexpected builder: %s", b.Name())
	}
	if _, err := ResolveBuilder("gru"); !errors.Is(err, ErrBuilderNotFound) {
		t.Fatalf("expected ErrBuilderNotFound, got: %v", err)
	}
	if got := ListBuilders(); !reflect.DeepEqual(got, []string{"lstm", "rnn"}) {
		t.Fatalf("unexpected builders: %v", got)
	}
}
