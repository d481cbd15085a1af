package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBuilderExists   = errors.New("model builder already registered")
	ErrBuilderNotFound = errors.New("model builder not found")
)

// Model is a trainable network over look-back windows.
type Model interface {
	// Predict maps a sequence of input vectors to one output vector.
	Predict(window [][]float64) ([]float64, error)
	// Reinitialize redraws every weight uniformly from [-initRange, initRange].
	Reinitialize(rng *rand.Rand, initRange float64)
	Layers() []int
	Config() map[string]any
}

// Builder turns a layer-size list [in, hidden..., out] into a Model.
type Builder interface {
	Name() string
	BuildModel(layers []int, opts map[string]any) (Model, error)
}

var builderRegistry = struct {
	mu sync.RWMutex
	m  map[string]Builder
}{
	m: map[string]Builder{
		cellRNN:  RNNBuilder{},
		cellLSTM: LSTMBuilder{},
	},
}

func RegisterBuilder(builder Builder) error {
	if builder == nil || builder.Name() == "" {
		return errors.New("named model builder is required")
	}
	builderRegistry.mu.Lock()
	defer builderRegistry.mu.Unlock()
	if _, exists := builderRegistry.m[builder.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrBuilderExists, builder.Name())
	}
	builderRegistry.m[builder.Name()] = builder
	return nil
}

func ResolveBuilder(name string) (Builder, error) {
	builderRegistry.mu.RLock()
	defer builderRegistry.mu.RUnlock()
	builder, ok := builderRegistry.m[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBuilderNotFound, name)
	}
	return builder, nil
}

func ListBuilders() []string {
	builderRegistry.mu.RLock()
	defer builderRegistry.mu.RUnlock()
	names := make([]string, 0, len(builderRegistry.m))
	for name := range builderRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
