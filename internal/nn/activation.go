package nn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	loom "github.com/openfluke/loom/nn"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

// activationRegistry maps config names onto loom activation types.
var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]loom.ActivationType
}{
	m: make(map[string]loom.ActivationType),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	MustRegisterActivation("scaled_relu", loom.ActivationScaledReLU)
	MustRegisterActivation("leaky_relu", loom.ActivationLeakyReLU)
	MustRegisterActivation("tanh", loom.ActivationTanh)
	MustRegisterActivation("softplus", loom.ActivationSoftplus)
	MustRegisterActivation("sigmoid", loom.ActivationSigmoid)
}

func RegisterActivation(name string, act loom.ActivationType) error {
	if name == "" {
		return errors.New("activation name is required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, name)
	}
	activationRegistry.m[name] = act
	return nil
}

func MustRegisterActivation(name string, act loom.ActivationType) {
	if err := RegisterActivation(name, act); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (loom.ActivationType, error) {
	activationRegistry.mu.RLock()
	act, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return act, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return act, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]loom.ActivationType)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}
