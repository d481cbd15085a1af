// Package problem binds genotype.Solution encodings to an optimization domain.
package problem

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"archsearch/internal/genotype"
)

var ErrConfiguration = errors.New("invalid problem configuration")

// ConfigurationError reports a missing collaborator or an out-of-range bound
// detected at construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Problem is what the evolutionary engine needs from a domain. Implementations
// hold only configuration, so Evaluate may run concurrently on distinct
// solutions.
type Problem interface {
	Targets() []string
	// NextSolution draws a random solution within the declared bounds.
	NextSolution(rng *rand.Rand) *genotype.Solution
	// ValidateSolution repairs the encoding in place. It never fails.
	ValidateSolution(solution *genotype.Solution)
	// Evaluate writes one fitness value per target onto solution.
	Evaluate(ctx context.Context, rng *rand.Rand, solution *genotype.Solution) error
}

// Decoder maps a valid solution to the artifact it stands for.
type Decoder[A any] interface {
	DecodeSolution(solution *genotype.Solution) (A, error)
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func uniformInt(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}
