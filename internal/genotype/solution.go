package genotype

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"archsearch/internal/model"
)

var (
	ErrUnknownTarget   = errors.New("unknown fitness target")
	ErrUnknownEncoding = errors.New("unknown encoding key")
)

// Solution is a genome container: named integer encodings plus one fitness
// scalar per declared objective. It performs no bounds checking.
type Solution struct {
	ID        string
	targets   []string
	encodings map[string][]int
	fitness   map[string]float64
}

// NewSolutionID draws a version 4 uuid from r. Passing the run's seeded
// random source makes ids reproducible across runs with the same seed.
func NewSolutionID(r io.Reader) string {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewSolution declares the objective names and encoding keys of a solution.
// Both sets are fixed for the lifetime of the solution.
func NewSolution(targets, encodingKeys []string) *Solution {
	s := &Solution{
		ID:        uuid.NewString(),
		targets:   append([]string(nil), targets...),
		encodings: make(map[string][]int, len(encodingKeys)),
		fitness:   make(map[string]float64, len(targets)),
	}
	for _, key := range encodingKeys {
		s.encodings[key] = []int{}
	}
	return s
}

func (s *Solution) Targets() []string {
	return append([]string(nil), s.targets...)
}

func (s *Solution) EncodingKeys() []string {
	keys := make([]string, 0, len(s.encodings))
	for key := range s.encodings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Encoded returns the live sequence stored under key. Callers may modify the
// elements in place; length changes must go through SetEncoded.
func (s *Solution) Encoded(key string) []int {
	return s.encodings[key]
}

// SetEncoded replaces the sequence stored under key with a copy of values.
func (s *Solution) SetEncoded(key string, values []int) error {
	if _, ok := s.encodings[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEncoding, key)
	}
	s.encodings[key] = append([]int{}, values...)
	return nil
}

// Update gives fn exclusive write access to the sequence under key and stores
// whatever fn returns, so operators can grow or shrink it.
func (s *Solution) Update(key string, fn func([]int) []int) error {
	current, ok := s.encodings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEncoding, key)
	}
	s.encodings[key] = fn(current)
	return nil
}

func (s *Solution) Fitness(target string) (float64, bool) {
	v, ok := s.fitness[target]
	return v, ok
}

func (s *Solution) SetFitness(target string, value float64) error {
	if !s.declares(target) {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	s.fitness[target] = value
	return nil
}

// ResetFitness forgets every fitness value so a failed re-evaluation cannot
// leave a stale score behind.
func (s *Solution) ResetFitness() {
	for key := range s.fitness {
		delete(s.fitness, key)
	}
}

// Evaluated reports whether every declared target carries a fitness value.
func (s *Solution) Evaluated() bool {
	if len(s.targets) == 0 {
		return false
	}
	for _, target := range s.targets {
		if _, ok := s.fitness[target]; !ok {
			return false
		}
	}
	return true
}

func (s *Solution) FitnessMap() map[string]float64 {
	out := make(map[string]float64, len(s.fitness))
	for k, v := range s.fitness {
		out[k] = v
	}
	return out
}

// Clone deep-copies the solution under a new id. An empty id draws a fresh one.
func (s *Solution) Clone(id string) *Solution {
	if id == "" {
		id = uuid.NewString()
	}
	out := &Solution{
		ID:        id,
		targets:   append([]string(nil), s.targets...),
		encodings: make(map[string][]int, len(s.encodings)),
		fitness:   make(map[string]float64, len(s.fitness)),
	}
	for k, v := range s.encodings {
		out.encodings[k] = append([]int{}, v...)
	}
	for k, v := range s.fitness {
		out.fitness[k] = v
	}
	return out
}

// Signature is a stable textual key of the encodings, used to count distinct
// genomes in a population.
func (s *Solution) Signature() string {
	keys := s.EncodingKeys()
	out := ""
	for _, key := range keys {
		out += fmt.Sprintf("%s=%v;", key, s.encodings[key])
	}
	return out
}

func (s *Solution) declares(target string) bool {
	for _, t := range s.targets {
		if t == target {
			return true
		}
	}
	return false
}

func ToRecord(s *Solution) model.SolutionRecord {
	encodings := make(map[string][]int, len(s.encodings))
	for k, v := range s.encodings {
		encodings[k] = append([]int{}, v...)
	}
	return model.SolutionRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: SchemaVersion, CodecVersion: CodecVersion},
		ID:              s.ID,
		Encodings:       encodings,
		Fitness:         s.FitnessMap(),
	}
}

// FromRecord rebuilds a solution for the given targets. Fitness entries for
// undeclared targets are dropped.
func FromRecord(record model.SolutionRecord, targets []string) *Solution {
	keys := make([]string, 0, len(record.Encodings))
	for key := range record.Encodings {
		keys = append(keys, key)
	}
	s := NewSolution(targets, keys)
	s.ID = record.ID
	for k, v := range record.Encodings {
		s.encodings[k] = append([]int{}, v...)
	}
	for k, v := range record.Fitness {
		if s.declares(k) {
			s.fitness[k] = v
		}
	}
	return s
}

const (
	SchemaVersion = 1
	CodecVersion  = 1
)
