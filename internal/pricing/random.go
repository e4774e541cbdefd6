package pricing

import (
	"math/rand/v2"
	"sync"
)

// RandomSource yields uniform draws in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// lockedSource serialises access to a seeded generator shared by overlapping ticks.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewRandomSource returns the process-wide generator, or a seeded reproducible one when seed != 0.
func NewRandomSource(seed uint64) RandomSource {
	if seed == 0 {
		return globalSource{}
	}
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}
