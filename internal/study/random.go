package study

import (
	"math/rand/v2"
	"sync"
)

// ParamSampler draws parameter values for a trial
type ParamSampler interface {
	Sample(trialNumber int, name string, dist Distribution) any
}

// RandomSampler samples every parameter independently from its distribution
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler seeded with seed
func NewRandomSampler(seed uint64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample implements ParamSampler
func (s *RandomSampler) Sample(_ int, _ string, dist Distribution) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dist.Sample(s.rng)
}
