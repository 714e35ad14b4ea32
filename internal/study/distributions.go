package study

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Distribution describes the domain a parameter is sampled from
type Distribution interface {
	// Sample draws a value using rng
	Sample(rng *rand.Rand) any
	// Contains reports whether v lies in the domain
	Contains(v any) bool
	// Validate checks that the bounds are usable
	Validate() error
}

// IntDistribution is an integer range [Low, High]
type IntDistribution struct {
	Low  int
	High int
	Log  bool
}

func (d IntDistribution) Validate() error {
	if d.Low > d.High {
		return fmt.Errorf("%w: low %d > high %d", ErrInvalidDistribution, d.Low, d.High)
	}
	if d.Log && d.Low < 1 {
		return fmt.Errorf("%w: log-scaled int requires low >= 1, got %d", ErrInvalidDistribution, d.Low)
	}
	return nil
}

// Sample draws uniformly, or uniformly in log space over [Low-0.5, High+0.5]
// when Log is set, then rounds and clamps to the range
func (d IntDistribution) Sample(rng *rand.Rand) any {
	var v float64
	if d.Log {
		lo := math.Log(float64(d.Low) - 0.5)
		hi := math.Log(float64(d.High) + 0.5)
		v = math.Exp(lo + rng.Float64()*(hi-lo))
	} else {
		lo := float64(d.Low) - 0.5
		hi := float64(d.High) + 0.5
		v = lo + rng.Float64()*(hi-lo)
	}
	return min(max(int(math.Round(v)), d.Low), d.High)
}

func (d IntDistribution) Contains(v any) bool {
	i, ok := v.(int)
	return ok && i >= d.Low && i <= d.High
}

// FloatDistribution is a real range [Low, High]
type FloatDistribution struct {
	Low  float64
	High float64
	Log  bool
}

func (d FloatDistribution) Validate() error {
	if d.Low > d.High {
		return fmt.Errorf("%w: low %v > high %v", ErrInvalidDistribution, d.Low, d.High)
	}
	if d.Log && d.Low <= 0 {
		return fmt.Errorf("%w: log-scaled float requires low > 0, got %v", ErrInvalidDistribution, d.Low)
	}
	return nil
}

func (d FloatDistribution) Sample(rng *rand.Rand) any {
	if d.Low == d.High {
		return d.Low
	}
	if d.Log {
		lo, hi := math.Log(d.Low), math.Log(d.High)
		return min(max(math.Exp(lo+rng.Float64()*(hi-lo)), d.Low), d.High)
	}
	return d.Low + rng.Float64()*(d.High-d.Low)
}

func (d FloatDistribution) Contains(v any) bool {
	f, ok := v.(float64)
	return ok && f >= d.Low && f <= d.High
}

// CategoricalDistribution picks one of a fixed set of choices
type CategoricalDistribution struct {
	Choices []any
}

func (d CategoricalDistribution) Validate() error {
	if len(d.Choices) == 0 {
		return fmt.Errorf("%w: no categorical choices", ErrInvalidDistribution)
	}
	return nil
}

func (d CategoricalDistribution) Sample(rng *rand.Rand) any {
	return d.Choices[rng.IntN(len(d.Choices))]
}

func (d CategoricalDistribution) Contains(v any) bool {
	return slices.Contains(d.Choices, v)
}
