package study

import (
	"fmt"
	"maps"
)

// Trial is the handle an objective uses to request hyperparameters
type Trial interface {
	Number() int
	SuggestInt(name string, low, high int, log bool) (int, error)
	SuggestFloat(name string, low, high float64, log bool) (float64, error)
	SuggestCategorical(name string, choices []any) (any, error)
	Params() map[string]any
}

// SuggestChoice is a typed wrapper around Trial.SuggestCategorical
func SuggestChoice[T comparable](t Trial, name string, choices []T) (T, error) {
	var zero T
	anyChoices := make([]any, len(choices))
	for i, c := range choices {
		anyChoices[i] = c
	}

	v, err := t.SuggestCategorical(name, anyChoices)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %T", ErrInvalidParam, name, v)
	}
	return typed, nil
}

// liveTrial is a trial driven by a ParamSampler inside Study.Optimize
type liveTrial struct {
	number  int
	sampler ParamSampler
	params  map[string]any
}

func newLiveTrial(number int, sampler ParamSampler) *liveTrial {
	return &liveTrial{
		number:  number,
		sampler: sampler,
		params:  make(map[string]any),
	}
}

func (t *liveTrial) Number() int {
	return t.number
}

func (t *liveTrial) suggest(name string, dist Distribution) (any, error) {
	if err := dist.Validate(); err != nil {
		return nil, fmt.Errorf("param %s: %w", name, err)
	}

	// Repeated suggestions of the same name return the first value
	if v, ok := t.params[name]; ok {
		if !dist.Contains(v) {
			return nil, fmt.Errorf("%w: %s redefined with an incompatible distribution", ErrInvalidParam, name)
		}
		return v, nil
	}

	v := t.sampler.Sample(t.number, name, dist)
	t.params[name] = v
	return v, nil
}

func (t *liveTrial) SuggestInt(name string, low, high int, log bool) (int, error) {
	v, err := t.suggest(name, IntDistribution{Low: low, High: high, Log: log})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (t *liveTrial) SuggestFloat(name string, low, high float64, log bool) (float64, error) {
	v, err := t.suggest(name, FloatDistribution{Low: low, High: high, Log: log})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (t *liveTrial) SuggestCategorical(name string, choices []any) (any, error) {
	return t.suggest(name, CategoricalDistribution{Choices: choices})
}

func (t *liveTrial) Params() map[string]any {
	return maps.Clone(t.params)
}

// FixedTrial answers every suggestion from a preset parameter map. It lets an
// objective run outside a study with known hyperparameters.
type FixedTrial struct {
	number int
	params map[string]any
	used   map[string]any
}

// NewFixedTrial creates a trial that returns params
func NewFixedTrial(number int, params map[string]any) *FixedTrial {
	return &FixedTrial{
		number: number,
		params: maps.Clone(params),
		used:   make(map[string]any),
	}
}

func (t *FixedTrial) Number() int {
	return t.number
}

func (t *FixedTrial) lookup(name string, dist Distribution) (any, error) {
	v, ok := t.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
	}
	if !dist.Contains(v) {
		return nil, fmt.Errorf("%w: %s=%v is outside its distribution", ErrInvalidParam, name, v)
	}
	t.used[name] = v
	return v, nil
}

func (t *FixedTrial) SuggestInt(name string, low, high int, log bool) (int, error) {
	v, err := t.lookup(name, IntDistribution{Low: low, High: high, Log: log})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (t *FixedTrial) SuggestFloat(name string, low, high float64, log bool) (float64, error) {
	v, err := t.lookup(name, FloatDistribution{Low: low, High: high, Log: log})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (t *FixedTrial) SuggestCategorical(name string, choices []any) (any, error) {
	return t.lookup(name, CategoricalDistribution{Choices: choices})
}

// Params returns the parameters suggested so far
func (t *FixedTrial) Params() map[string]any {
	return maps.Clone(t.used)
}
