package sampler

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"time"
)

// Common errors
var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrTooFewSplits     = errors.New("stratified split requires at least one split")
	ErrInvalidTestSize  = errors.New("test size must be in (0, 1)")
	ErrClassTooSmall    = errors.New("least populated class has fewer than 2 members")
	ErrSplitTooSmall    = errors.New("split partition too small")
)

// holdoutFraction is the share of indices placed in the second half of the
// generated order
const holdoutFraction = 0.5

// Sampler produces the iteration order of a dataset
type Sampler interface {
	// Len returns the number of indices one pass yields
	Len() int

	// Iterate builds a fresh index order for one pass over the dataset
	Iterate() (iter.Seq[int], error)
}

// Stratified orders a dataset so that each half of the order keeps the class
// proportions of the full label vector. A new order is drawn on every call to
// Iterate, so every epoch sees a different class-balanced permutation.
type Stratified struct {
	classes []int
	nSplits int
	rng     *rand.Rand
}

// Option configures a Stratified sampler
type Option func(*Stratified)

// WithRand sets the random source used to draw orders
func WithRand(rng *rand.Rand) Option {
	return func(s *Stratified) {
		s.rng = rng
	}
}

// NewStratified creates a sampler over classVector. The number of internal
// splits is floor(len(classVector) / batchSize).
func NewStratified(classVector []int, batchSize int, opts ...Option) (*Stratified, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	s := &Stratified{
		classes: slices.Clone(classVector),
		nSplits: len(classVector) / batchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = newRand()
	}

	return s, nil
}

// Len returns the number of labels
func (s *Stratified) Len() int {
	return len(s.classes)
}

// NSplits returns the split count derived from the batch size
func (s *Stratified) NSplits() int {
	return s.nSplits
}

// Indices draws one order: the first split's train partition followed by its
// test partition
func (s *Stratified) Indices() ([]int, error) {
	splitter := &StratifiedShuffleSplit{
		NSplits:  s.nSplits,
		TestSize: holdoutFraction,
		Rand:     s.rng,
	}

	folds, err := splitter.Splits(s.classes)
	if err != nil {
		return nil, err
	}

	for fold := range folds {
		order := make([]int, 0, len(fold.Train)+len(fold.Test))
		order = append(order, fold.Train...)
		order = append(order, fold.Test...)
		return order, nil
	}

	return nil, ErrTooFewSplits
}

// Iterate implements Sampler
func (s *Stratified) Iterate() (iter.Seq[int], error) {
	order, err := s.Indices()
	if err != nil {
		return nil, err
	}
	return slices.Values(order), nil
}

// Sequential iterates indices in natural order
type Sequential struct {
	n int
}

// NewSequential creates a sampler over [0, n)
func NewSequential(n int) *Sequential {
	return &Sequential{n: n}
}

// Len implements Sampler
func (s *Sequential) Len() int {
	return s.n
}

// Iterate implements Sampler
func (s *Sequential) Iterate() (iter.Seq[int], error) {
	return func(yield func(int) bool) {
		for i := range s.n {
			if !yield(i) {
				return
			}
		}
	}, nil
}

func newRand() *rand.Rand {
	seed := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}
