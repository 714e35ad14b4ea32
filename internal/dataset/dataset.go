package dataset

import (
	"errors"
	"fmt"
	"iter"

	"github.com/Jumshim/fastllm/internal/sampler"
)

var (
	// ErrDimensionMismatch is returned when embeddings in one dataset differ in length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidBatchSize is returned for a non-positive batch size
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrSamplerLength is returned when a sampler does not cover the dataset
	ErrSamplerLength = errors.New("sampler length does not match dataset length")
	// ErrEmptySplit is returned when a split has no examples
	ErrEmptySplit = errors.New("split has no examples")
)

// PairDataset is a set of labelled embedding pairs. Index i of A, B and Labels
// refers to the same example.
type PairDataset struct {
	A      [][]float32
	B      [][]float32
	Labels []int
}

// NewPairDataset validates and wraps aligned slices
func NewPairDataset(a, b [][]float32, labels []int) (*PairDataset, error) {
	if len(a) != len(b) || len(a) != len(labels) {
		return nil, fmt.Errorf("misaligned dataset: %d a, %d b, %d labels", len(a), len(b), len(labels))
	}
	d := &PairDataset{A: a, B: b, Labels: labels}
	if _, err := d.Dim(); err != nil {
		return nil, err
	}
	return d, nil
}

// Len returns the number of examples
func (d *PairDataset) Len() int {
	return len(d.Labels)
}

// Dim returns the shared embedding dimension, 0 for an empty dataset
func (d *PairDataset) Dim() (int, error) {
	if len(d.A) == 0 {
		return 0, nil
	}
	dim := len(d.A[0])
	for i := range d.A {
		if len(d.A[i]) != dim || len(d.B[i]) != dim {
			return 0, fmt.Errorf("%w: example %d has %d/%d, want %d",
				ErrDimensionMismatch, i, len(d.A[i]), len(d.B[i]), dim)
		}
	}
	return dim, nil
}

// Batch is a slice of examples gathered in sampler order
type Batch struct {
	Indices []int
	A       [][]float32
	B       [][]float32
	Labels  []int
}

// Size returns the number of examples in the batch
func (b Batch) Size() int {
	return len(b.Labels)
}

// Split is the three-way partition used for one trial
type Split struct {
	Train *PairDataset
	Val   *PairDataset
	Test  *PairDataset
}

// DataLoader batches a dataset in the order given by Sampler
type DataLoader struct {
	Dataset   *PairDataset
	BatchSize int
	Sampler   sampler.Sampler // Natural order when nil
}

// Len returns the number of batches per pass, ceil(N / BatchSize)
func (l *DataLoader) Len() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Dataset.Len() + l.BatchSize - 1) / l.BatchSize
}

// Batches draws a fresh index order and returns the batches of one pass.
// The final batch is kept even when it is short.
func (l *DataLoader) Batches() (iter.Seq[Batch], error) {
	if l.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, l.BatchSize)
	}

	s := l.Sampler
	if s == nil {
		s = sampler.NewSequential(l.Dataset.Len())
	}
	if s.Len() != l.Dataset.Len() {
		return nil, fmt.Errorf("%w: sampler %d, dataset %d", ErrSamplerLength, s.Len(), l.Dataset.Len())
	}

	order, err := s.Iterate()
	if err != nil {
		return nil, fmt.Errorf("failed to draw sample order: %w", err)
	}

	return func(yield func(Batch) bool) {
		indices := make([]int, 0, l.BatchSize)
		for idx := range order {
			indices = append(indices, idx)
			if len(indices) == l.BatchSize {
				if !yield(l.gather(indices)) {
					return
				}
				indices = make([]int, 0, l.BatchSize)
			}
		}
		if len(indices) > 0 {
			yield(l.gather(indices))
		}
	}, nil
}

func (l *DataLoader) gather(indices []int) Batch {
	b := Batch{
		Indices: indices,
		A:       make([][]float32, len(indices)),
		B:       make([][]float32, len(indices)),
		Labels:  make([]int, len(indices)),
	}
	for i, idx := range indices {
		b.A[i] = l.Dataset.A[idx]
		b.B[i] = l.Dataset.B[idx]
		b.Labels[i] = l.Dataset.Labels[idx]
	}
	return b
}
