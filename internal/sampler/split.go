package sampler

import (
	"cmp"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
)

// Fold is one train/test partition of the sample indices
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedShuffleSplit produces randomized train/test partitions that
// preserve the class proportions of y in both halves.
type StratifiedShuffleSplit struct {
	NSplits  int
	TestSize float64 // Fraction of samples in the test partition, (0, 1)
	Rand     *rand.Rand
}

// Splits validates y and returns a lazy sequence of NSplits folds.
// Only the folds actually consumed are computed.
func (s *StratifiedShuffleSplit) Splits(y []int) (iter.Seq[Fold], error) {
	if s.NSplits < 1 {
		return nil, fmt.Errorf("%w: n_splits=%d", ErrTooFewSplits, s.NSplits)
	}
	if s.TestSize <= 0 || s.TestSize >= 1 {
		return nil, fmt.Errorf("%w: test_size=%v", ErrInvalidTestSize, s.TestSize)
	}

	n := len(y)
	nTest := int(math.Ceil(s.TestSize*float64(n) - 1e-9))
	nTrain := n - nTest
	if nTrain <= 0 || nTest <= 0 {
		return nil, fmt.Errorf("%w: n_samples=%d gives train=%d test=%d", ErrSplitTooSmall, n, nTrain, nTest)
	}

	classes, classIndices := groupByClass(y)
	counts := make([]int, len(classes))
	for i, idx := range classIndices {
		counts[i] = len(idx)
		if counts[i] < 2 {
			return nil, fmt.Errorf("%w: class %d has %d member(s)", ErrClassTooSmall, classes[i], counts[i])
		}
	}
	if nTrain < len(classes) {
		return nil, fmt.Errorf("%w: train size %d is smaller than the number of classes %d", ErrSplitTooSmall, nTrain, len(classes))
	}
	if nTest < len(classes) {
		return nil, fmt.Errorf("%w: test size %d is smaller than the number of classes %d", ErrSplitTooSmall, nTest, len(classes))
	}

	rng := s.Rand
	if rng == nil {
		rng = newRand()
	}

	return func(yield func(Fold) bool) {
		for range s.NSplits {
			if !yield(splitOnce(rng, classIndices, counts, nTrain, nTest)) {
				return
			}
		}
	}, nil
}

// splitOnce draws a single stratified partition
func splitOnce(rng *rand.Rand, classIndices [][]int, counts []int, nTrain, nTest int) Fold {
	trainPerClass := approximateMode(rng, counts, nTrain)
	remaining := make([]int, len(counts))
	for i := range counts {
		remaining[i] = counts[i] - trainPerClass[i]
	}
	testPerClass := approximateMode(rng, remaining, nTest)

	fold := Fold{
		Train: make([]int, 0, nTrain),
		Test:  make([]int, 0, nTest),
	}
	for i, indices := range classIndices {
		perm := slices.Clone(indices)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		fold.Train = append(fold.Train, perm[:trainPerClass[i]]...)
		fold.Test = append(fold.Test, perm[trainPerClass[i]:trainPerClass[i]+testPerClass[i]]...)
	}

	rng.Shuffle(len(fold.Train), func(a, b int) { fold.Train[a], fold.Train[b] = fold.Train[b], fold.Train[a] })
	rng.Shuffle(len(fold.Test), func(a, b int) { fold.Test[a], fold.Test[b] = fold.Test[b], fold.Test[a] })
	return fold
}

// approximateMode allocates nDraws across classes proportionally to counts.
// The floored allocation is topped up one draw at a time, preferring the
// classes with the largest fractional remainder; ties are broken at random.
func approximateMode(rng *rand.Rand, counts []int, nDraws int) []int {
	total := 0
	for _, c := range counts {
		total += c
	}

	alloc := make([]int, len(counts))
	if total == 0 {
		return alloc
	}

	remainders := make([]float64, len(counts))
	assigned := 0
	for i, c := range counts {
		continuous := float64(c) * float64(nDraws) / float64(total)
		alloc[i] = int(math.Floor(continuous))
		remainders[i] = continuous - float64(alloc[i])
		assigned += alloc[i]
	}

	need := nDraws - assigned
	if need <= 0 {
		return alloc
	}

	distinct := slices.Clone(remainders)
	slices.SortFunc(distinct, func(a, b float64) int { return cmp.Compare(b, a) })
	distinct = slices.Compact(distinct)

	for _, value := range distinct {
		var candidates []int
		for i, r := range remainders {
			if r == value {
				candidates = append(candidates, i)
			}
		}
		rng.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
		take := min(len(candidates), need)
		for _, i := range candidates[:take] {
			alloc[i]++
		}
		need -= take
		if need == 0 {
			break
		}
	}

	return alloc
}

// groupByClass returns the sorted distinct labels and, per label, the
// positions where it occurs in y
func groupByClass(y []int) ([]int, [][]int) {
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	slices.Sort(classes)

	indices := make([][]int, len(classes))
	for i, label := range classes {
		indices[i] = byClass[label]
	}
	return classes, indices
}
