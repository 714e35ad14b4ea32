// Package sampler decides the order in which training examples are visited.
//
// The Stratified sampler wraps a stratified shuffle split: on every pass it
// partitions the label vector into two halves that each keep the overall
// class proportions, then concatenates the halves into one index order. The
// data loader slices that order into batches, so contiguous runs of the order
// (and therefore batches) stay roughly class-balanced.
//
//	s, err := sampler.NewStratified(labels, 32)
//	if err != nil {
//	    return err
//	}
//	order, err := s.Iterate() // fresh permutation of [0, len(labels))
//
// The number of internal splits is len(labels)/batchSize. When it is zero the
// split cannot run and Iterate returns ErrTooFewSplits; a single split is
// valid because only the first split is ever used. Label vectors in which a
// class has a single member are rejected with ErrClassTooSmall.
package sampler
