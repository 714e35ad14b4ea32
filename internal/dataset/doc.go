// Package dataset holds the labelled embedding pairs a similarity model trains on.
//
// A PairDataset keeps the two embeddings and the 0/1 label of every example in
// aligned slices. A DataLoader cuts a dataset into batches in the order a
// sampler.Sampler produces; without a sampler the natural order is used and the
// last batch may be short.
//
// StoreSplitLoader reads pairs from storage and returns the train, validation
// and test datasets. Pairs without an assigned split are split stratified by
// label, 70/15/15 by default, and the assignment is written back so that every
// later load sees the same partition.
package dataset
