// Package model implements the pair similarity classifier trained by the
// hyperparameter search.
//
// For a pair of embeddings a and b the model builds the feature vector
// [a*b, |a-b|], applies one ReLU hidden layer of NDims units with dropout, and
// predicts the probability that the pair matches with a logistic output. It is
// trained with binary cross entropy and Adam.
//
// Per-example forward passes and per-row weight gradients fan out over
// runtime.NumCPU() goroutines. Validation and test epochs report F1, recall,
// precision and accuracy from a binary confusion matrix.
package model
