// Package types provides shared type definitions for the embedding
// hyperparameter search.
//
// # Trials
//
// FrozenTrial is the immutable record of one finished trial: its sampled
// hyperparameters, its final state and, for complete trials, the objective
// value:
//
//	trial := types.FrozenTrial{
//	    Number: 3,
//	    State:  types.TrialComplete,
//	    Value:  0.81,
//	    Params: map[string]any{"n_dims": 2048, "batch_size": 64, "lr": 3e-4},
//	}
//
// Failed trials keep their parameters and the failure message but never take
// part in best-trial selection.
//
// # Metrics
//
// Metrics is a named scalar mapping shared by the model, the training engine
// and the experiment logger:
//
//	m := types.Metrics{"val_loss": 0.42, "val_f1": 0.77}
//	f1, ok := m.Get("val_f1")
package types
