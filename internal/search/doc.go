// Package search runs the hyperparameter search for the similarity model.
//
// Every trial samples n_dims (log-uniform integer in [E/2, 3E] for embedding
// size E), batch_size (one of 32, 64, 128) and lr (log-uniform in
// [1e-5, 1e-3]), trains a fresh model on stratified training batches for up to
// 400 epochs while keeping the best checkpoint by validation F1, and returns
// the test F1 of the final model as the trial value. The study maximizes that
// value and prints the best trial when all trials are done.
//
// Basic usage:
//
//	runner, err := search.New(search.Deps{Data: loader, Recorder: store})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	best, err := runner.Run(ctx, search.DefaultConfig())
package search
