// Package study drives a hyperparameter search.
//
// A Study repeatedly hands a Trial to an objective function. The objective
// asks the trial for hyperparameters (SuggestInt, SuggestFloat,
// SuggestCategorical), trains and evaluates with them, and returns a scalar.
// The study keeps every finished trial and reports the best one:
//
//	st := study.New("finetune-embedding", study.Maximize,
//	    study.WithSampler(study.NewRandomSampler(42)))
//
//	err := st.Optimize(ctx, func(ctx context.Context, t study.Trial) (float64, error) {
//	    lr, err := t.SuggestFloat("lr", 1e-5, 1e-3, true)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return train(ctx, lr)
//	}, 20)
//
//	best, err := st.BestTrial()
//
// Trials run strictly one at a time. An objective error, a panic or a NaN
// result marks only that trial as failed; failed trials never become the best
// trial. The history is append-only and lives in the Study value, with an
// optional Recorder receiving each finished trial.
//
// FixedTrial replays a known parameter set through the same objective, which
// is how objectives are exercised in tests.
package study
