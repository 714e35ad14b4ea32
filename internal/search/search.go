package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/Jumshim/fastllm/internal/dataset"
	"github.com/Jumshim/fastllm/internal/engine"
	"github.com/Jumshim/fastllm/internal/experiment"
	"github.com/Jumshim/fastllm/internal/model"
	"github.com/Jumshim/fastllm/internal/sampler"
	"github.com/Jumshim/fastllm/internal/storage"
	"github.com/Jumshim/fastllm/internal/study"
	"github.com/Jumshim/fastllm/pkg/types"
)

var (
	// ErrMissingObjectiveMetric is returned when testing does not report the objective metric
	ErrMissingObjectiveMetric = errors.New("objective metric missing from test results")
	// ErrEmbeddingSize is returned when stored embeddings do not match the configured size
	ErrEmbeddingSize = errors.New("embedding size mismatch")
	// ErrNoDataSource is returned when Deps has no split loader
	ErrNoDataSource = errors.New("no data source configured")
)

// Trainer fits and tests a module
type Trainer interface {
	Fit(ctx context.Context, m engine.Module, train, val engine.Loader) ([]types.Metrics, error)
	Test(ctx context.Context, m engine.Module, loaders ...engine.Loader) ([]types.Metrics, error)
}

// StudyRegistry hands out a new version of a named study for every run
type StudyRegistry interface {
	CreateStudy(ctx context.Context, name string) (*storage.Study, error)
}

// paramOrder is the order in which the objective suggests its params
var paramOrder = []string{"n_dims", "batch_size", "lr"}

// Deps are the collaborators a Runner builds each trial from
type Deps struct {
	Data       dataset.SplitLoader
	NewModel   func(cfg model.Config) (engine.Module, error)
	NewTrainer func(cfg engine.Config) Trainer
	NewLogger  func(ctx context.Context, root, name string) (experiment.Logger, error)
	Recorder   study.Recorder // Optional
	Studies    StudyRegistry  // Optional, trials are recorded under cfg.StudyName when nil
	Out        io.Writer      // Report output, default os.Stdout
}

// Runner runs trials of the search
type Runner struct {
	deps Deps
}

// New creates a runner. Only Data is required.
func New(deps Deps) (*Runner, error) {
	if deps.Data == nil {
		return nil, ErrNoDataSource
	}
	if deps.NewModel == nil {
		deps.NewModel = func(cfg model.Config) (engine.Module, error) {
			m, err := model.New(cfg)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if deps.NewTrainer == nil {
		deps.NewTrainer = func(cfg engine.Config) Trainer {
			return engine.NewTrainer(cfg)
		}
	}
	if deps.NewLogger == nil {
		deps.NewLogger = func(_ context.Context, _, name string) (experiment.Logger, error) {
			return experiment.NopLogger{RunName: name}, nil
		}
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Runner{deps: deps}, nil
}

// TrialName returns the name used for a trial's checkpoints and logs
func TrialName(nDims, batchSize int) string {
	return fmt.Sprintf("similarity-model-%d-%d", nDims, batchSize)
}

// CheckpointTemplate returns the checkpoint filename template for a trial
func CheckpointTemplate(name string) string {
	return name + "-{epoch:02d}-{val_loss:.2f}-{val_recall:.2f}-{val_f1:.2f}"
}

// Objective returns the function evaluated by the study for every trial
func (r *Runner) Objective(cfg Config) study.ObjectiveFunc {
	cfg.applyDefaults()

	return func(ctx context.Context, trial study.Trial) (float64, error) {
		embeddingSize := cfg.EmbeddingSize
		dropoutFraction := cfg.DropoutFraction

		nDims, err := trial.SuggestInt("n_dims", embeddingSize/2, embeddingSize*3, true)
		if err != nil {
			return 0, err
		}
		batchSize, err := study.SuggestChoice(trial, "batch_size", cfg.BatchSizes)
		if err != nil {
			return 0, err
		}
		lr, err := trial.SuggestFloat("lr", cfg.LRLow, cfg.LRHigh, true)
		if err != nil {
			return 0, err
		}
		name := TrialName(nDims, batchSize)

		fmt.Fprintln(r.deps.Out, types.FormatParamsOrdered(map[string]any{
			"n_dims":     nDims,
			"batch_size": batchSize,
			"lr":         lr,
		}, paramOrder...))

		split, err := r.deps.Data.LoadAndSplit(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load data: %w", err)
		}
		dim, err := split.Train.Dim()
		if err != nil {
			return 0, err
		}
		if dim != embeddingSize {
			return 0, fmt.Errorf("%w: stored %d, configured %d", ErrEmbeddingSize, dim, embeddingSize)
		}

		var samplerOpts []sampler.Option
		if cfg.Seed != 0 {
			samplerOpts = append(samplerOpts, sampler.WithRand(rand.New(rand.NewPCG(cfg.Seed, uint64(trial.Number())))))
		}
		trainSampler, err := sampler.NewStratified(split.Train.Labels, batchSize, samplerOpts...)
		if err != nil {
			return 0, err
		}
		trainLoader := &dataset.DataLoader{Dataset: split.Train, BatchSize: batchSize, Sampler: trainSampler}
		valLoader := &dataset.DataLoader{Dataset: split.Val, BatchSize: batchSize}
		testLoader := &dataset.DataLoader{Dataset: split.Test, BatchSize: batchSize}

		modelSeed := cfg.Seed + uint64(trial.Number())
		if cfg.Seed == 0 {
			modelSeed = uint64(time.Now().UnixNano())
		}
		m, err := r.deps.NewModel(model.Config{
			EmbeddingSize:   embeddingSize,
			NDims:           nDims,
			DropoutFraction: dropoutFraction,
			LR:              lr,
			Seed:            modelSeed,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to create model: %w", err)
		}

		checkpoint, err := engine.NewModelCheckpoint(cfg.CheckpointDir, CheckpointTemplate(name), cfg.Monitor, engine.ModeMax)
		if err != nil {
			return 0, err
		}
		callbacks := []engine.Callback{checkpoint}
		if cfg.Patience > 0 {
			es, err := engine.NewEarlyStopping(cfg.Monitor, engine.ModeMax, cfg.Patience)
			if err != nil {
				return 0, err
			}
			callbacks = append(callbacks, es)
		}

		logger, err := r.deps.NewLogger(ctx, cfg.LogRoot, name)
		if err != nil {
			return 0, fmt.Errorf("failed to create logger: %w", err)
		}
		err = logger.LogHyperparams(ctx, map[string]any{
			"embedding_size":   embeddingSize,
			"dropout_fraction": dropoutFraction,
			"batch_size":       batchSize,
			"lr":               lr,
			"n_dims":           nDims,
		})
		if err != nil {
			return 0, err
		}

		trainer := r.deps.NewTrainer(engine.Config{
			MaxEpochs: cfg.MaxEpochs,
			Callbacks: callbacks,
			Logger:    logger,
		})

		if _, err := trainer.Fit(ctx, m, trainLoader, valLoader); err != nil {
			return 0, fmt.Errorf("fit: %w", err)
		}
		if path := checkpoint.BestPath(); path != "" {
			log.Printf("Best checkpoint for %s: %s", name, path)
		}

		results, err := trainer.Test(ctx, m, testLoader)
		if err != nil {
			return 0, fmt.Errorf("test: %w", err)
		}
		if len(results) == 0 {
			return 0, fmt.Errorf("%w: no test results", ErrMissingObjectiveMetric)
		}
		fmt.Fprintln(r.deps.Out, results[0].Keys())

		value, ok := results[0].Get(cfg.ObjectiveMetric)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingObjectiveMetric, cfg.ObjectiveMetric)
		}
		return value, nil
	}
}

// BestTrialResult summarizes a finished search
type BestTrialResult struct {
	Study  string // Name the trials were recorded under
	Number int
	Value  float64
	Params map[string]any
	Trials int // Finished trials, failed ones included
	Failed int
}

// Run optimizes the objective for cfg.NTrials trials and prints the best trial
func (r *Runner) Run(ctx context.Context, cfg Config) (*BestTrialResult, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	opts := []study.Option{study.WithSampler(study.NewRandomSampler(seed))}
	if r.deps.Recorder != nil {
		opts = append(opts, study.WithRecorder(r.deps.Recorder))
	}
	studyName := cfg.StudyName
	if r.deps.Studies != nil {
		version, err := r.deps.Studies.CreateStudy(ctx, cfg.StudyName)
		if err != nil {
			return nil, fmt.Errorf("failed to create study %s: %w", cfg.StudyName, err)
		}
		studyName = version.Key()
	}
	st := study.New(studyName, study.Maximize, opts...)

	log.Printf("Starting study %s with %d trials", studyName, cfg.NTrials)
	if err := st.Optimize(ctx, r.Objective(cfg), cfg.NTrials); err != nil {
		return nil, fmt.Errorf("study %s interrupted: %w", studyName, err)
	}

	trials := st.Trials()
	failed := 0
	for _, t := range trials {
		if t.State == types.TrialFailed {
			failed++
		}
	}
	fmt.Fprintf(r.deps.Out, "Number of finished trials: %d\n", len(trials))

	best, err := st.BestTrial()
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(r.deps.Out, "Best trial:")
	fmt.Fprintf(r.deps.Out, "  Value: %v\n", best.Value)
	fmt.Fprintf(r.deps.Out, "  Params: %s\n", types.FormatParamsOrdered(best.Params, paramOrder...))

	return &BestTrialResult{
		Study:  studyName,
		Number: best.Number,
		Value:  best.Value,
		Params: best.Params,
		Trials: len(trials),
		Failed: failed,
	}, nil
}
