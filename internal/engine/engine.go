package engine

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"iter"
	"log"

	"github.com/Jumshim/fastllm/internal/dataset"
	"github.com/Jumshim/fastllm/pkg/types"
)

var (
	// ErrEmptyLoader is returned when a loader yields no batches
	ErrEmptyLoader = errors.New("loader yielded no batches")
	// ErrInvalidMaxEpochs is returned for a non-positive epoch limit
	ErrInvalidMaxEpochs = errors.New("max epochs must be positive")
	// ErrMonitorMissing is returned when a callback's monitored metric was not logged
	ErrMonitorMissing = errors.New("monitored metric not found")
)

// Stage identifies which pass a step or epoch belongs to
type Stage string

const (
	StageTrain Stage = "train"
	StageVal   Stage = "val"
	StageTest  Stage = "test"
)

// StepOutput is what a module reports for one batch
type StepOutput struct {
	Loss    float64
	Metrics types.Metrics
}

// Module is a trainable model driven by the Trainer
type Module interface {
	TrainStep(ctx context.Context, batch dataset.Batch) (StepOutput, error)
	ValidateStep(ctx context.Context, batch dataset.Batch) (StepOutput, error)
	TestStep(ctx context.Context, batch dataset.Batch) (StepOutput, error)
	Hyperparams() map[string]any
	encoding.BinaryMarshaler
}

// EpochHooks is implemented by modules that compute epoch-level metrics
type EpochHooks interface {
	EpochStart(stage Stage)
	EpochEnd(stage Stage) types.Metrics
}

// Loader produces the batches of one pass
type Loader interface {
	Batches() (iter.Seq[dataset.Batch], error)
	Len() int
}

// Logger receives epoch metrics
type Logger interface {
	LogMetrics(ctx context.Context, step int, metrics types.Metrics) error
}

// Config configures a Trainer
type Config struct {
	MaxEpochs int
	Callbacks []Callback
	Logger    Logger // Optional
}

// Trainer runs fit and test loops
type Trainer struct {
	cfg        Config
	globalStep int
}

// NewTrainer creates a trainer
func NewTrainer(cfg Config) *Trainer {
	return &Trainer{cfg: cfg}
}

// Config returns the trainer's configuration
func (t *Trainer) Config() Config {
	return t.cfg
}

// GlobalStep returns the number of training batches processed so far
func (t *Trainer) GlobalStep() int {
	return t.globalStep
}

// Fit trains m for up to MaxEpochs epochs and returns the metrics of every
// completed epoch. A callback may stop fitting early.
func (t *Trainer) Fit(ctx context.Context, m Module, train, val Loader) ([]types.Metrics, error) {
	if t.cfg.MaxEpochs <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxEpochs, t.cfg.MaxEpochs)
	}

	var history []types.Metrics
	for epoch := range t.cfg.MaxEpochs {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		trainMetrics, err := t.runEpoch(ctx, m, StageTrain, train)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		valMetrics, err := t.runEpoch(ctx, m, StageVal, val)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		metrics := types.Metrics{"epoch": float64(epoch)}
		metrics.Merge(trainMetrics)
		metrics.Merge(valMetrics)
		history = append(history, metrics)

		if t.cfg.Logger != nil {
			if err := t.cfg.Logger.LogMetrics(ctx, t.globalStep, metrics); err != nil {
				log.Printf("Warning: failed to log metrics for epoch %d: %v", epoch, err)
			}
		}

		state := &State{
			Epoch:      epoch,
			GlobalStep: t.globalStep,
			Metrics:    metrics,
			Module:     m,
		}
		for _, cb := range t.cfg.Callbacks {
			if err := cb.OnValidationEnd(ctx, state); err != nil {
				return history, fmt.Errorf("epoch %d callback: %w", epoch, err)
			}
		}
		if state.stop {
			log.Printf("Stopping after epoch %d", epoch)
			break
		}
	}

	return history, nil
}

// Test evaluates m once per loader and returns one metrics mapping per loader
func (t *Trainer) Test(ctx context.Context, m Module, loaders ...Loader) ([]types.Metrics, error) {
	results := make([]types.Metrics, 0, len(loaders))
	for i, loader := range loaders {
		metrics, err := t.runEpoch(ctx, m, StageTest, loader)
		if err != nil {
			return nil, fmt.Errorf("test loader %d: %w", i, err)
		}
		if t.cfg.Logger != nil {
			if err := t.cfg.Logger.LogMetrics(ctx, t.globalStep, metrics); err != nil {
				log.Printf("Warning: failed to log test metrics: %v", err)
			}
		}
		results = append(results, metrics)
	}
	return results, nil
}

func (t *Trainer) runEpoch(ctx context.Context, m Module, stage Stage, loader Loader) (types.Metrics, error) {
	hooks, hasHooks := m.(EpochHooks)
	if hasHooks {
		hooks.EpochStart(stage)
	}

	batches, err := loader.Batches()
	if err != nil {
		return nil, fmt.Errorf("%s loader: %w", stage, err)
	}

	sums := make(map[string]float64)
	total := 0
	for batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := step(ctx, m, stage, batch)
		if err != nil {
			return nil, fmt.Errorf("%s step: %w", stage, err)
		}

		size := batch.Size()
		for name, v := range out.Metrics {
			sums[name] += v * float64(size)
		}
		total += size
		if stage == StageTrain {
			t.globalStep++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyLoader, stage)
	}

	metrics := make(types.Metrics, len(sums))
	for name, sum := range sums {
		metrics[name] = sum / float64(total)
	}
	if hasHooks {
		metrics.Merge(hooks.EpochEnd(stage))
	}
	return metrics, nil
}

func step(ctx context.Context, m Module, stage Stage, batch dataset.Batch) (StepOutput, error) {
	switch stage {
	case StageTrain:
		return m.TrainStep(ctx, batch)
	case StageVal:
		return m.ValidateStep(ctx, batch)
	default:
		return m.TestStep(ctx, batch)
	}
}
