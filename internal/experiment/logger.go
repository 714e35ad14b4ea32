package experiment

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/Jumshim/fastllm/internal/storage"
	"github.com/Jumshim/fastllm/pkg/types"
)

// Logger accepts hyperparameters and metrics for one run
type Logger interface {
	LogHyperparams(ctx context.Context, params map[string]any) error
	LogMetrics(ctx context.Context, step int, metrics types.Metrics) error
	Name() string
	Version() int
}

// RunStore is the subset of storage.Storage used by RunLogger
type RunStore interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	UpdateRunHparams(ctx context.Context, runID int64, hparams map[string]any) error
	InsertRunMetrics(ctx context.Context, runID int64, step int, metrics map[string]float64) error
}

// RunLogger persists a run to storage
type RunLogger struct {
	store RunStore
	run   *storage.Run
}

// NewRunLogger creates a new versioned run under root/name
func NewRunLogger(ctx context.Context, store RunStore, root, name string) (*RunLogger, error) {
	run := &storage.Run{Root: root, Name: name}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run %s/%s: %w", root, name, err)
	}
	return &RunLogger{store: store, run: run}, nil
}

// LogHyperparams stores params as the run's hyperparameters
func (l *RunLogger) LogHyperparams(ctx context.Context, params map[string]any) error {
	if err := l.store.UpdateRunHparams(ctx, l.run.ID, params); err != nil {
		return fmt.Errorf("failed to log hyperparameters: %w", err)
	}
	l.run.Hparams = params
	return nil
}

// LogMetrics stores the finite metrics at step. Non-finite values are dropped.
func (l *RunLogger) LogMetrics(ctx context.Context, step int, metrics types.Metrics) error {
	finite := make(map[string]float64, len(metrics))
	for name, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			log.Printf("Warning: dropping non-finite metric %s=%v at step %d", name, v, step)
			continue
		}
		finite[name] = v
	}
	if err := l.store.InsertRunMetrics(ctx, l.run.ID, step, finite); err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}
	return nil
}

// Name returns the run name
func (l *RunLogger) Name() string {
	return l.run.Name
}

// Version returns the run's version under its root and name
func (l *RunLogger) Version() int {
	return l.run.Version
}

// Dir returns root/name/version_N
func (l *RunLogger) Dir() string {
	return l.run.Dir()
}

// NopLogger discards everything
type NopLogger struct {
	RunName string
}

func (NopLogger) LogHyperparams(context.Context, map[string]any) error  { return nil }
func (NopLogger) LogMetrics(context.Context, int, types.Metrics) error { return nil }
func (n NopLogger) Name() string                                        { return n.RunName }
func (NopLogger) Version() int                                          { return 0 }
