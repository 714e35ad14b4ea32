package search

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jumshim/fastllm/internal/dataset"
	"github.com/Jumshim/fastllm/internal/engine"
	"github.com/Jumshim/fastllm/internal/experiment"
	"github.com/Jumshim/fastllm/internal/model"
	"github.com/Jumshim/fastllm/internal/storage"
	"github.com/Jumshim/fastllm/internal/study"
	"github.com/Jumshim/fastllm/pkg/types"
)

// staticSplit serves the same split on every call
type staticSplit struct {
	split *dataset.Split
	err   error
	calls int
}

func (s *staticSplit) LoadAndSplit(ctx context.Context) (*dataset.Split, error) {
	s.calls++
	return s.split, s.err
}

func makePairs(n, dim int) *dataset.PairDataset {
	d := &dataset.PairDataset{}
	for i := range n {
		d.A = append(d.A, make([]float32, dim))
		d.B = append(d.B, make([]float32, dim))
		d.Labels = append(d.Labels, i%2)
	}
	return d
}

func newSplit(dim int) *staticSplit {
	return &staticSplit{split: &dataset.Split{
		Train: makePairs(64, dim),
		Val:   makePairs(16, dim),
		Test:  makePairs(16, dim),
	}}
}

// stubModule satisfies engine.Module without doing any work
type stubModule struct {
	cfg model.Config
}

func (m *stubModule) TrainStep(context.Context, dataset.Batch) (engine.StepOutput, error) {
	return engine.StepOutput{}, nil
}

func (m *stubModule) ValidateStep(context.Context, dataset.Batch) (engine.StepOutput, error) {
	return engine.StepOutput{}, nil
}

func (m *stubModule) TestStep(context.Context, dataset.Batch) (engine.StepOutput, error) {
	return engine.StepOutput{}, nil
}

func (m *stubModule) Hyperparams() map[string]any    { return nil }
func (m *stubModule) MarshalBinary() ([]byte, error) { return nil, nil }

// fakeTrainer records how it was configured and returns scripted test results
type fakeTrainer struct {
	configs   []engine.Config
	fitCalls  int
	testCalls int
	results   func(call int) ([]types.Metrics, error)
	fitErr    func(call int) error
	trainLen  int
}

func (f *fakeTrainer) factory() func(engine.Config) Trainer {
	return func(cfg engine.Config) Trainer {
		f.configs = append(f.configs, cfg)
		return f
	}
}

func (f *fakeTrainer) Fit(ctx context.Context, m engine.Module, train, val engine.Loader) ([]types.Metrics, error) {
	f.fitCalls++
	f.trainLen = train.Len()
	if f.fitErr != nil {
		if err := f.fitErr(f.fitCalls); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeTrainer) Test(ctx context.Context, m engine.Module, loaders ...engine.Loader) ([]types.Metrics, error) {
	f.testCalls++
	if f.results == nil {
		return []types.Metrics{{"test_f1": 0.5}}, nil
	}
	return f.results(f.testCalls)
}

// recordingLogger keeps the logged hyperparameters
type recordingLogger struct {
	experiment.NopLogger
	hparams map[string]any
}

func (l *recordingLogger) LogHyperparams(_ context.Context, params map[string]any) error {
	l.hparams = params
	return nil
}

type recorderFunc func(ctx context.Context, studyName string, trial types.FrozenTrial) error

func (f recorderFunc) RecordTrial(ctx context.Context, studyName string, trial types.FrozenTrial) error {
	return f(ctx, studyName, trial)
}

type studyRegistryFunc func(ctx context.Context, name string) (*storage.Study, error)

func (f studyRegistryFunc) CreateStudy(ctx context.Context, name string) (*storage.Study, error) {
	return f(ctx, name)
}

type harness struct {
	runner  *Runner
	trainer *fakeTrainer
	data    *staticSplit
	models  []model.Config
	loggers []string
	logger  *recordingLogger
	out     *bytes.Buffer
}

func newHarness(t *testing.T, dim int) *harness {
	h := &harness{
		trainer: &fakeTrainer{},
		data:    newSplit(dim),
		logger:  &recordingLogger{},
		out:     &bytes.Buffer{},
	}
	runner, err := New(Deps{
		Data: h.data,
		NewModel: func(cfg model.Config) (engine.Module, error) {
			h.models = append(h.models, cfg)
			return &stubModule{cfg: cfg}, nil
		},
		NewTrainer: h.trainer.factory(),
		NewLogger: func(_ context.Context, root, name string) (experiment.Logger, error) {
			h.loggers = append(h.loggers, root+"/"+name)
			return h.logger, nil
		},
		Out: h.out,
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.CheckpointDir = t.TempDir()
	cfg.Seed = 42
	return cfg
}

func fixedTrial() *study.FixedTrial {
	return study.NewFixedTrial(0, map[string]any{
		"n_dims":     1536,
		"batch_size": 32,
		"lr":         1e-4,
	})
}

func TestObjectiveWithFixedTrial(t *testing.T) {
	h := newHarness(t, 1536)
	h.trainer.results = func(int) ([]types.Metrics, error) {
		return []types.Metrics{{"test_f1": 0.83, "test_loss": 0.4}}, nil
	}

	value, err := h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	require.NoError(t, err)

	assert.Equal(t, 0.83, value)
	assert.Equal(t, 1, h.trainer.fitCalls)
	assert.Equal(t, 1, h.trainer.testCalls)
	assert.True(t, strings.HasPrefix(h.out.String(), "{'n_dims': 1536, 'batch_size': 32, 'lr': 0.0001}\n"),
		"params are printed in the order they are suggested: %q", h.out.String())
	require.Len(t, h.trainer.configs, 1)
	assert.Equal(t, 400, h.trainer.configs[0].MaxEpochs)
	assert.Len(t, h.trainer.configs[0].Callbacks, 1)
	assert.Same(t, h.logger, h.trainer.configs[0].Logger)

	// 64 training pairs in batches of 32
	assert.Equal(t, 2, h.trainer.trainLen)

	require.Len(t, h.models, 1)
	assert.Equal(t, model.Config{EmbeddingSize: 1536, NDims: 1536, DropoutFraction: 0.5, LR: 1e-4, Seed: 42}, h.models[0])
	assert.Equal(t, []string{"tb_stratified/similarity-model-1536-32"}, h.loggers)
	assert.Equal(t, map[string]any{
		"embedding_size":   1536,
		"dropout_fraction": 0.5,
		"batch_size":       32,
		"lr":               1e-4,
		"n_dims":           1536,
	}, h.logger.hparams)

	assert.True(t, strings.HasPrefix(h.out.String(), "{'batch_size': 32, 'lr': 0.0001, 'n_dims': 1536}\n"))
	assert.Contains(t, h.out.String(), "[test_f1 test_loss]")
}

func TestObjectiveMissingMetric(t *testing.T) {
	h := newHarness(t, 1536)
	h.trainer.results = func(int) ([]types.Metrics, error) {
		return []types.Metrics{{"test_loss": 0.4}}, nil
	}
	_, err := h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	assert.ErrorIs(t, err, ErrMissingObjectiveMetric)

	h.trainer.results = func(int) ([]types.Metrics, error) { return nil, nil }
	_, err = h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	assert.ErrorIs(t, err, ErrMissingObjectiveMetric)
}

func TestObjectiveEarlyStoppingOptional(t *testing.T) {
	h := newHarness(t, 1536)
	cfg := testConfig(t)
	cfg.Patience = 5

	_, err := h.runner.Objective(cfg)(context.Background(), fixedTrial())
	require.NoError(t, err)
	require.Len(t, h.trainer.configs, 1)
	assert.Len(t, h.trainer.configs[0].Callbacks, 2)
}

func TestObjectiveErrors(t *testing.T) {
	h := newHarness(t, 768)
	_, err := h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	assert.ErrorIs(t, err, ErrEmbeddingSize)
	assert.Zero(t, h.trainer.fitCalls)

	h = newHarness(t, 1536)
	boom := errors.New("disk full")
	h.data.err = boom
	_, err = h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	assert.ErrorIs(t, err, boom)

	h = newHarness(t, 1536)
	_, err = h.runner.Objective(testConfig(t))(context.Background(), study.NewFixedTrial(0, map[string]any{
		"n_dims": 1536, "batch_size": 48, "lr": 1e-4,
	}))
	assert.ErrorIs(t, err, study.ErrInvalidParam)

	h = newHarness(t, 1536)
	h.trainer.fitErr = func(int) error { return boom }
	_, err = h.runner.Objective(testConfig(t))(context.Background(), fixedTrial())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, h.trainer.testCalls)
}

func TestRunReportsBestTrial(t *testing.T) {
	h := newHarness(t, 1536)
	values := []float64{0.2, 0.9, 0.4, 0.7}
	h.trainer.results = func(call int) ([]types.Metrics, error) {
		return []types.Metrics{{"test_f1": values[call-1]}}, nil
	}
	h.trainer.fitErr = func(call int) error {
		if call == 5 {
			return errors.New("diverged")
		}
		return nil
	}

	var recorded []types.FrozenTrial
	h.runner.deps.Recorder = recorderFunc(func(_ context.Context, name string, trial types.FrozenTrial) error {
		assert.Equal(t, "finetune-embedding", name)
		recorded = append(recorded, trial)
		return nil
	})

	cfg := testConfig(t)
	cfg.NTrials = 5
	best, err := h.runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, best.Number)
	assert.Equal(t, 0.9, best.Value)
	assert.Equal(t, 5, best.Trials)
	assert.Equal(t, 1, best.Failed)
	assert.Len(t, recorded, 5)
	assert.Equal(t, types.TrialFailed, recorded[4].State)

	out := h.out.String()
	assert.Contains(t, out, "Number of finished trials: 5\n")
	assert.Contains(t, out, "Best trial:\n  Value: 0.9\n  Params: {'n_dims': ")

	for _, m := range h.models {
		assert.GreaterOrEqual(t, m.NDims, 768)
		assert.LessOrEqual(t, m.NDims, 4608)
		assert.GreaterOrEqual(t, m.LR, 1e-5)
		assert.LessOrEqual(t, m.LR, 1e-3)
	}
}

func TestRunsRecordSeparateStudies(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, 1536)
	values := []float64{0.1, 0.2, 0.95, 0.3, 0.4}
	h.trainer.results = func(call int) ([]types.Metrics, error) {
		return []types.Metrics{{"test_f1": values[call-1]}}, nil
	}
	h.runner.deps.Recorder = store
	h.runner.deps.Studies = store

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.NTrials = 3
	first, err := h.runner.Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "finetune-embedding/version_0", first.Study)
	assert.Equal(t, 0.95, first.Value)

	cfg.NTrials = 2
	second, err := h.runner.Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "finetune-embedding/version_1", second.Study)
	assert.Equal(t, 0.4, second.Value)
	assert.Equal(t, 1, second.Number)

	latest, err := store.LatestStudy(ctx, "finetune-embedding")
	require.NoError(t, err)
	assert.Equal(t, second.Study, latest.Key())

	records, err := store.ListTrials(ctx, latest.Key())
	require.NoError(t, err)
	require.Len(t, records, 2)
	trials := make([]types.FrozenTrial, 0, len(records))
	for _, r := range records {
		trials = append(trials, r.ToFrozenTrial())
	}
	best, err := study.BestOf(trials, study.Maximize)
	require.NoError(t, err)
	assert.Equal(t, 0.4, best.Value)

	records, err = store.ListTrials(ctx, first.Study)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRunStudyRegistryError(t *testing.T) {
	h := newHarness(t, 1536)
	h.runner.deps.Studies = studyRegistryFunc(func(context.Context, string) (*storage.Study, error) {
		return nil, storage.ErrInvalidInput
	})

	_, err := h.runner.Run(context.Background(), testConfig(t))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Zero(t, h.trainer.fitCalls)
}

func TestRunWithoutCompletedTrials(t *testing.T) {
	h := newHarness(t, 1536)
	h.trainer.fitErr = func(int) error { return errors.New("diverged") }

	cfg := testConfig(t)
	cfg.NTrials = 2
	_, err := h.runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, study.ErrNoCompletedTrials)
	assert.Contains(t, h.out.String(), "Number of finished trials: 2\n")
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, 1536)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, testConfig(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.trainer.fitCalls)
}

func TestNewRequiresData(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, ErrNoDataSource)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.LRLow = 1e-2
	cfg.BatchSizes = []int{0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning rate")
	assert.Contains(t, err.Error(), "batch size")
}

func TestTrialNaming(t *testing.T) {
	assert.Equal(t, "similarity-model-1536-32", TrialName(1536, 32))
	assert.Equal(t,
		"similarity-model-900-64-epoch=07-val_loss=0.31-val_recall=0.88-val_f1=0.79",
		engine.FormatCheckpointName(CheckpointTemplate(TrialName(900, 64)), map[string]float64{
			"epoch": 7, "val_loss": 0.3142, "val_recall": 0.875, "val_f1": 0.7911,
		}))
}
