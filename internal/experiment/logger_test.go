package experiment

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/Jumshim/fastllm/internal/engine"
	"github.com/Jumshim/fastllm/internal/storage"
	"github.com/Jumshim/fastllm/pkg/types"
)

var (
	_ Logger        = (*RunLogger)(nil)
	_ Logger        = NopLogger{}
	_ engine.Logger = (*RunLogger)(nil)
)

type RunLoggerSuite struct {
	suite.Suite
	store *storage.SQLiteStorage
	ctx   context.Context
}

func (s *RunLoggerSuite) SetupTest() {
	store, err := storage.NewSQLiteStorage(":memory:")
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
}

func (s *RunLoggerSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *RunLoggerSuite) TestVersionsIncrementPerName() {
	first, err := NewRunLogger(s.ctx, s.store, "tb_stratified", "similarity-model-1536-32")
	s.Require().NoError(err)
	second, err := NewRunLogger(s.ctx, s.store, "tb_stratified", "similarity-model-1536-32")
	s.Require().NoError(err)
	other, err := NewRunLogger(s.ctx, s.store, "tb_stratified", "similarity-model-768-64")
	s.Require().NoError(err)

	s.Equal(0, first.Version())
	s.Equal(1, second.Version())
	s.Equal(0, other.Version())
	s.Equal("similarity-model-1536-32", first.Name())
	s.Equal("tb_stratified/similarity-model-1536-32/version_1", second.Dir())
}

func (s *RunLoggerSuite) TestLogsHyperparamsAndMetrics() {
	logger, err := NewRunLogger(s.ctx, s.store, "tb", "run")
	s.Require().NoError(err)

	s.Require().NoError(logger.LogHyperparams(s.ctx, map[string]any{"n_dims": 1536, "lr": 1e-4}))
	s.Require().NoError(logger.LogMetrics(s.ctx, 10, types.Metrics{"val_f1": 0.7, "val_loss": math.NaN()}))

	runs, err := s.store.ListRuns(s.ctx, "tb")
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal(float64(1536), runs[0].Hparams["n_dims"])

	metrics, err := s.store.ListRunMetrics(s.ctx, runs[0].ID)
	s.Require().NoError(err)
	s.Require().Len(metrics, 1)
	s.Equal("val_f1", metrics[0].Name)
	s.Equal(10, metrics[0].Step)
}

func TestRunLoggerSuite(t *testing.T) {
	suite.Run(t, new(RunLoggerSuite))
}

func TestNewRunLoggerRequiresName(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = NewRunLogger(context.Background(), store, "tb", "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestNopLogger(t *testing.T) {
	l := NopLogger{RunName: "x"}
	assert.NoError(t, l.LogHyperparams(context.Background(), nil))
	assert.NoError(t, l.LogMetrics(context.Background(), 0, nil))
	assert.Equal(t, "x", l.Name())
	assert.Equal(t, 0, l.Version())
}
