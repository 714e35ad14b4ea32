package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jumshim/fastllm/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func testPair(label int) *Pair {
	return &Pair{
		TextA:    "a",
		TextB:    "b",
		VectorA:  []float32{0.1, 0.2, 0.3},
		VectorB:  []float32{0.3, 0.2, 0.1},
		Label:    label,
		Provider: "local",
		Model:    "test",
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, storage.db))

	var n int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, RollbackMigration(ctx, storage.db))

	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)
	_, err = storage.CreateStudy(ctx, "study")
	assert.Error(t, err)

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	// Trials table is gone, pairs table remains
	_, err = storage.ListTrials(ctx, "study")
	assert.Error(t, err)
	_, err = storage.CountPairs(ctx)
	assert.NoError(t, err)

	// Reapplying brings the schema back
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	_, err = storage.ListTrials(ctx, "study")
	assert.NoError(t, err)
	_, err = storage.CreateStudy(ctx, "study")
	assert.NoError(t, err)
}

func TestInsertAndGetPair(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	pair := testPair(1)
	require.NoError(t, storage.InsertPair(ctx, pair))
	assert.Greater(t, pair.ID, int64(0))
	assert.Equal(t, 3, pair.Dimension)

	got, err := storage.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.TextA, got.TextA)
	assert.Equal(t, pair.VectorA, got.VectorA)
	assert.Equal(t, pair.VectorB, got.VectorB)
	assert.Equal(t, 1, got.Label)
	assert.Equal(t, SplitNone, got.Split)

	_, err = storage.GetPair(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertPairValidation(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	bad := testPair(2)
	assert.ErrorIs(t, storage.InsertPair(ctx, bad), ErrInvalidInput)

	mismatched := testPair(0)
	mismatched.VectorB = []float32{1}
	assert.ErrorIs(t, storage.InsertPair(ctx, mismatched), ErrInvalidInput)

	unknownSplit := testPair(0)
	unknownSplit.Split = "holdout"
	assert.ErrorIs(t, storage.InsertPair(ctx, unknownSplit), ErrInvalidInput)
}

func TestAssignSplitsAndStatus(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	var ids []int64
	for i := range 4 {
		p := testPair(i % 2)
		require.NoError(t, storage.InsertPair(ctx, p))
		ids = append(ids, p.ID)
	}

	err := storage.AssignSplits(ctx, map[int64]string{
		ids[0]: SplitTrain,
		ids[1]: SplitTrain,
		ids[2]: SplitVal,
		ids[3]: SplitTest,
	})
	require.NoError(t, err)

	status, err := storage.GetDatasetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, status.TotalPairs)
	assert.Equal(t, 2, status.SplitCounts[SplitTrain])
	assert.Equal(t, 1, status.SplitCounts[SplitVal])
	assert.Equal(t, 1, status.SplitCounts[SplitTest])
	assert.Equal(t, map[int]int{0: 2, 1: 2}, status.LabelCounts)
	assert.Equal(t, []int{3}, status.Dimensions)
	assert.Greater(t, status.DatabaseSizeMB, 0.0)
}

func TestAssignSplitsIsAtomic(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	p := testPair(0)
	require.NoError(t, storage.InsertPair(ctx, p))

	err := storage.AssignSplits(ctx, map[int64]string{p.ID: SplitTrain, 12345: SplitTest})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := storage.GetPair(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, SplitNone, got.Split)
}

func TestCreateRunVersions(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	v, err := storage.NextRunVersion(ctx, "tb", "model")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	first := &Run{Root: "tb", Name: "model"}
	require.NoError(t, storage.CreateRun(ctx, first))
	second := &Run{Root: "tb", Name: "model"}
	require.NoError(t, storage.CreateRun(ctx, second))
	other := &Run{Root: "tb", Name: "other"}
	require.NoError(t, storage.CreateRun(ctx, other))

	assert.Equal(t, 0, first.Version)
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, 0, other.Version)
	assert.Equal(t, "tb/model/version_1", second.Dir())

	runs, err := storage.ListRuns(ctx, "tb")
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	assert.ErrorIs(t, storage.CreateRun(ctx, &Run{Root: "tb"}), ErrInvalidInput)
}

func TestRunHparamsAndMetrics(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	run := &Run{Root: "tb", Name: "m"}
	require.NoError(t, storage.CreateRun(ctx, run))

	require.NoError(t, storage.UpdateRunHparams(ctx, run.ID, map[string]any{"lr": 0.001, "batch_size": 32}))
	require.NoError(t, storage.InsertRunMetrics(ctx, run.ID, 0, map[string]float64{"val_f1": 0.5, "train_loss": 0.7}))
	require.NoError(t, storage.InsertRunMetrics(ctx, run.ID, 1, map[string]float64{"val_f1": 0.6}))

	runs, err := storage.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 0.001, runs[0].Hparams["lr"])
	assert.Equal(t, float64(32), runs[0].Hparams["batch_size"])

	metrics, err := storage.ListRunMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, "train_loss", metrics[0].Name)
	assert.Equal(t, 1, metrics[2].Step)

	assert.ErrorIs(t, storage.UpdateRunHparams(ctx, 999, nil), ErrNotFound)
}

func TestRecordAndListTrials(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	complete := types.FrozenTrial{
		Number:     0,
		State:      types.TrialComplete,
		Value:      0.82,
		Params:     map[string]any{"n_dims": 1536, "batch_size": 32},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	failed := types.FrozenTrial{
		Number:     1,
		State:      types.TrialFailed,
		Error:      "diverged",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	require.NoError(t, storage.RecordTrial(ctx, "study", complete))
	require.NoError(t, storage.RecordTrial(ctx, "study", failed))
	require.NoError(t, storage.RecordTrial(ctx, "other", complete))

	trials, err := storage.ListTrials(ctx, "study")
	require.NoError(t, err)
	require.Len(t, trials, 2)

	require.NotNil(t, trials[0].Value)
	assert.Equal(t, 0.82, *trials[0].Value)
	assert.Equal(t, float64(1536), trials[0].Params["n_dims"])
	assert.Nil(t, trials[1].Value)
	assert.Equal(t, "diverged", trials[1].Error)

	frozen := trials[0].ToFrozenTrial()
	assert.Equal(t, types.TrialComplete, frozen.State)
	assert.Equal(t, 0.82, frozen.Value)

	studies, err := storage.ListStudies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "study"}, studies)
}

func TestRecordTrialUpserts(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	trial := types.FrozenTrial{Number: 3, State: types.TrialRunning}
	require.NoError(t, storage.RecordTrial(ctx, "study", trial))

	trial.State = types.TrialComplete
	trial.Value = 0.4
	require.NoError(t, storage.RecordTrial(ctx, "study", trial))

	trials, err := storage.ListTrials(ctx, "study")
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, string(types.TrialComplete), trials[0].State)
}

func TestRecordTrialValidation(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	assert.ErrorIs(t, storage.RecordTrial(ctx, "", types.FrozenTrial{State: types.TrialFailed}), ErrInvalidInput)
	assert.ErrorIs(t, storage.RecordTrial(ctx, "s", types.FrozenTrial{Number: -1, State: types.TrialFailed}), ErrInvalidInput)
	assert.ErrorIs(t, storage.RecordTrial(ctx, "s", types.FrozenTrial{State: "bogus"}), ErrInvalidInput)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertPair(ctx, testPair(0)))
	n, err := tx.CountPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, tx.Rollback())

	n, err = storage.CountPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertPair(ctx, testPair(1)))
	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.Commit())

	pairs, err := storage.ListPairs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestCreateStudyVersions(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, err := storage.LatestStudy(ctx, "finetune-embedding")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := storage.CreateStudy(ctx, "finetune-embedding")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Version)
	assert.Equal(t, "finetune-embedding/version_0", first.Key())

	second, err := storage.CreateStudy(ctx, "finetune-embedding")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Version)

	other, err := storage.CreateStudy(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Version)

	latest, err := storage.LatestStudy(ctx, "finetune-embedding")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "finetune-embedding/version_1", latest.Key())

	_, err = storage.CreateStudy(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStudyVersionsKeepTrialsApart(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	first, err := storage.CreateStudy(ctx, "s")
	require.NoError(t, err)
	for i, v := range []float64{0.1, 0.2, 0.95} {
		require.NoError(t, storage.RecordTrial(ctx, first.Key(), types.FrozenTrial{Number: i, State: types.TrialComplete, Value: v}))
	}

	second, err := storage.CreateStudy(ctx, "s")
	require.NoError(t, err)
	for i, v := range []float64{0.3, 0.4} {
		require.NoError(t, storage.RecordTrial(ctx, second.Key(), types.FrozenTrial{Number: i, State: types.TrialComplete, Value: v}))
	}

	trials, err := storage.ListTrials(ctx, second.Key())
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, 0.4, *trials[1].Value)

	trials, err = storage.ListTrials(ctx, first.Key())
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.Equal(t, 0.1, *trials[0].Value, "the rerun did not overwrite the first study")
}
