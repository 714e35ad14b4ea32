package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Jumshim/fastllm/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput is returned when a record fails validation before it is written
	ErrInvalidInput = errors.New("invalid input")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite has a single writer, and :memory: databases are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Pair operations

func validatePair(pair *Pair) error {
	if pair.Label != 0 && pair.Label != 1 {
		return fmt.Errorf("%w: label must be 0 or 1, got %d", ErrInvalidInput, pair.Label)
	}
	if len(pair.VectorA) == 0 || len(pair.VectorA) != len(pair.VectorB) {
		return fmt.Errorf("%w: vector dimensions %d and %d", ErrInvalidInput, len(pair.VectorA), len(pair.VectorB))
	}
	switch pair.Split {
	case SplitNone, SplitTrain, SplitVal, SplitTest:
	default:
		return fmt.Errorf("%w: unknown split %q", ErrInvalidInput, pair.Split)
	}
	return nil
}

func (s *SQLiteStorage) insertPairWithQuerier(ctx context.Context, q querier, pair *Pair) error {
	if err := validatePair(pair); err != nil {
		return err
	}

	query := `
		INSERT INTO pairs (text_a, text_b, vector_a, vector_b, dimension, label, split, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		pair.TextA, pair.TextB,
		serializeVector(pair.VectorA), serializeVector(pair.VectorB),
		len(pair.VectorA), pair.Label, pair.Split, pair.Provider, pair.Model, now)
	if err != nil {
		return fmt.Errorf("failed to insert pair: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	pair.ID = id
	pair.Dimension = len(pair.VectorA)
	pair.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) InsertPair(ctx context.Context, pair *Pair) error {
	return s.insertPairWithQuerier(ctx, s.querier(), pair)
}

const pairColumns = `id, text_a, text_b, vector_a, vector_b, dimension, label, split, provider, model, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPair(row rowScanner) (*Pair, error) {
	var pair Pair
	var blobA, blobB []byte
	err := row.Scan(&pair.ID, &pair.TextA, &pair.TextB, &blobA, &blobB,
		&pair.Dimension, &pair.Label, &pair.Split, &pair.Provider, &pair.Model, &pair.CreatedAt)
	if err != nil {
		return nil, err
	}

	if pair.VectorA, err = deserializeVector(blobA); err != nil {
		return nil, fmt.Errorf("pair %d vector_a: %w", pair.ID, err)
	}
	if pair.VectorB, err = deserializeVector(blobB); err != nil {
		return nil, fmt.Errorf("pair %d vector_b: %w", pair.ID, err)
	}
	return &pair, nil
}

func (s *SQLiteStorage) getPairWithQuerier(ctx context.Context, q querier, pairID int64) (*Pair, error) {
	row := q.QueryRowContext(ctx, "SELECT "+pairColumns+" FROM pairs WHERE id = ?", pairID)
	pair, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pair, nil
}

func (s *SQLiteStorage) GetPair(ctx context.Context, pairID int64) (*Pair, error) {
	return s.getPairWithQuerier(ctx, s.querier(), pairID)
}

func (s *SQLiteStorage) listPairsWithQuerier(ctx context.Context, q querier) ([]*Pair, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+pairColumns+" FROM pairs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []*Pair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (s *SQLiteStorage) ListPairs(ctx context.Context) ([]*Pair, error) {
	return s.listPairsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) countPairsWithQuerier(ctx context.Context, q querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pairs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pairs: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountPairs(ctx context.Context) (int, error) {
	return s.countPairsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) assignSplitsWithQuerier(ctx context.Context, q querier, assignments map[int64]string) error {
	for id, split := range assignments {
		switch split {
		case SplitNone, SplitTrain, SplitVal, SplitTest:
		default:
			return fmt.Errorf("%w: unknown split %q for pair %d", ErrInvalidInput, split, id)
		}

		result, err := q.ExecContext(ctx, "UPDATE pairs SET split = ? WHERE id = ?", split, id)
		if err != nil {
			return fmt.Errorf("failed to assign split for pair %d: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("pair %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

// AssignSplits writes all assignments in a single transaction
func (s *SQLiteStorage) AssignSplits(ctx context.Context, assignments map[int64]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.assignSplitsWithQuerier(ctx, tx, assignments); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) getDatasetStatusWithQuerier(ctx context.Context, q querier) (*DatasetStatus, error) {
	status := &DatasetStatus{
		SplitCounts: make(map[string]int),
		LabelCounts: make(map[int]int),
	}

	total, err := s.countPairsWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}
	status.TotalPairs = total

	rows, err := q.QueryContext(ctx, "SELECT split, label, COUNT(*) FROM pairs GROUP BY split, label")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var split string
		var label, n int
		if err := rows.Scan(&split, &label, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.SplitCounts[split] += n
		status.LabelCounts[label] += n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, "SELECT DISTINCT dimension FROM pairs ORDER BY dimension")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.Dimensions = append(status.Dimensions, d)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		err = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		if err == nil {
			status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
		}
	}

	return status, nil
}

func (s *SQLiteStorage) GetDatasetStatus(ctx context.Context) (*DatasetStatus, error) {
	return s.getDatasetStatusWithQuerier(ctx, s.querier())
}

// Run operations

func (s *SQLiteStorage) nextRunVersionWithQuerier(ctx context.Context, q querier, root, name string) (int, error) {
	var maxVersion sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT MAX(version) FROM runs WHERE root = ? AND name = ?", root, name).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to read run versions: %w", err)
	}
	if !maxVersion.Valid {
		return 0, nil
	}
	return int(maxVersion.Int64) + 1, nil
}

// NextRunVersion returns the version a new run under root/name would receive
func (s *SQLiteStorage) NextRunVersion(ctx context.Context, root, name string) (int, error) {
	return s.nextRunVersionWithQuerier(ctx, s.querier(), root, name)
}

func encodeJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string) (map[string]any, error) {
	out := make(map[string]any)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStorage) createRunWithQuerier(ctx context.Context, q querier, run *Run) error {
	if run.Root == "" || run.Name == "" {
		return fmt.Errorf("%w: run root and name are required", ErrInvalidInput)
	}

	version, err := s.nextRunVersionWithQuerier(ctx, q, run.Root, run.Name)
	if err != nil {
		return err
	}

	hparams, err := encodeJSON(run.Hparams)
	if err != nil {
		return fmt.Errorf("failed to encode hparams: %w", err)
	}

	now := time.Now()
	result, err := q.ExecContext(ctx,
		"INSERT INTO runs (root, name, version, hparams, created_at) VALUES (?, ?, ?, ?, ?)",
		run.Root, run.Name, version, hparams, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("run %s/%s version %d: %w", run.Root, run.Name, version, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	run.Version = version
	run.CreatedAt = now
	return nil
}

// CreateRun inserts a run with the next free version for its root and name
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	return s.createRunWithQuerier(ctx, s.querier(), run)
}

func (s *SQLiteStorage) updateRunHparamsWithQuerier(ctx context.Context, q querier, runID int64, hparams map[string]any) error {
	encoded, err := encodeJSON(hparams)
	if err != nil {
		return fmt.Errorf("failed to encode hparams: %w", err)
	}
	result, err := q.ExecContext(ctx, "UPDATE runs SET hparams = ? WHERE id = ?", encoded, runID)
	if err != nil {
		return fmt.Errorf("failed to update run hparams: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateRunHparams(ctx context.Context, runID int64, hparams map[string]any) error {
	return s.updateRunHparamsWithQuerier(ctx, s.querier(), runID, hparams)
}

func (s *SQLiteStorage) insertRunMetricsWithQuerier(ctx context.Context, q querier, runID int64, step int, metrics map[string]float64) error {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		value := metrics[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: metric %s is not finite", ErrInvalidInput, name)
		}
		_, err := q.ExecContext(ctx,
			"INSERT INTO run_metrics (run_id, step, name, value, created_at) VALUES (?, ?, ?, ?, ?)",
			runID, step, name, value, now)
		if err != nil {
			return fmt.Errorf("failed to insert metric %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertRunMetrics(ctx context.Context, runID int64, step int, metrics map[string]float64) error {
	return s.insertRunMetricsWithQuerier(ctx, s.querier(), runID, step, metrics)
}

func (s *SQLiteStorage) listRunsWithQuerier(ctx context.Context, q querier, root string) ([]*Run, error) {
	query := "SELECT id, root, name, version, hparams, created_at FROM runs"
	var args []interface{}
	if root != "" {
		query += " WHERE root = ?"
		args = append(args, root)
	}
	query += " ORDER BY root, name, version"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var run Run
		var hparams string
		if err := rows.Scan(&run.ID, &run.Root, &run.Name, &run.Version, &hparams, &run.CreatedAt); err != nil {
			return nil, err
		}
		if run.Hparams, err = decodeJSON(hparams); err != nil {
			return nil, fmt.Errorf("run %d hparams: %w", run.ID, err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// ListRuns lists runs under root, or every run when root is empty
func (s *SQLiteStorage) ListRuns(ctx context.Context, root string) ([]*Run, error) {
	return s.listRunsWithQuerier(ctx, s.querier(), root)
}

func (s *SQLiteStorage) listRunMetricsWithQuerier(ctx context.Context, q querier, runID int64) ([]*RunMetric, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT run_id, step, name, value, created_at FROM run_metrics WHERE run_id = ? ORDER BY step, id",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []*RunMetric
	for rows.Next() {
		var m RunMetric
		if err := rows.Scan(&m.RunID, &m.Step, &m.Name, &m.Value, &m.CreatedAt); err != nil {
			return nil, err
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

func (s *SQLiteStorage) ListRunMetrics(ctx context.Context, runID int64) ([]*RunMetric, error) {
	return s.listRunMetricsWithQuerier(ctx, s.querier(), runID)
}

// Trial operations

func (s *SQLiteStorage) recordTrialWithQuerier(ctx context.Context, q querier, studyName string, trial types.FrozenTrial) error {
	if studyName == "" {
		return fmt.Errorf("%w: study name is required", ErrInvalidInput)
	}
	if err := trial.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	params, err := encodeJSON(trial.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	var value sql.NullFloat64
	if trial.State == types.TrialComplete {
		value = sql.NullFloat64{Float64: trial.Value, Valid: true}
	}

	query := `
		INSERT INTO trials (study_name, number, state, value, params, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(study_name, number) DO UPDATE SET
			state = excluded.state,
			value = excluded.value,
			params = excluded.params,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	_, err = q.ExecContext(ctx, query,
		studyName, trial.Number, string(trial.State), value, params, trial.Error,
		trial.StartedAt, trial.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record trial %d: %w", trial.Number, err)
	}
	return nil
}

// RecordTrial upserts a finished trial keyed by study name and trial number
func (s *SQLiteStorage) RecordTrial(ctx context.Context, studyName string, trial types.FrozenTrial) error {
	return s.recordTrialWithQuerier(ctx, s.querier(), studyName, trial)
}

func (s *SQLiteStorage) listTrialsWithQuerier(ctx context.Context, q querier, studyName string) ([]*TrialRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, study_name, number, state, value, params, error, started_at, finished_at
		FROM trials WHERE study_name = ? ORDER BY number
	`, studyName)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trials []*TrialRecord
	for rows.Next() {
		var r TrialRecord
		var value sql.NullFloat64
		var params string
		if err := rows.Scan(&r.ID, &r.StudyName, &r.Number, &r.State, &value, &params,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		if r.Params, err = decodeJSON(params); err != nil {
			return nil, fmt.Errorf("trial %d params: %w", r.Number, err)
		}
		trials = append(trials, &r)
	}
	return trials, rows.Err()
}

func (s *SQLiteStorage) ListTrials(ctx context.Context, studyName string) ([]*TrialRecord, error) {
	return s.listTrialsWithQuerier(ctx, s.querier(), studyName)
}

func (s *SQLiteStorage) listStudiesWithQuerier(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT DISTINCT study_name FROM trials ORDER BY study_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) ListStudies(ctx context.Context) ([]string, error) {
	return s.listStudiesWithQuerier(ctx, s.querier())
}

// Study operations

func (s *SQLiteStorage) createStudyWithQuerier(ctx context.Context, q querier, name string) (*Study, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: study name is required", ErrInvalidInput)
	}

	var maxVersion sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(version) FROM studies WHERE name = ?", name).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("failed to read study versions: %w", err)
	}
	version := 0
	if maxVersion.Valid {
		version = int(maxVersion.Int64) + 1
	}

	now := time.Now()
	result, err := q.ExecContext(ctx,
		"INSERT INTO studies (name, version, created_at) VALUES (?, ?, ?)", name, version, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("study %s version %d: %w", name, version, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create study: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Study{ID: id, Name: name, Version: version, CreatedAt: now}, nil
}

// CreateStudy registers a new version of the named study
func (s *SQLiteStorage) CreateStudy(ctx context.Context, name string) (*Study, error) {
	return s.createStudyWithQuerier(ctx, s.querier(), name)
}

func (s *SQLiteStorage) latestStudyWithQuerier(ctx context.Context, q querier, name string) (*Study, error) {
	var st Study
	err := q.QueryRowContext(ctx,
		"SELECT id, name, version, created_at FROM studies WHERE name = ? ORDER BY version DESC LIMIT 1", name).
		Scan(&st.ID, &st.Name, &st.Version, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read study: %w", err)
	}
	return &st, nil
}

// LatestStudy returns the newest version of the named study
func (s *SQLiteStorage) LatestStudy(ctx context.Context, name string) (*Study, error) {
	return s.latestStudyWithQuerier(ctx, s.querier(), name)
}

// Transaction methods delegate to storage with the transaction querier

func (t *sqliteTx) InsertPair(ctx context.Context, pair *Pair) error {
	return t.storage.insertPairWithQuerier(ctx, t.querier(), pair)
}

func (t *sqliteTx) GetPair(ctx context.Context, pairID int64) (*Pair, error) {
	return t.storage.getPairWithQuerier(ctx, t.querier(), pairID)
}

func (t *sqliteTx) ListPairs(ctx context.Context) ([]*Pair, error) {
	return t.storage.listPairsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CountPairs(ctx context.Context) (int, error) {
	return t.storage.countPairsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) AssignSplits(ctx context.Context, assignments map[int64]string) error {
	return t.storage.assignSplitsWithQuerier(ctx, t.querier(), assignments)
}

func (t *sqliteTx) GetDatasetStatus(ctx context.Context) (*DatasetStatus, error) {
	return t.storage.getDatasetStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CreateRun(ctx context.Context, run *Run) error {
	return t.storage.createRunWithQuerier(ctx, t.querier(), run)
}

func (t *sqliteTx) NextRunVersion(ctx context.Context, root, name string) (int, error) {
	return t.storage.nextRunVersionWithQuerier(ctx, t.querier(), root, name)
}

func (t *sqliteTx) UpdateRunHparams(ctx context.Context, runID int64, hparams map[string]any) error {
	return t.storage.updateRunHparamsWithQuerier(ctx, t.querier(), runID, hparams)
}

func (t *sqliteTx) InsertRunMetrics(ctx context.Context, runID int64, step int, metrics map[string]float64) error {
	return t.storage.insertRunMetricsWithQuerier(ctx, t.querier(), runID, step, metrics)
}

func (t *sqliteTx) ListRuns(ctx context.Context, root string) ([]*Run, error) {
	return t.storage.listRunsWithQuerier(ctx, t.querier(), root)
}

func (t *sqliteTx) ListRunMetrics(ctx context.Context, runID int64) ([]*RunMetric, error) {
	return t.storage.listRunMetricsWithQuerier(ctx, t.querier(), runID)
}

func (t *sqliteTx) RecordTrial(ctx context.Context, studyName string, trial types.FrozenTrial) error {
	return t.storage.recordTrialWithQuerier(ctx, t.querier(), studyName, trial)
}

func (t *sqliteTx) ListTrials(ctx context.Context, studyName string) ([]*TrialRecord, error) {
	return t.storage.listTrialsWithQuerier(ctx, t.querier(), studyName)
}

func (t *sqliteTx) ListStudies(ctx context.Context) ([]string, error) {
	return t.storage.listStudiesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CreateStudy(ctx context.Context, name string) (*Study, error) {
	return t.storage.createStudyWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) LatestStudy(ctx context.Context, name string) (*Study, error) {
	return t.storage.latestStudyWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
