package storage

import (
	"context"
	"time"

	"github.com/Jumshim/fastllm/pkg/types"
)

// Split names stored in the pairs table
const (
	SplitNone  = ""
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Storage defines the interface for persisting training pairs and experiment records
type Storage interface {
	// Pair operations
	InsertPair(ctx context.Context, pair *Pair) error
	GetPair(ctx context.Context, pairID int64) (*Pair, error)
	ListPairs(ctx context.Context) ([]*Pair, error)
	CountPairs(ctx context.Context) (int, error)
	AssignSplits(ctx context.Context, assignments map[int64]string) error
	GetDatasetStatus(ctx context.Context) (*DatasetStatus, error)

	// Run operations (experiment logs)
	CreateRun(ctx context.Context, run *Run) error
	NextRunVersion(ctx context.Context, root, name string) (int, error)
	UpdateRunHparams(ctx context.Context, runID int64, hparams map[string]any) error
	InsertRunMetrics(ctx context.Context, runID int64, step int, metrics map[string]float64) error
	ListRuns(ctx context.Context, root string) ([]*Run, error)
	ListRunMetrics(ctx context.Context, runID int64) ([]*RunMetric, error)

	// Trial operations
	RecordTrial(ctx context.Context, studyName string, trial types.FrozenTrial) error
	ListTrials(ctx context.Context, studyName string) ([]*TrialRecord, error)
	ListStudies(ctx context.Context) ([]string, error)

	// Study operations
	CreateStudy(ctx context.Context, name string) (*Study, error)
	LatestStudy(ctx context.Context, name string) (*Study, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Pair is one labelled pair of embedded texts
type Pair struct {
	ID        int64
	TextA     string
	TextB     string
	VectorA   []float32
	VectorB   []float32
	Dimension int
	Label     int
	Split     string // One of SplitNone, SplitTrain, SplitVal, SplitTest
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Run is one experiment log run, versioned per (root, name)
type Run struct {
	ID        int64
	Root      string
	Name      string
	Version   int
	Hparams   map[string]any
	CreatedAt time.Time
}

// Dir returns the run's logical location, root/name/version_N
func (r *Run) Dir() string {
	return r.Root + "/" + r.Name + "/version_" + itoa(r.Version)
}

// Study is one search run. Reruns under the same name get increasing versions
// so their trial numbers never collide.
type Study struct {
	ID        int64
	Name      string
	Version   int
	CreatedAt time.Time
}

// Key is the study name trials are recorded under
func (s *Study) Key() string {
	return s.Name + "/version_" + itoa(s.Version)
}

// RunMetric is one logged scalar
type RunMetric struct {
	RunID     int64
	Step      int
	Name      string
	Value     float64
	CreatedAt time.Time
}

// TrialRecord is a persisted finished trial
type TrialRecord struct {
	ID         int64
	StudyName  string
	Number     int
	State      string
	Value      *float64 // Nil unless the trial completed
	Params     map[string]any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ToFrozenTrial converts the record back to the study's representation
func (r *TrialRecord) ToFrozenTrial() types.FrozenTrial {
	t := types.FrozenTrial{
		Number:     r.Number,
		State:      types.TrialState(r.State),
		Params:     r.Params,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Value != nil {
		t.Value = *r.Value
	}
	return t
}

// DatasetStatus contains statistics about the stored pairs
type DatasetStatus struct {
	TotalPairs     int
	SplitCounts    map[string]int // Keyed by split name, "" for unassigned
	LabelCounts    map[int]int
	Dimensions     []int // Distinct embedding dimensions
	DatabaseSizeMB float64
}
