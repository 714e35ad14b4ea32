package study

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Jumshim/fastllm/pkg/types"
)

// Common errors
var (
	ErrNoCompletedTrials   = errors.New("no trials are completed yet")
	ErrInvalidDistribution = errors.New("invalid distribution")
	ErrInvalidParam        = errors.New("invalid parameter")
	ErrMissingParam        = errors.New("parameter not set")
	ErrNonFiniteValue      = errors.New("objective returned a non-finite value")
)

// Direction tells the study whether larger or smaller objective values win
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// ParseDirection converts "maximize"/"minimize" to a Direction
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "maximize":
		return Maximize, nil
	case "minimize":
		return Minimize, nil
	default:
		return Minimize, fmt.Errorf("unknown direction %q", s)
	}
}

// Better reports whether a beats b under d
func (d Direction) Better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

// ObjectiveFunc evaluates one trial and returns its objective value
type ObjectiveFunc func(ctx context.Context, trial Trial) (float64, error)

// Recorder receives every finished trial
type Recorder interface {
	RecordTrial(ctx context.Context, studyName string, trial types.FrozenTrial) error
}

// Study runs trials sequentially and keeps their history
type Study struct {
	name      string
	direction Direction
	sampler   ParamSampler
	recorder  Recorder

	mu     sync.RWMutex
	trials []types.FrozenTrial
}

// Option configures a Study
type Option func(*Study)

// WithSampler sets the parameter sampler (default: RandomSampler seeded from the clock)
func WithSampler(s ParamSampler) Option {
	return func(st *Study) {
		st.sampler = s
	}
}

// WithRecorder forwards finished trials to r
func WithRecorder(r Recorder) Option {
	return func(st *Study) {
		st.recorder = r
	}
}

// New creates an empty study
func New(name string, direction Direction, opts ...Option) *Study {
	s := &Study{
		name:      name,
		direction: direction,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sampler == nil {
		s.sampler = NewRandomSampler(uint64(time.Now().UnixNano()))
	}
	return s
}

// Name returns the study name
func (s *Study) Name() string {
	return s.name
}

// Direction returns the optimization direction
func (s *Study) Direction() Direction {
	return s.direction
}

// Optimize runs nTrials trials one after another. A trial whose objective
// fails, panics or returns a non-finite value is recorded as failed and the
// study moves on. Only cancellation of ctx stops the loop early.
func (s *Study) Optimize(ctx context.Context, objective ObjectiveFunc, nTrials int) error {
	for range nTrials {
		if err := ctx.Err(); err != nil {
			return err
		}

		trial := s.runTrial(ctx, objective)
		s.mu.Lock()
		s.trials = append(s.trials, trial)
		s.mu.Unlock()

		if trial.State == types.TrialFailed {
			log.Printf("Trial %d failed with parameters: %s because of: %s",
				trial.Number, types.FormatParams(trial.Params), trial.Error)
		} else {
			log.Printf("Trial %d finished with value: %v and parameters: %s",
				trial.Number, trial.Value, types.FormatParams(trial.Params))
		}

		if s.recorder != nil {
			if err := s.recorder.RecordTrial(ctx, s.name, trial); err != nil {
				log.Printf("Failed to record trial %d: %v", trial.Number, err)
			}
		}

		// A trial interrupted by cancellation is not retried
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// runTrial evaluates one trial and freezes its outcome
func (s *Study) runTrial(ctx context.Context, objective ObjectiveFunc) types.FrozenTrial {
	s.mu.RLock()
	number := len(s.trials)
	s.mu.RUnlock()

	trial := newLiveTrial(number, s.sampler)
	frozen := types.FrozenTrial{
		Number:    number,
		State:     types.TrialRunning,
		StartedAt: time.Now(),
	}

	value, err := callObjective(ctx, objective, trial)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("%w: %v", ErrNonFiniteValue, value)
	}

	frozen.Params = trial.Params()
	frozen.FinishedAt = time.Now()
	if err != nil {
		frozen.State = types.TrialFailed
		frozen.Error = err.Error()
		return frozen
	}

	frozen.State = types.TrialComplete
	frozen.Value = value
	return frozen
}

// callObjective converts a panic in the objective into an error
func callObjective(ctx context.Context, objective ObjectiveFunc, trial Trial) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()
	return objective(ctx, trial)
}

// Trials returns a copy of the trial history in execution order
func (s *Study) Trials() []types.FrozenTrial {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.FrozenTrial, len(s.trials))
	for i, t := range s.trials {
		out[i] = t.Clone()
	}
	return out
}

// BestTrial returns the best complete trial. Ties keep the earliest trial.
func (s *Study) BestTrial() (types.FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BestOf(s.trials, s.direction)
}

// BestOf picks the best complete trial from a history, for example one loaded
// back from storage. Ties keep the earliest trial.
func BestOf(trials []types.FrozenTrial, direction Direction) (types.FrozenTrial, error) {
	best := -1
	for i, t := range trials {
		if t.State != types.TrialComplete {
			continue
		}
		if best < 0 || direction.Better(t.Value, trials[best].Value) {
			best = i
		}
	}
	if best < 0 {
		return types.FrozenTrial{}, ErrNoCompletedTrials
	}
	return trials[best].Clone(), nil
}
