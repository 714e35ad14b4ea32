package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/Jumshim/fastllm/pkg/types"
)

// Mode selects whether a monitored metric should be minimized or maximized
type Mode string

const (
	ModeMin Mode = "min"
	ModeMax Mode = "max"
)

// improves reports whether candidate beats best by more than minDelta
func (m Mode) improves(candidate, best, minDelta float64) bool {
	if m == ModeMin {
		return candidate < best-minDelta
	}
	return candidate > best+minDelta
}

func (m Mode) worst() float64 {
	if m == ModeMin {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

func (m Mode) validate() error {
	if m != ModeMin && m != ModeMax {
		return fmt.Errorf("unknown mode %q", m)
	}
	return nil
}

// State is the trainer state passed to callbacks after validation
type State struct {
	Epoch      int
	GlobalStep int
	Metrics    types.Metrics
	Module     Module

	stop bool
}

// RequestStop asks the trainer to finish after the current epoch
func (s *State) RequestStop() {
	s.stop = true
}

// StopRequested reports whether a callback asked to stop
func (s *State) StopRequested() bool {
	return s.stop
}

// Callback observes the end of every validation pass
type Callback interface {
	OnValidationEnd(ctx context.Context, state *State) error
}

// EarlyStopping stops fitting when Monitor stops improving
type EarlyStopping struct {
	Monitor  string
	Mode     Mode
	Patience int // Epochs without improvement before stopping, default 3
	MinDelta float64

	best float64
	wait int
	init bool
}

// NewEarlyStopping creates an early stopping callback
func NewEarlyStopping(monitor string, mode Mode, patience int) (*EarlyStopping, error) {
	if err := mode.validate(); err != nil {
		return nil, err
	}
	if patience <= 0 {
		patience = 3
	}
	return &EarlyStopping{Monitor: monitor, Mode: mode, Patience: patience}, nil
}

// OnValidationEnd implements Callback
func (e *EarlyStopping) OnValidationEnd(ctx context.Context, state *State) error {
	current, ok := state.Metrics[e.Monitor]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMonitorMissing, e.Monitor)
	}
	if !e.init {
		e.best = e.Mode.worst()
		e.init = true
	}

	// A non-finite value never counts as an improvement
	if !math.IsNaN(current) && e.Mode.improves(current, e.best, e.MinDelta) {
		e.best = current
		e.wait = 0
		return nil
	}

	e.wait++
	if e.wait >= e.Patience {
		state.RequestStop()
	}
	return nil
}
