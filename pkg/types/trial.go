package types

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TrialState is the lifecycle state of a trial
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialFailed   TrialState = "failed"
)

// IsFinished reports whether the state is terminal
func (s TrialState) IsFinished() bool {
	return s == TrialComplete || s == TrialFailed
}

// FrozenTrial is the record of a finished trial
type FrozenTrial struct {
	Number     int
	State      TrialState
	Value      float64 // Valid only when State == TrialComplete
	Params     map[string]any
	Error      string // Failure message for failed trials
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the trial ran
func (t FrozenTrial) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Clone returns a copy that does not share the params map
func (t FrozenTrial) Clone() FrozenTrial {
	t.Params = maps.Clone(t.Params)
	return t
}

// FormatParams renders params as a stable, key-sorted mapping
func FormatParams(params map[string]any) string {
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("'%s': %v", k, params[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FormatParamsOrdered renders params with the given keys first, in order,
// followed by any remaining keys sorted
func FormatParamsOrdered(params map[string]any, order ...string) string {
	parts := make([]string, 0, len(params))
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		v, ok := params[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		parts = append(parts, fmt.Sprintf("'%s': %v", k, v))
	}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if !seen[k] {
			parts = append(parts, fmt.Sprintf("'%s': %v", k, params[k]))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
