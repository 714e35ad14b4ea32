package types

import "math"

// Validate checks that a finished trial record is internally consistent
func (t *FrozenTrial) Validate() error {
	if t.Number < 0 {
		return ErrInvalidTrialNumber
	}

	switch t.State {
	case TrialRunning, TrialFailed:
	case TrialComplete:
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			return ErrMissingValue
		}
	default:
		return ErrInvalidTrialState
	}

	return nil
}
