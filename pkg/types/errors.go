package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidTrialNumber = errors.New("trial number must be >= 0")
	ErrInvalidTrialState  = errors.New("unknown trial state")
	ErrMissingValue       = errors.New("complete trial must carry a finite value")
)
