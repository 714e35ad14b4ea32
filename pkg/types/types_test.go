package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParams(t *testing.T) {
	got := FormatParams(map[string]any{"n_dims": 1536, "batch_size": 32, "lr": 0.0001})
	assert.Equal(t, "{'batch_size': 32, 'lr': 0.0001, 'n_dims': 1536}", got)
	assert.Equal(t, "{}", FormatParams(nil))
}

func TestFormatParamsOrdered(t *testing.T) {
	params := map[string]any{"n_dims": 1536, "batch_size": 32, "lr": 0.0001}
	assert.Equal(t, "{'n_dims': 1536, 'batch_size': 32, 'lr': 0.0001}",
		FormatParamsOrdered(params, "n_dims", "batch_size", "lr"))

	// Unlisted keys trail in sorted order, missing and repeated ones are skipped
	params["dropout"] = 0.5
	assert.Equal(t, "{'lr': 0.0001, 'batch_size': 32, 'dropout': 0.5, 'n_dims': 1536}",
		FormatParamsOrdered(params, "lr", "missing", "batch_size", "lr"))

	assert.Equal(t, "{}", FormatParamsOrdered(nil, "n_dims"))
}

func TestFrozenTrial_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trial   FrozenTrial
		wantErr error
	}{
		{name: "complete", trial: FrozenTrial{Number: 0, State: TrialComplete, Value: 0.7}},
		{name: "failed without value", trial: FrozenTrial{Number: 2, State: TrialFailed, Value: math.NaN()}},
		{name: "negative number", trial: FrozenTrial{Number: -1, State: TrialComplete}, wantErr: ErrInvalidTrialNumber},
		{name: "complete with NaN", trial: FrozenTrial{State: TrialComplete, Value: math.NaN()}, wantErr: ErrMissingValue},
		{name: "complete with Inf", trial: FrozenTrial{State: TrialComplete, Value: math.Inf(1)}, wantErr: ErrMissingValue},
		{name: "unknown state", trial: FrozenTrial{State: "paused"}, wantErr: ErrInvalidTrialState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trial.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFrozenTrial_CloneAndDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trial := FrozenTrial{
		Params:     map[string]any{"lr": 0.01},
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	}
	assert.Equal(t, 90*time.Second, trial.Duration())

	clone := trial.Clone()
	clone.Params["lr"] = 1.0
	assert.Equal(t, 0.01, trial.Params["lr"])

	assert.Zero(t, FrozenTrial{StartedAt: start}.Duration())
	assert.True(t, TrialFailed.IsFinished())
	assert.False(t, TrialRunning.IsFinished())
}

func TestMetrics(t *testing.T) {
	m := Metrics{"val_loss": 0.4}
	m.Merge(Metrics{"val_f1": 0.8, "val_loss": 0.3})

	v, ok := m.Get("val_loss")
	require.True(t, ok)
	assert.Equal(t, 0.3, v)
	_, ok = m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"val_f1", "val_loss"}, m.Keys())

	c := m.Clone()
	c["val_f1"] = 0
	assert.Equal(t, 0.8, m["val_f1"])
}
