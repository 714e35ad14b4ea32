package study

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntDistribution_LogSamplingStaysInRange(t *testing.T) {
	d := IntDistribution{Low: 768, High: 4608, Log: true}
	require.NoError(t, d.Validate())

	rng := rand.New(rand.NewPCG(1, 2))
	below2k := 0
	for range 2000 {
		v := d.Sample(rng).(int)
		require.GreaterOrEqual(t, v, 768)
		require.LessOrEqual(t, v, 4608)
		if v < 2000 {
			below2k++
		}
	}

	// log(2000/768)/log(4608/768) ~ 0.53 of the mass lies below 2000
	assert.InDelta(t, 0.53, float64(below2k)/2000, 0.05)
}

func TestFloatDistribution_LogUniform(t *testing.T) {
	d := FloatDistribution{Low: 1e-5, High: 1e-3, Log: true}
	rng := rand.New(rand.NewPCG(3, 4))

	below1e4 := 0
	for range 2000 {
		v := d.Sample(rng).(float64)
		require.GreaterOrEqual(t, v, 1e-5)
		require.LessOrEqual(t, v, 1e-3)
		if v < 1e-4 {
			below1e4++
		}
	}
	assert.InDelta(t, 0.5, float64(below1e4)/2000, 0.05)
}

func TestDistribution_Validate(t *testing.T) {
	assert.ErrorIs(t, IntDistribution{Low: 5, High: 1}.Validate(), ErrInvalidDistribution)
	assert.ErrorIs(t, IntDistribution{Low: 0, High: 10, Log: true}.Validate(), ErrInvalidDistribution)
	assert.ErrorIs(t, FloatDistribution{Low: 0, High: 1, Log: true}.Validate(), ErrInvalidDistribution)
	assert.ErrorIs(t, CategoricalDistribution{}.Validate(), ErrInvalidDistribution)
}

func TestLiveTrial_RepeatedSuggestionIsStable(t *testing.T) {
	trial := newLiveTrial(0, NewRandomSampler(9))

	a, err := trial.SuggestInt("n_dims", 768, 4608, true)
	require.NoError(t, err)
	b, err := trial.SuggestInt("n_dims", 768, 4608, true)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = trial.SuggestInt("n_dims", 1, 2, false)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestSuggestChoice(t *testing.T) {
	trial := newLiveTrial(0, NewRandomSampler(5))

	seen := map[int]bool{}
	for i := range 50 {
		tr := newLiveTrial(i, NewRandomSampler(uint64(i)))
		v, err := SuggestChoice(tr, "batch_size", []int{32, 64, 128})
		require.NoError(t, err)
		seen[v] = true
	}
	assert.Len(t, seen, 3)

	v, err := SuggestChoice(trial, "batch_size", []int{32})
	require.NoError(t, err)
	assert.Equal(t, 32, v)
}

func TestFixedTrial(t *testing.T) {
	trial := NewFixedTrial(7, map[string]any{
		"n_dims":     1536,
		"batch_size": 32,
		"lr":         1e-4,
	})

	assert.Equal(t, 7, trial.Number())

	n, err := trial.SuggestInt("n_dims", 768, 4608, true)
	require.NoError(t, err)
	assert.Equal(t, 1536, n)

	bs, err := SuggestChoice(trial, "batch_size", []int{32, 64, 128})
	require.NoError(t, err)
	assert.Equal(t, 32, bs)

	lr, err := trial.SuggestFloat("lr", 1e-5, 1e-3, true)
	require.NoError(t, err)
	assert.Equal(t, 1e-4, lr)

	assert.Len(t, trial.Params(), 3)

	_, err = trial.SuggestFloat("dropout", 0, 1, false)
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = SuggestChoice(trial, "batch_size", []int{16})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestFloatDistribution_Degenerate(t *testing.T) {
	d := FloatDistribution{Low: 0.5, High: 0.5}
	v := d.Sample(rand.New(rand.NewPCG(1, 1))).(float64)
	assert.False(t, math.IsNaN(v))
	assert.Equal(t, 0.5, v)
}
