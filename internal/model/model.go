package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Jumshim/fastllm/internal/dataset"
	"github.com/Jumshim/fastllm/internal/engine"
	"github.com/Jumshim/fastllm/pkg/types"
)

var (
	// ErrInvalidConfig is returned for an unusable model configuration
	ErrInvalidConfig = errors.New("invalid model configuration")
	// ErrInputDimension is returned when a batch does not match EmbeddingSize
	ErrInputDimension = errors.New("input dimension mismatch")
)

// Adam defaults
const (
	beta1   = 0.9
	beta2   = 0.999
	epsilon = 1e-8
)

// Config holds the model hyperparameters
type Config struct {
	EmbeddingSize   int
	NDims           int
	DropoutFraction float64
	LR              float64
	Seed            uint64
}

func (c Config) validate() error {
	if c.EmbeddingSize <= 0 || c.NDims <= 0 {
		return fmt.Errorf("%w: embedding_size=%d n_dims=%d", ErrInvalidConfig, c.EmbeddingSize, c.NDims)
	}
	if c.DropoutFraction < 0 || c.DropoutFraction >= 1 {
		return fmt.Errorf("%w: dropout_fraction=%v", ErrInvalidConfig, c.DropoutFraction)
	}
	if c.LR <= 0 {
		return fmt.Errorf("%w: lr=%v", ErrInvalidConfig, c.LR)
	}
	return nil
}

// adamState holds first and second moment estimates for one parameter
type adamState struct {
	m, v []float32
}

func newAdamState(n int) adamState {
	return adamState{m: make([]float32, n), v: make([]float32, n)}
}

// SimilarityModel classifies embedding pairs as matching or not
type SimilarityModel struct {
	cfg Config
	rng *rand.Rand

	inDim int
	w1    []float32 // NDims rows of inDim, row-major
	b1    []float32
	w2    []float32
	b2    float32

	adamW1, adamB1, adamW2, adamB2 adamState
	step                           int

	confusion map[engine.Stage]*Confusion
	workers   int
}

// New creates a model with freshly initialized weights
func New(cfg Config) (*SimilarityModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &SimilarityModel{
		cfg:       cfg,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)),
		inDim:     2 * cfg.EmbeddingSize,
		confusion: make(map[engine.Stage]*Confusion),
		workers:   runtime.NumCPU(),
	}
	m.w1 = make([]float32, cfg.NDims*m.inDim)
	m.b1 = make([]float32, cfg.NDims)
	m.w2 = make([]float32, cfg.NDims)

	// Uniform(-1/sqrt(fan_in), 1/sqrt(fan_in)) for weights and biases
	bound1 := 1 / math.Sqrt(float64(m.inDim))
	for i := range m.w1 {
		m.w1[i] = float32((m.rng.Float64()*2 - 1) * bound1)
	}
	for i := range m.b1 {
		m.b1[i] = float32((m.rng.Float64()*2 - 1) * bound1)
	}
	bound2 := 1 / math.Sqrt(float64(cfg.NDims))
	for i := range m.w2 {
		m.w2[i] = float32((m.rng.Float64()*2 - 1) * bound2)
	}
	m.b2 = float32((m.rng.Float64()*2 - 1) * bound2)

	m.initOptimizer()
	return m, nil
}

func (m *SimilarityModel) initOptimizer() {
	m.adamW1 = newAdamState(len(m.w1))
	m.adamB1 = newAdamState(len(m.b1))
	m.adamW2 = newAdamState(len(m.w2))
	m.adamB2 = newAdamState(1)
}

// Config returns the model's hyperparameters
func (m *SimilarityModel) Config() Config {
	return m.cfg
}

// Hyperparams implements engine.Module
func (m *SimilarityModel) Hyperparams() map[string]any {
	return map[string]any{
		"embedding_size":   m.cfg.EmbeddingSize,
		"n_dims":           m.cfg.NDims,
		"dropout_fraction": m.cfg.DropoutFraction,
		"lr":               m.cfg.LR,
	}
}

// forwardCache holds the intermediate values of one example
type forwardCache struct {
	x      []float32 // features
	hidden []float32 // post-ReLU, post-dropout activations
	mask   []float32 // dropout scale per unit, nil when dropout is off
	logit  float64
}

func features(a, b []float32, out []float32) {
	n := len(a)
	for i := range n {
		out[i] = a[i] * b[i]
		out[n+i] = float32(math.Abs(float64(a[i] - b[i])))
	}
}

func (m *SimilarityModel) forwardOne(a, b []float32, mask []float32) forwardCache {
	c := forwardCache{
		x:      make([]float32, m.inDim),
		hidden: make([]float32, m.cfg.NDims),
		mask:   mask,
	}
	features(a, b, c.x)

	logit := float64(m.b2)
	for j := range m.cfg.NDims {
		row := m.w1[j*m.inDim : (j+1)*m.inDim]
		var sum float32
		for k, v := range c.x {
			sum += row[k] * v
		}
		h := sum + m.b1[j]
		if h < 0 {
			h = 0
		}
		if mask != nil {
			h *= mask[j]
		}
		c.hidden[j] = h
		logit += float64(m.w2[j] * h)
	}
	c.logit = logit
	return c
}

// forward runs the batch in parallel; masks is nil outside training
func (m *SimilarityModel) forward(ctx context.Context, batch dataset.Batch, masks [][]float32) ([]forwardCache, error) {
	for i := range batch.A {
		if len(batch.A[i]) != m.cfg.EmbeddingSize || len(batch.B[i]) != m.cfg.EmbeddingSize {
			return nil, fmt.Errorf("%w: example %d has %d/%d, want %d",
				ErrInputDimension, batch.Indices[i], len(batch.A[i]), len(batch.B[i]), m.cfg.EmbeddingSize)
		}
	}

	caches := make([]forwardCache, batch.Size())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range caches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var mask []float32
			if masks != nil {
				mask = masks[i]
			}
			caches[i] = m.forwardOne(batch.A[i], batch.B[i], mask)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return caches, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// bceWithLogits is log(1+exp(z)) - y*z computed without overflow
func bceWithLogits(z float64, y int) float64 {
	loss := math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
	if y == 1 {
		loss -= z
	}
	return loss
}

func (m *SimilarityModel) dropoutMasks(n int) [][]float32 {
	p := m.cfg.DropoutFraction
	if p == 0 {
		return nil
	}
	scale := float32(1 / (1 - p))
	masks := make([][]float32, n)
	for i := range masks {
		masks[i] = make([]float32, m.cfg.NDims)
		for j := range masks[i] {
			if m.rng.Float64() >= p {
				masks[i][j] = scale
			}
		}
	}
	return masks
}

// TrainStep implements engine.Module: one forward pass, backward pass and
// Adam update on the batch
func (m *SimilarityModel) TrainStep(ctx context.Context, batch dataset.Batch) (engine.StepOutput, error) {
	n := batch.Size()
	if n == 0 {
		return engine.StepOutput{}, nil
	}

	caches, err := m.forward(ctx, batch, m.dropoutMasks(n))
	if err != nil {
		return engine.StepOutput{}, err
	}

	// dLoss/dlogit per example, averaged over the batch
	dz := make([]float64, n)
	var loss float64
	for i, c := range caches {
		loss += bceWithLogits(c.logit, batch.Labels[i])
		dz[i] = (sigmoid(c.logit) - float64(batch.Labels[i])) / float64(n)
	}
	loss /= float64(n)

	gradW2 := make([]float32, m.cfg.NDims)
	var gradB2 float64
	// dpre[i][j] is the gradient at the pre-activation of hidden unit j
	dpre := make([][]float32, n)
	for i, c := range caches {
		gradB2 += dz[i]
		dpre[i] = make([]float32, m.cfg.NDims)
		for j, h := range c.hidden {
			gradW2[j] += float32(dz[i]) * h
			if h > 0 {
				g := float32(dz[i]) * m.w2[j]
				if c.mask != nil {
					g *= c.mask[j]
				}
				dpre[i][j] = g
			}
		}
	}

	m.step++
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for j := range m.cfg.NDims {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := make([]float32, m.inDim)
			var gradB1 float32
			for i, c := range caches {
				d := dpre[i][j]
				if d == 0 {
					continue
				}
				gradB1 += d
				for k, v := range c.x {
					row[k] += d * v
				}
			}
			lo, hi := j*m.inDim, (j+1)*m.inDim
			m.adamUpdate(m.w1[lo:hi], row, m.adamW1.m[lo:hi], m.adamW1.v[lo:hi])
			m.adamUpdate(m.b1[j:j+1], []float32{gradB1}, m.adamB1.m[j:j+1], m.adamB1.v[j:j+1])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return engine.StepOutput{}, err
	}

	m.adamUpdate(m.w2, gradW2, m.adamW2.m, m.adamW2.v)
	b2 := []float32{m.b2}
	m.adamUpdate(b2, []float32{float32(gradB2)}, m.adamB2.m, m.adamB2.v)
	m.b2 = b2[0]

	return engine.StepOutput{
		Loss:    loss,
		Metrics: types.Metrics{string(engine.StageTrain) + "_loss": loss},
	}, nil
}

// adamUpdate applies one bias-corrected Adam step to params in place
func (m *SimilarityModel) adamUpdate(params, grads, mom, vel []float32) {
	t := float64(m.step)
	c1 := 1 - math.Pow(beta1, t)
	c2 := 1 - math.Pow(beta2, t)
	for i, g := range grads {
		mom[i] = float32(beta1*float64(mom[i]) + (1-beta1)*float64(g))
		vel[i] = float32(beta2*float64(vel[i]) + (1-beta2)*float64(g)*float64(g))
		mHat := float64(mom[i]) / c1
		vHat := float64(vel[i]) / c2
		params[i] -= float32(m.cfg.LR * mHat / (math.Sqrt(vHat) + epsilon))
	}
}

func (m *SimilarityModel) evalStep(ctx context.Context, stage engine.Stage, batch dataset.Batch) (engine.StepOutput, error) {
	n := batch.Size()
	if n == 0 {
		return engine.StepOutput{}, nil
	}

	caches, err := m.forward(ctx, batch, nil)
	if err != nil {
		return engine.StepOutput{}, err
	}

	cm := m.confusion[stage]
	if cm == nil {
		cm = &Confusion{}
		m.confusion[stage] = cm
	}

	var loss float64
	for i, c := range caches {
		loss += bceWithLogits(c.logit, batch.Labels[i])
		pred := 0
		if sigmoid(c.logit) >= 0.5 {
			pred = 1
		}
		cm.Add(pred, batch.Labels[i])
	}
	loss /= float64(n)

	return engine.StepOutput{
		Loss:    loss,
		Metrics: types.Metrics{string(stage) + "_loss": loss},
	}, nil
}

// ValidateStep implements engine.Module
func (m *SimilarityModel) ValidateStep(ctx context.Context, batch dataset.Batch) (engine.StepOutput, error) {
	return m.evalStep(ctx, engine.StageVal, batch)
}

// TestStep implements engine.Module
func (m *SimilarityModel) TestStep(ctx context.Context, batch dataset.Batch) (engine.StepOutput, error) {
	return m.evalStep(ctx, engine.StageTest, batch)
}

// EpochStart implements engine.EpochHooks
func (m *SimilarityModel) EpochStart(stage engine.Stage) {
	m.confusion[stage] = &Confusion{}
}

// EpochEnd implements engine.EpochHooks. Training epochs report no extra metrics.
func (m *SimilarityModel) EpochEnd(stage engine.Stage) types.Metrics {
	if stage == engine.StageTrain {
		return nil
	}
	cm := m.confusion[stage]
	if cm == nil {
		return nil
	}
	prefix := string(stage) + "_"
	return types.Metrics{
		prefix + "f1":        cm.F1(),
		prefix + "recall":    cm.Recall(),
		prefix + "precision": cm.Precision(),
		prefix + "acc":       cm.Accuracy(),
	}
}

// Predict returns the match probability for every pair in the batch
func (m *SimilarityModel) Predict(ctx context.Context, batch dataset.Batch) ([]float64, error) {
	caches, err := m.forward(ctx, batch, nil)
	if err != nil {
		return nil, err
	}
	probs := make([]float64, len(caches))
	for i, c := range caches {
		probs[i] = sigmoid(c.logit)
	}
	return probs, nil
}
