package search

import (
	"errors"
	"fmt"
)

// Config holds the fixed hyperparameters and search bounds
type Config struct {
	NTrials         int
	EmbeddingSize   int
	DropoutFraction float64
	BatchSizes      []int
	LRLow           float64
	LRHigh          float64
	MaxEpochs       int
	Monitor         string // Checkpoint metric, maximized
	ObjectiveMetric string // Key of the test results used as the trial value
	CheckpointDir   string
	LogRoot         string
	StudyName       string
	Seed            uint64 // 0 seeds from the clock
	Patience        int    // Early stopping patience in epochs, 0 disables it
}

// DefaultConfig returns the standard search configuration
func DefaultConfig() Config {
	return Config{
		NTrials:         20,
		EmbeddingSize:   1536,
		DropoutFraction: 0.5,
		BatchSizes:      []int{32, 64, 128},
		LRLow:           1e-5,
		LRHigh:          1e-3,
		MaxEpochs:       400,
		Monitor:         "val_f1",
		ObjectiveMetric: "test_f1",
		CheckpointDir:   "checkpoints_stratified",
		LogRoot:         "tb_stratified",
		StudyName:       "finetune-embedding",
	}
}

// applyDefaults fills zero values from DefaultConfig
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.NTrials <= 0 {
		c.NTrials = d.NTrials
	}
	if c.EmbeddingSize <= 0 {
		c.EmbeddingSize = d.EmbeddingSize
	}
	if c.DropoutFraction == 0 {
		c.DropoutFraction = d.DropoutFraction
	}
	if len(c.BatchSizes) == 0 {
		c.BatchSizes = d.BatchSizes
	}
	if c.LRLow == 0 {
		c.LRLow = d.LRLow
	}
	if c.LRHigh == 0 {
		c.LRHigh = d.LRHigh
	}
	if c.MaxEpochs <= 0 {
		c.MaxEpochs = d.MaxEpochs
	}
	if c.Monitor == "" {
		c.Monitor = d.Monitor
	}
	if c.ObjectiveMetric == "" {
		c.ObjectiveMetric = d.ObjectiveMetric
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = d.CheckpointDir
	}
	if c.LogRoot == "" {
		c.LogRoot = d.LogRoot
	}
	if c.StudyName == "" {
		c.StudyName = d.StudyName
	}
}

// Validate reports configuration errors
func (c Config) Validate() error {
	var errs []error
	if c.EmbeddingSize < 2 {
		errs = append(errs, fmt.Errorf("embedding size %d is too small", c.EmbeddingSize))
	}
	if c.DropoutFraction < 0 || c.DropoutFraction >= 1 {
		errs = append(errs, fmt.Errorf("dropout fraction %v outside [0, 1)", c.DropoutFraction))
	}
	for _, b := range c.BatchSizes {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("batch size %d must be positive", b))
		}
	}
	if c.LRLow <= 0 || c.LRLow > c.LRHigh {
		errs = append(errs, fmt.Errorf("learning rate range [%v, %v] is invalid", c.LRLow, c.LRHigh))
	}
	if c.Patience < 0 {
		errs = append(errs, fmt.Errorf("patience %d must not be negative", c.Patience))
	}
	return errors.Join(errs...)
}
