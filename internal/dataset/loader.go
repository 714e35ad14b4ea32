package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Jumshim/fastllm/internal/sampler"
	"github.com/Jumshim/fastllm/internal/storage"
)

// SplitLoader returns the train/val/test partition for a trial
type SplitLoader interface {
	LoadAndSplit(ctx context.Context) (*Split, error)
}

// PairStore is the subset of storage.Storage the split loader needs
type PairStore interface {
	ListPairs(ctx context.Context) ([]*storage.Pair, error)
	AssignSplits(ctx context.Context, assignments map[int64]string) error
}

// LoaderConfig configures a StoreSplitLoader
type LoaderConfig struct {
	TrainFraction float64 // Default 0.7
	ValFraction   float64 // Default 0.15; the test split takes the rest
	Seed          uint64  // Seed for the stratified assignment of unsplit pairs
	CacheSize     int     // Number of decoded splits kept in memory, default 4
}

func (c *LoaderConfig) applyDefaults() {
	if c.TrainFraction <= 0 {
		c.TrainFraction = 0.7
	}
	if c.ValFraction <= 0 {
		c.ValFraction = 0.15
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 4
	}
}

func (c *LoaderConfig) validate() error {
	if c.TrainFraction >= 1 || c.TrainFraction+c.ValFraction >= 1 {
		return fmt.Errorf("invalid split fractions: train=%v val=%v", c.TrainFraction, c.ValFraction)
	}
	return nil
}

// StoreSplitLoader reads stored pairs and assigns unsplit ones to a partition
type StoreSplitLoader struct {
	store PairStore
	cfg   LoaderConfig
	cache *lru.Cache[string, *Split]
	mu    sync.Mutex
}

// NewStoreSplitLoader creates a loader over store
func NewStoreSplitLoader(store PairStore, cfg LoaderConfig) (*StoreSplitLoader, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cache, err := lru.New[string, *Split](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create split cache: %w", err)
	}

	return &StoreSplitLoader{store: store, cfg: cfg, cache: cache}, nil
}

// cacheKey fingerprints the pair contents a split is built from. Pairs that
// change while the count stays the same still miss the cache.
func (l *StoreSplitLoader) cacheKey(pairs []*storage.Pair) string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, p := range pairs {
		writeInt(p.ID)
		writeInt(int64(p.Label))
		writeInt(int64(p.Dimension))
		h.Write([]byte(p.Split))
		h.Write([]byte{0})
		h.Write([]byte(p.Model))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%d:%g:%g:%s", len(pairs), l.cfg.TrainFraction, l.cfg.ValFraction, hex.EncodeToString(h.Sum(nil)))
}

// LoadAndSplit implements SplitLoader
func (l *StoreSplitLoader) LoadAndSplit(ctx context.Context) (*Split, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pairs, err := l.store.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}

	if split, ok := l.cache.Get(l.cacheKey(pairs)); ok {
		return split, nil
	}

	assignments, err := l.assign(pairs)
	if err != nil {
		return nil, err
	}
	if len(assignments) > 0 {
		if err := l.store.AssignSplits(ctx, assignments); err != nil {
			return nil, fmt.Errorf("failed to store split assignment: %w", err)
		}
		for _, p := range pairs {
			if s, ok := assignments[p.ID]; ok {
				p.Split = s
			}
		}
		log.Printf("Assigned %d unsplit pairs to train/val/test", len(assignments))
	}

	split, err := buildSplit(pairs)
	if err != nil {
		return nil, err
	}

	// Keyed by the assigned contents, which is what the store returns next time
	l.cache.Add(l.cacheKey(pairs), split)
	return split, nil
}

// assign splits the pairs without a stored split: train against holdout first,
// then the holdout into validation and test, both stratified by label
func (l *StoreSplitLoader) assign(pairs []*storage.Pair) (map[int64]string, error) {
	var unsplit []*storage.Pair
	for _, p := range pairs {
		if p.Split == storage.SplitNone {
			unsplit = append(unsplit, p)
		}
	}
	if len(unsplit) == 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewPCG(l.cfg.Seed, l.cfg.Seed^0x9e3779b97f4a7c15))

	labels := make([]int, len(unsplit))
	for i, p := range unsplit {
		labels[i] = p.Label
	}

	outer := &sampler.StratifiedShuffleSplit{
		NSplits:  1,
		TestSize: 1 - l.cfg.TrainFraction,
		Rand:     rng,
	}
	trainFold, err := firstFold(outer, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to split train from holdout: %w", err)
	}

	holdoutLabels := make([]int, len(trainFold.Test))
	for i, idx := range trainFold.Test {
		holdoutLabels[i] = labels[idx]
	}

	inner := &sampler.StratifiedShuffleSplit{
		NSplits:  1,
		TestSize: 1 - l.cfg.ValFraction/(1-l.cfg.TrainFraction),
		Rand:     rng,
	}
	holdoutFold, err := firstFold(inner, holdoutLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to split validation from test: %w", err)
	}

	assignments := make(map[int64]string, len(unsplit))
	for _, idx := range trainFold.Train {
		assignments[unsplit[idx].ID] = storage.SplitTrain
	}
	for _, idx := range holdoutFold.Train {
		assignments[unsplit[trainFold.Test[idx]].ID] = storage.SplitVal
	}
	for _, idx := range holdoutFold.Test {
		assignments[unsplit[trainFold.Test[idx]].ID] = storage.SplitTest
	}
	return assignments, nil
}

func firstFold(s *sampler.StratifiedShuffleSplit, y []int) (sampler.Fold, error) {
	folds, err := s.Splits(y)
	if err != nil {
		return sampler.Fold{}, err
	}
	for fold := range folds {
		return fold, nil
	}
	return sampler.Fold{}, sampler.ErrTooFewSplits
}

func buildSplit(pairs []*storage.Pair) (*Split, error) {
	parts := map[string]*PairDataset{
		storage.SplitTrain: {},
		storage.SplitVal:   {},
		storage.SplitTest:  {},
	}
	for _, p := range pairs {
		d, ok := parts[p.Split]
		if !ok {
			return nil, fmt.Errorf("pair %d has no split after assignment", p.ID)
		}
		d.A = append(d.A, p.VectorA)
		d.B = append(d.B, p.VectorB)
		d.Labels = append(d.Labels, p.Label)
	}

	for name, d := range parts {
		if d.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptySplit, name)
		}
		if _, err := d.Dim(); err != nil {
			return nil, fmt.Errorf("%s split: %w", name, err)
		}
	}

	return &Split{
		Train: parts[storage.SplitTrain],
		Val:   parts[storage.SplitVal],
		Test:  parts[storage.SplitTest],
	}, nil
}
