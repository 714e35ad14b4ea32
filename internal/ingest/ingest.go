package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jumshim/fastllm/internal/embedder"
	"github.com/Jumshim/fastllm/internal/storage"
)

var (
	// ErrInProgress is returned when IngestCSV is called while another ingestion is running
	ErrInProgress = errors.New("ingestion already in progress")
	// ErrBadRow marks a CSV row that cannot be turned into a pair
	ErrBadRow = errors.New("bad row")
)

// PairWriter opens the transactions pairs are written in
type PairWriter interface {
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// Ingester coordinates the ingestion pipeline: read -> embed -> store
type Ingester struct {
	embedder embedder.Embedder
	store    PairWriter
	lock     Lock
}

// Config contains configuration for an ingestion
type Config struct {
	Workers   int // Concurrent embedding batches (default: runtime.NumCPU())
	BatchSize int // Pairs per embedding call and transaction (default: embedder.DefaultBatchSize/2)
}

// Statistics contains statistics about an ingestion
type Statistics struct {
	Rows          int
	Stored        int
	Failed        int
	Duration      time.Duration
	ErrorMessages []string

	// MeanSimilarity is the mean cosine similarity of stored pairs, keyed by label
	MeanSimilarity map[int]float64
}

// row is one parsed CSV record
type row struct {
	line  int
	textA string
	textB string
	label int
	split string
}

// New creates a new Ingester
func New(emb embedder.Embedder, store PairWriter) *Ingester {
	return &Ingester{embedder: emb, store: store}
}

// IngestCSV reads text_a,text_b,label[,split] records from r, embeds both texts
// of each pair and stores the pairs. A header row is skipped when its third
// column is "label". Rows that fail to parse or embed are counted in Failed
// and do not stop the ingestion.
func (ing *Ingester) IngestCSV(ctx context.Context, r io.Reader, config *Config) (*Statistics, error) {
	if !ing.lock.TryAcquire() {
		return nil, ErrInProgress
	}
	defer ing.lock.Release()

	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedder.DefaultBatchSize / 2
	}
	// Two texts per pair must fit in one embedding request
	if cfg.BatchSize*2 > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize / 2
	}

	startTime := time.Now()
	stats := &Statistics{
		ErrorMessages:  make([]string, 0),
		MeanSimilarity: make(map[int]float64),
	}

	rows, err := readRows(r, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	agg := &aggregate{sums: make(map[int]float64), counts: make(map[int]int)}
	if err := ing.storeRows(ctx, rows, cfg, stats, agg); err != nil {
		return nil, err
	}

	for label, n := range agg.counts {
		stats.MeanSimilarity[label] = agg.sums[label] / float64(n)
	}
	stats.Duration = time.Since(startTime)
	return stats, nil
}

func readRows(r io.Reader, stats *Statistics) ([]row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		if line == 1 && len(record) >= 3 && strings.EqualFold(strings.TrimSpace(record[2]), "label") {
			continue
		}

		stats.Rows++
		parsed, err := parseRow(line, record)
		if err != nil {
			stats.Failed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		rows = append(rows, parsed)
	}
	return rows, nil
}

func parseRow(line int, record []string) (row, error) {
	if len(record) < 3 || len(record) > 4 {
		return row{}, fmt.Errorf("%w: want 3 or 4 columns, got %d", ErrBadRow, len(record))
	}
	out := row{line: line, textA: record[0], textB: record[1]}
	if strings.TrimSpace(out.textA) == "" || strings.TrimSpace(out.textB) == "" {
		return row{}, fmt.Errorf("%w: empty text", ErrBadRow)
	}

	label, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil || (label != 0 && label != 1) {
		return row{}, fmt.Errorf("%w: label must be 0 or 1, got %q", ErrBadRow, record[2])
	}
	out.label = label

	if len(record) == 4 {
		split := strings.ToLower(strings.TrimSpace(record[3]))
		switch split {
		case storage.SplitNone, storage.SplitTrain, storage.SplitVal, storage.SplitTest:
			out.split = split
		default:
			return row{}, fmt.Errorf("%w: unknown split %q", ErrBadRow, record[3])
		}
	}
	return out, nil
}

type aggregate struct {
	mu     sync.Mutex
	sums   map[int]float64
	counts map[int]int
}

func (a *aggregate) add(label int, sim float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sums[label] += sim
	a.counts[label]++
}

// storeRows embeds and stores rows batch by batch with a bounded number of
// concurrent batches
func (ing *Ingester) storeRows(ctx context.Context, rows []row, cfg Config, stats *Statistics, agg *aggregate) error {
	var (
		stored int32
		failed int32
		mu     sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := 0; i < len(rows); i += cfg.BatchSize {
		batch := rows[i:min(i+cfg.BatchSize, len(rows))]

		g.Go(func() error {
			n, errs, err := ing.storeBatch(gctx, batch, agg)
			if err != nil {
				return err
			}
			atomic.AddInt32(&stored, int32(n))
			atomic.AddInt32(&failed, int32(len(errs)))
			if len(errs) > 0 {
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, errs...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats.Stored = int(stored)
	stats.Failed += int(failed)
	return nil
}

// storeBatch embeds one batch and writes it in a single transaction. Row level
// failures are returned as messages; only context and transaction errors abort.
func (ing *Ingester) storeBatch(ctx context.Context, batch []row, agg *aggregate) (int, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	texts := make([]string, 0, len(batch)*2)
	for _, r := range batch {
		texts = append(texts, r.textA, r.textB)
	}

	resp, err := ing.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		errs := make([]string, len(batch))
		for i, r := range batch {
			errs[i] = fmt.Sprintf("line %d: embed: %v", r.line, err)
		}
		return 0, errs, nil
	}

	tx, err := ing.store.BeginTx(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errs []string
	var sims []float64
	var labels []int
	for i, r := range batch {
		a, b := resp.Embeddings[2*i], resp.Embeddings[2*i+1]
		pair := &storage.Pair{
			TextA:    r.textA,
			TextB:    r.textB,
			VectorA:  a.Vector,
			VectorB:  b.Vector,
			Label:    r.label,
			Split:    r.split,
			Provider: resp.Provider,
			Model:    resp.Model,
		}
		if err := tx.InsertPair(ctx, pair); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", r.line, err))
			continue
		}
		sims = append(sims, storage.CosineSimilarity(a.Vector, b.Vector))
		labels = append(labels, r.label)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for i, sim := range sims {
		agg.add(labels[i], sim)
	}
	return len(sims), errs, nil
}
