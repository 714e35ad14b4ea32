package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Jumshim/fastllm/internal/dataset"
	"github.com/Jumshim/fastllm/internal/experiment"
	"github.com/Jumshim/fastllm/internal/search"
	"github.com/Jumshim/fastllm/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("finetune-embedding\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	// Diagnostics go to stderr, stdout carries the search report
	log.SetOutput(os.Stderr)
	log.Printf("finetune-embedding v%s starting (driver %s)", version, storage.DriverName)

	if err := run(); err != nil {
		log.Fatalf("Search failed: %v", err)
	}
}

func run() error {
	cfg := search.DefaultConfig()
	if v := os.Getenv("FINETUNE_TRIALS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("FINETUNE_TRIALS must be a positive integer, got %q", v)
		}
		cfg.NTrials = n
	}
	if v := os.Getenv("FINETUNE_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FINETUNE_SEED must be an unsigned integer, got %q", v)
		}
		cfg.Seed = seed
	}

	dbPath := os.Getenv("FINETUNE_DB_PATH")
	if dbPath == "" {
		dbPath = "finetune.db"
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := store.GetDatasetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dataset status: %w", err)
	}
	log.Printf("Dataset: %d pairs, labels %v, dimensions %v", status.TotalPairs, status.LabelCounts, status.Dimensions)
	if len(status.Dimensions) == 1 && status.Dimensions[0] != cfg.EmbeddingSize {
		log.Printf("Using embedding size %d from stored pairs", status.Dimensions[0])
		cfg.EmbeddingSize = status.Dimensions[0]
	}

	loader, err := dataset.NewStoreSplitLoader(store, dataset.LoaderConfig{Seed: cfg.Seed})
	if err != nil {
		return fmt.Errorf("failed to create split loader: %w", err)
	}

	runner, err := search.New(search.Deps{
		Data: loader,
		NewLogger: func(ctx context.Context, root, name string) (experiment.Logger, error) {
			logger, err := experiment.NewRunLogger(ctx, store, root, name)
			if err != nil {
				return nil, err
			}
			return logger, nil
		},
		Recorder: store,
		Studies:  store,
		Out:      os.Stdout,
	})
	if err != nil {
		return err
	}

	best, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("Study %s finished: %d trials, %d failed, best trial %d", best.Study, best.Trials, best.Failed, best.Number)
	return nil
}
