package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jumshim/fastllm/internal/embedder"
	"github.com/Jumshim/fastllm/internal/ingest"
	"github.com/Jumshim/fastllm/internal/storage"
)

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) > 2 || (len(os.Args) == 2 && (os.Args[1] == "-h" || os.Args[1] == "--help")) {
		fmt.Fprintf(os.Stderr, "usage: %s [pairs.csv]\n\nReads text_a,text_b,label[,split] rows from the file or stdin.\n", os.Args[0])
		os.Exit(2)
	}

	var input io.Reader = os.Stdin
	if len(os.Args) == 2 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer func() { _ = f.Close() }()
		input = f
	}

	if err := run(input); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
}

func run(input io.Reader) error {
	dbPath := os.Getenv("FINETUNE_DB_PATH")
	if dbPath == "" {
		dbPath = "finetune.db"
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()
	log.Printf("Embedding with %s/%s (%d dimensions)", emb.Provider(), emb.Model(), emb.Dimension())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := ingest.New(emb, store).IngestCSV(ctx, input, nil)
	if err != nil {
		return err
	}

	log.Printf("Read %d rows: %d stored, %d failed in %s", stats.Rows, stats.Stored, stats.Failed, stats.Duration)
	for label, sim := range stats.MeanSimilarity {
		log.Printf("Mean cosine similarity for label %d: %.4f", label, sim)
	}
	for i, msg := range stats.ErrorMessages {
		if i == 10 {
			log.Printf("... and %d more errors", len(stats.ErrorMessages)-i)
			break
		}
		log.Print(msg)
	}
	return nil
}
