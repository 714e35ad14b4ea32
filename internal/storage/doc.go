// Package storage provides SQLite-based persistence for embedding pairs and
// experiment records.
//
// The storage layer manages:
//   - Labelled text pairs with their float32 embeddings
//   - The train/val/test assignment of each pair
//   - Experiment log runs and their scalar metrics
//   - Finished study trials
//
// # Database Schema
//
// Tables:
//   - pairs: text_a, text_b, vector_a and vector_b blobs, label, split
//   - runs: experiment log runs, unique per (root, name, version)
//   - run_metrics: scalars logged against a run at a step
//   - trials: finished trials, unique per (study_name, number)
//   - studies: search runs, unique per (name, version); trials of version N
//     are recorded under the study name "name/version_N"
//   - schema_version: applied migrations, ordered by semantic version
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("finetune.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	pairs, err := db.ListPairs(ctx)
//
// # Transactions
//
// Bulk writes go through a transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, p := range batch {
//	    if err := tx.InsertPair(ctx, p); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go build (default, or purego tag) uses modernc.org/sqlite:
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage
