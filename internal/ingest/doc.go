// Package ingest loads labelled sentence pairs into storage.
//
// Input is CSV with the columns text_a, text_b, label and an optional split
// (train, val or test). Both texts of a pair are embedded in the same provider
// request, batches are embedded concurrently, and each batch is written in its
// own transaction so a failed batch never leaves half its pairs behind.
//
//	ing := ingest.New(emb, store)
//	stats, err := ing.IngestCSV(ctx, file, &ingest.Config{Workers: 4})
//	log.Printf("stored %d of %d pairs", stats.Stored, stats.Rows)
//
// Pairs without a split are assigned one by the dataset loader the first time
// the search runs.
package ingest
