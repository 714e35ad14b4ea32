// Package mcp exposes recorded experiments over the Model Context Protocol.
//
// The server is read-only. It opens the same SQLite database the search and
// ingestion binaries write to and answers questions about it over stdio.
//
// # Tools
//
//   - list_studies: names of every study with recorded trials
//   - list_trials: the trial history of one study, failed trials included
//   - best_trial: the best completed trial, maximizing unless told otherwise
//   - list_runs: logged training runs under a root (tb_stratified by default)
//     with hyperparameters and the latest value of each metric
//   - dataset_status: pair counts by split and label
//
// # Errors
//
// Tool failures are returned as *MCPError values carrying a JSON-RPC style
// code. Codes below -32000 are specific to this server:
//
//	-32001  study not found
//	-32002  study has no completed trials
//	-32003  no runs under the requested root
//
// # Usage
//
//	srv, err := mcp.NewServer("finetune.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
package mcp
