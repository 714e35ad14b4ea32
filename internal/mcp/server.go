package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Jumshim/fastllm/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "finetune-experiments"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultRunRoot is the experiment log root used by the search binary
	DefaultRunRoot = "tb_stratified"
)

// ExperimentStore is the read-only slice of storage the tools query
type ExperimentStore interface {
	ListStudies(ctx context.Context) ([]string, error)
	ListTrials(ctx context.Context, studyName string) ([]*storage.TrialRecord, error)
	LatestStudy(ctx context.Context, name string) (*storage.Study, error)
	ListRuns(ctx context.Context, root string) ([]*storage.Run, error)
	ListRunMetrics(ctx context.Context, runID int64) ([]*storage.RunMetric, error)
	GetDatasetStatus(ctx context.Context) (*storage.DatasetStatus, error)
	Close() error
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp   *server.MCPServer
	store ExperimentStore
}

// NewServer opens the experiment database at dbPath and registers the tools
func NewServer(dbPath string) (*Server, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return NewServerWithStore(store), nil
}

// NewServerWithStore creates a server over an already open store
func NewServerWithStore(store ExperimentStore) *Server {
	s := &Server{
		mcp:   server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		store: store,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(listStudiesTool(), s.handleListStudies)
	s.mcp.AddTool(listTrialsTool(), s.handleListTrials)
	s.mcp.AddTool(bestTrialTool(), s.handleBestTrial)
	s.mcp.AddTool(listRunsTool(), s.handleListRuns)
	s.mcp.AddTool(datasetStatusTool(), s.handleDatasetStatus)
}
