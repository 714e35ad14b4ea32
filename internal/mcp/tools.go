package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Jumshim/fastllm/internal/storage"
	"github.com/Jumshim/fastllm/internal/study"
	"github.com/Jumshim/fastllm/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeStudyNotFound     = -32001 // No trials recorded under the study name
	ErrorCodeNoCompletedTrials = -32002 // Study has trials but none completed
	ErrorCodeRunRootNotFound   = -32003 // No runs logged under the root
)

// handleListStudies handles the list_studies tool invocation
func (s *Server) handleListStudies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.store.ListStudies(ctx)
	if err != nil {
		return nil, internalError("failed to list studies", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"studies": names,
		"count":   len(names),
	})), nil
}

// handleListTrials handles the list_trials tool invocation
func (s *Server) handleListTrials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	name, err := requireString(args, "study")
	if err != nil {
		return nil, err
	}

	name, trials, err := s.loadTrials(ctx, name)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	items := make([]map[string]interface{}, len(trials))
	for i, t := range trials {
		counts[string(t.State)]++
		items[i] = trialJSON(t)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"study":  name,
		"trials": items,
		"counts": counts,
	})), nil
}

// handleBestTrial handles the best_trial tool invocation
func (s *Server) handleBestTrial(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	name, err := requireString(args, "study")
	if err != nil {
		return nil, err
	}

	dirName := getStringDefault(args, "direction", study.Maximize.String())
	direction, err := study.ParseDirection(dirName)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid direction", map[string]interface{}{
			"param":   "direction",
			"value":   dirName,
			"allowed": []string{"maximize", "minimize"},
		})
	}

	name, trials, err := s.loadTrials(ctx, name)
	if err != nil {
		return nil, err
	}

	best, err := study.BestOf(trials, direction)
	if err != nil {
		return nil, newMCPError(ErrorCodeNoCompletedTrials, "study has no completed trials", map[string]interface{}{
			"study":  name,
			"trials": len(trials),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"study":     name,
		"direction": direction.String(),
		"trials":    len(trials),
		"best":      trialJSON(best),
	})), nil
}

// handleListRuns handles the list_runs tool invocation
func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	root := getStringDefault(args, "root", DefaultRunRoot)
	history := getBoolDefault(args, "include_history", false)

	runs, err := s.store.ListRuns(ctx, root)
	if err != nil {
		return nil, internalError("failed to list runs", err)
	}
	if len(runs) == 0 {
		return nil, newMCPError(ErrorCodeRunRootNotFound, "no runs logged under root", map[string]interface{}{
			"root": root,
		})
	}

	items := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		metrics, err := s.store.ListRunMetrics(ctx, run.ID)
		if err != nil {
			return nil, internalError("failed to list run metrics", err)
		}
		item := map[string]interface{}{
			"name":       run.Name,
			"version":    run.Version,
			"dir":        run.Dir(),
			"hparams":    run.Hparams,
			"created_at": run.CreatedAt.Format(time.RFC3339),
			"latest":     latestMetrics(metrics),
		}
		if history {
			item["history"] = metricHistory(metrics)
		}
		items = append(items, item)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"root": root,
		"runs": items,
	})), nil
}

// handleDatasetStatus handles the dataset_status tool invocation
func (s *Server) handleDatasetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.GetDatasetStatus(ctx)
	if err != nil {
		return nil, internalError("failed to get dataset status", err)
	}

	splits := map[string]int{}
	for name, n := range status.SplitCounts {
		if name == storage.SplitNone {
			name = "unassigned"
		}
		splits[name] = n
	}
	labels := map[string]int{}
	for label, n := range status.LabelCounts {
		labels[fmt.Sprint(label)] = n
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total_pairs":      status.TotalPairs,
		"splits":           splits,
		"labels":           labels,
		"dimensions":       status.Dimensions,
		"database_size_mb": fmt.Sprintf("%.2f", status.DatabaseSizeMB),
	})), nil
}

// loadTrials reads a study's history and converts it for the study package.
// A base name with registered versions resolves to its latest version, and
// the returned name is the one the trials were recorded under.
func (s *Server) loadTrials(ctx context.Context, name string) (string, []types.FrozenTrial, error) {
	latest, err := s.store.LatestStudy(ctx, name)
	switch {
	case err == nil:
		name = latest.Key()
	case !errors.Is(err, storage.ErrNotFound):
		return "", nil, internalError("failed to resolve study", err)
	}

	records, err := s.store.ListTrials(ctx, name)
	if err != nil {
		return "", nil, internalError("failed to list trials", err)
	}
	if len(records) == 0 {
		return "", nil, newMCPError(ErrorCodeStudyNotFound, "study not found", map[string]interface{}{
			"study": name,
		})
	}
	trials := make([]types.FrozenTrial, len(records))
	for i, r := range records {
		trials[i] = r.ToFrozenTrial()
	}
	return name, trials, nil
}

func trialJSON(t types.FrozenTrial) map[string]interface{} {
	out := map[string]interface{}{
		"number":      t.Number,
		"state":       string(t.State),
		"params":      t.Params,
		"duration_ms": t.Duration().Milliseconds(),
	}
	if t.State == types.TrialComplete {
		out["value"] = t.Value
	}
	if t.Error != "" {
		out["error"] = t.Error
	}
	return out
}

// latestMetrics keeps the value at the highest step for each metric name
func latestMetrics(metrics []*storage.RunMetric) map[string]interface{} {
	out := map[string]interface{}{}
	steps := map[string]int{}
	for _, m := range metrics {
		if step, ok := steps[m.Name]; ok && step > m.Step {
			continue
		}
		steps[m.Name] = m.Step
		out[m.Name] = m.Value
	}
	return out
}

func metricHistory(metrics []*storage.RunMetric) []map[string]interface{} {
	out := make([]map[string]interface{}, len(metrics))
	for i, m := range metrics {
		out[i] = map[string]interface{}{"step": m.Step, "name": m.Name, "value": m.Value}
	}
	return out
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
