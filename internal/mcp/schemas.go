package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func studyProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Study name, either a versioned key (e.g. finetune-embedding/version_2) or a base name that resolves to its latest version",
	}
}

// listStudiesTool returns the tool definition for list_studies
func listStudiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_studies",
		Description: "List the names of all recorded hyperparameter studies",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listTrialsTool returns the tool definition for list_trials
func listTrialsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_trials",
		Description: "List every trial of a study with its state, objective value and parameters",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"study": studyProperty(),
			},
			Required: []string{"study"},
		},
	}
}

// bestTrialTool returns the tool definition for best_trial
func bestTrialTool() mcp.Tool {
	return mcp.Tool{
		Name:        "best_trial",
		Description: "Return the best completed trial of a study",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"study": studyProperty(),
				"direction": map[string]interface{}{
					"type":        "string",
					"description": "Whether larger or smaller objective values are better",
					"enum":        []string{"maximize", "minimize"},
					"default":     "maximize",
				},
			},
			Required: []string{"study"},
		},
	}
}

// listRunsTool returns the tool definition for list_runs
func listRunsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_runs",
		Description: "List logged training runs under a root with their hyperparameters and latest metrics",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"root": map[string]interface{}{
					"type":        "string",
					"description": "Experiment log root",
					"default":     DefaultRunRoot,
				},
				"include_history": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include every logged metric step instead of only the latest values",
					"default":     false,
				},
			},
		},
	}
}

// datasetStatusTool returns the tool definition for dataset_status
func datasetStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "dataset_status",
		Description: "Report stored pair counts by split and label",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
