package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// generateDocsTool returns the tool definition for generate_docs
func generateDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_docs",
		Description: "Start a documentation job for a Go or Python repository and return its job ID",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"repository_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier (defaults to the directory name)",
				},
				"include_tests": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, document test files",
					"default":     false,
				},
				"include_vendor": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, document the vendor/ directory",
					"default":     false,
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, return only after the job has finished",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getJobStatusTool returns the tool definition for get_job_status
func getJobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_status",
		Description: "Report the status, progress and message of a documentation job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID returned by generate_docs",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// listJobsTool returns the tool definition for list_jobs
func listJobsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_jobs",
		Description: "List documentation jobs, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository_id": map[string]interface{}{
					"type":        "string",
					"description": "Only list jobs of this repository",
				},
			},
		},
	}
}

// cancelJobTool returns the tool definition for cancel_job
func cancelJobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a running documentation job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID returned by generate_docs",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// getDocumentationTool returns the tool definition for get_documentation
func getDocumentationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_documentation",
		Description: "Return the documentation tree of a completed job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID returned by generate_docs",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Output format for the whole tree",
					"enum":        []string{"json", "markdown", "html"},
					"default":     "json",
				},
				"unit_id": map[string]interface{}{
					"type":        "string",
					"description": "Return only the JSON subtree of this unit (e.g. 'pkg/calc.go::Add')",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// searchUnitsTool returns the tool definition for search_units
func searchUnitsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_units",
		Description: "Search the documented units of a completed job with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job ID returned by generate_docs",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"kinds": map[string]interface{}{
					"type":        "array",
					"description": "Filter by unit kind",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"module", "class", "function"},
					},
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (full-text only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"job_id", "query"},
		},
	}
}
