package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/export"
	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/internal/materializer"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeJobNotFound       = -32001 // No job with the given ID
	ErrorCodeJobAlreadyRunning = -32002 // The repository already has a running job
	ErrorCodeNotReady          = -32003 // Job has not completed
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeJobFinished       = -32005 // Job can no longer be cancelled
)

// handleGenerateDocs handles the generate_docs tool invocation
func (s *Server) handleGenerateDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Extract and validate parameters
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	// Validate path exists and is accessible
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	repositoryID := getStringDefault(args, "repository_id", "")
	if repositoryID == "" {
		repositoryID = filepath.Base(filepath.Clean(path))
	}
	opts := materializer.Options{
		IncludeTests:  getBoolDefault(args, "include_tests", s.files.IncludeTests),
		IncludeVendor: getBoolDefault(args, "include_vendor", s.files.IncludeVendor),
		MaxFileBytes:  s.files.MaxFileBytes,
	}
	wait := getBoolDefault(args, "wait", false)

	res, err := materializer.FromDir(path, opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read repository", map[string]interface{}{
			"error": err.Error(),
		})
	}

	jobID, err := s.manager.Submit(ctx, repositoryID, res.Files)
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		return nil, newMCPError(ErrorCodeJobAlreadyRunning, "a job is already running for this repository", map[string]interface{}{
			"repository_id": repositoryID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to start job", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("documentation job submitted",
		zap.String("job_id", jobID),
		zap.String("repository_id", repositoryID),
		zap.Int("files", len(res.Files)))

	var job types.Job
	if wait {
		job, err = s.manager.Wait(ctx, jobID)
	} else {
		job, err = s.manager.Status(ctx, jobID)
	}
	if err != nil {
		return nil, jobError(err)
	}

	response := jobResponse(job)
	response["files"] = len(res.Files)
	if len(res.Skipped) > 0 {
		response["skipped_files"] = res.Skipped
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetJobStatus handles the get_job_status tool invocation
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requireJobID(request)
	if err != nil {
		return nil, err
	}

	job, err := s.manager.Status(ctx, jobID)
	if err != nil {
		return nil, jobError(err)
	}
	return mcp.NewToolResultText(formatJSON(jobResponse(job))), nil
}

// handleListJobs handles the list_jobs tool invocation
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	repositoryID := getStringDefault(args, "repository_id", "")

	list, err := s.manager.List(ctx, repositoryID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list jobs", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make([]map[string]interface{}, len(list))
	for i, job := range list {
		out[i] = jobResponse(job)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count": len(out),
		"jobs":  out,
	})), nil
}

// handleCancelJob handles the cancel_job tool invocation
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requireJobID(request)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Cancel(ctx, jobID); err != nil {
		return nil, jobError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id":    jobID,
		"cancelled": true,
	})), nil
}

// handleGetDocumentation handles the get_documentation tool invocation
func (s *Server) handleGetDocumentation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requireJobID(request)
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	format, err := export.ParseFormat(getStringDefault(args, "format", "json"))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid format", map[string]interface{}{
			"param":   "format",
			"value":   args["format"],
			"allowed": []string{"json", "markdown", "html"},
		})
	}

	tree, err := s.manager.Tree(ctx, jobID)
	if err != nil {
		return nil, jobError(err)
	}

	if unitID := getStringDefault(args, "unit_id", ""); unitID != "" {
		node := tree.Node(unitID)
		if node == nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "unknown unit", map[string]interface{}{
				"param": "unit_id",
				"value": unitID,
			})
		}
		data, err := json.MarshalIndent(node, "", "  ")
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to encode unit", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return mcp.NewToolResultText(string(data)), nil
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, tree, format); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to render documentation", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(buf.String()), nil
}

// handleSearchUnits handles the search_units tool invocation
func (s *Server) handleSearchUnits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requireJobID(request)
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	// Parse optional parameters
	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	searchMode := getStringDefault(args, "search_mode", "hybrid")
	if searchMode != "hybrid" && searchMode != "vector" && searchMode != "keyword" {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   searchMode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	kinds, err := getKinds(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid kinds", map[string]interface{}{
			"param":  "kinds",
			"reason": err.Error(),
		})
	}

	resp, err := s.manager.Search(ctx, jobID, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Mode:     searcher.SearchMode(searchMode),
		Kinds:    kinds,
		UseCache: true,
	})
	if errors.Is(err, searcher.ErrNoEmbedder) || errors.Is(err, searcher.ErrNoKeywordIndex) {
		return nil, newMCPError(ErrorCodeInvalidParams, searchMode+" search is not available for this job", map[string]interface{}{
			"param": "search_mode",
			"value": searchMode,
		})
	}
	if err != nil {
		return nil, jobError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id":         jobID,
		"query":          query,
		"search_mode":    string(resp.SearchMode),
		"total_results":  resp.TotalResults,
		"duration_ms":    resp.Duration.Milliseconds(),
		"cache_hit":      resp.CacheHit,
		"vector_results": resp.VectorResults,
		"text_results":   resp.TextResults,
		"results":        resp.Results,
	})), nil
}

// Helper functions

// jobResponse formats the caller-visible fields of a job
func jobResponse(job types.Job) map[string]interface{} {
	response := map[string]interface{}{
		"job_id":        job.ID,
		"repository_id": job.RepositoryID,
		"status":        string(job.Status),
		"progress":      job.Progress,
		"message":       job.Message,
		"stage":         string(job.Stage),
		"units_total":   job.UnitsTotal,
		"units_done":    job.UnitsDone,
		"created_at":    job.CreatedAt.Format(time.RFC3339),
		"updated_at":    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Status == types.StatusCompleted {
		response["documentation_available"] = true
	}
	return response
}

// jobError maps manager errors onto MCP errors
func jobError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return newMCPError(ErrorCodeJobNotFound, "job not found", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, jobs.ErrTreeNotReady):
		return newMCPError(ErrorCodeNotReady, "documentation not available: job has not completed", nil)
	case errors.Is(err, jobs.ErrJobFinished):
		return newMCPError(ErrorCodeJobFinished, "job has already finished", nil)
	default:
		return newMCPError(ErrorCodeInternalError, "request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func requireJobID(request mcp.CallToolRequest) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	jobID, ok := args["job_id"].(string)
	if !ok || jobID == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "job_id parameter is required", map[string]interface{}{
			"param":  "job_id",
			"reason": "missing or empty",
		})
	}
	return jobID, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
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

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	// Check if it's a directory
	if !info.IsDir() {
		return ErrNotDirectory
	}

	// Check if directory is readable
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
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

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getKinds extracts the optional unit kind filter
func getKinds(args map[string]interface{}) ([]types.UnitKind, error) {
	raw, ok := args["kinds"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("kinds must be an array of strings")
	}
	kinds := make([]types.UnitKind, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("kinds must be an array of strings")
		}
		kind := types.UnitKind(s)
		u := types.CodeUnit{Kind: kind}
		if err := u.ValidateKind(); err != nil {
			return nil, fmt.Errorf("unknown kind %q", s)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
