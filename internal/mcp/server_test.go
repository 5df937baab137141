package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/internal/storage"
	"github.com/dshills/ragdoc/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	run := config.DefaultRun().WithK(2)
	run.Dimension = 16
	emb, err := embedder.NewHashProvider(16, nil)
	require.NoError(t, err)

	m := jobs.NewManager(run, emb, generator.NewTemplate(), jobs.NewMemoryStore(),
		jobs.WithKeywordIndexer(storage.MemoryKeywordIndexer{}))
	t.Cleanup(func() { _ = m.Close() })
	return NewServer(m, "")
}

func newRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "calc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	files := map[string]string{
		"calc.py":      "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    return a + b\n",
		"test_calc.py": "def test_add():\n    assert True\n",
		"README.md":    "# calc\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	return mcpErr.Code
}

// generate runs generate_docs with wait and returns the job ID
func generate(t *testing.T, s *Server, dir string) string {
	t.Helper()
	res, err := s.handleGenerateDocs(context.Background(), call(map[string]interface{}{
		"path": dir,
		"wait": true,
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	require.Equal(t, string(types.StatusCompleted), out["status"], out["message"])
	return out["job_id"].(string)
}

func TestGenerateDocs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	dir := newRepo(t)

	res, err := s.handleGenerateDocs(ctx, call(map[string]interface{}{"path": dir, "wait": true}))
	require.NoError(t, err)
	out := resultJSON(t, res)

	assert.Equal(t, "calc", out["repository_id"], "defaults to the directory name")
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, 1.0, out["progress"])
	assert.Equal(t, "Documentation generated successfully", out["message"])
	assert.Equal(t, float64(1), out["files"], "tests are excluded by default")
	assert.Equal(t, true, out["documentation_available"])

	res, err = s.handleGenerateDocs(ctx, call(map[string]interface{}{
		"path":          dir,
		"repository_id": "calc-with-tests",
		"include_tests": true,
		"wait":          true,
	}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, "calc-with-tests", out["repository_id"])
	assert.Equal(t, float64(2), out["files"])
}

func TestGenerateDocs_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleGenerateDocs(ctx, call(map[string]interface{}{}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleGenerateDocs(ctx, call(map[string]interface{}{"path": "relative/path"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleGenerateDocs(ctx, call(map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing")}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	var req mcp.CallToolRequest
	req.Params.Arguments = "not an object"
	_, err = s.handleGenerateDocs(ctx, req)
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestGenerateDocs_NoSourceFiles(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	res, err := s.handleGenerateDocs(context.Background(), call(map[string]interface{}{"path": dir, "wait": true}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "failed", out["status"])
	assert.Equal(t, "no units were found: no files could be parsed", out["message"])
}

func TestGetJobStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := generate(t, s, newRepo(t))

	res, err := s.handleGetJobStatus(ctx, call(map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, id, out["job_id"])
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "done", out["stage"])
	assert.Equal(t, float64(2), out["units_total"])

	_, err = s.handleGetJobStatus(ctx, call(map[string]interface{}{"job_id": "missing"}))
	assert.Equal(t, ErrorCodeJobNotFound, mcpCode(t, err))

	_, err = s.handleGetJobStatus(ctx, call(map[string]interface{}{}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestListAndCancelJobs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := generate(t, s, newRepo(t))

	res, err := s.handleListJobs(ctx, call(map[string]interface{}{"repository_id": "calc"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, float64(1), out["count"])

	res, err = s.handleListJobs(ctx, call(map[string]interface{}{"repository_id": "other"}))
	require.NoError(t, err)
	assert.Equal(t, float64(0), resultJSON(t, res)["count"])

	_, err = s.handleCancelJob(ctx, call(map[string]interface{}{"job_id": id}))
	assert.Equal(t, ErrorCodeJobFinished, mcpCode(t, err))

	_, err = s.handleCancelJob(ctx, call(map[string]interface{}{"job_id": "missing"}))
	assert.Equal(t, ErrorCodeJobNotFound, mcpCode(t, err))
}

func TestGetDocumentation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := generate(t, s, newRepo(t))

	res, err := s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id}))
	require.NoError(t, err)
	doc := resultJSON(t, res)
	assert.Equal(t, "calc", doc["repository_id"])
	root := doc["root"].(map[string]interface{})
	assert.Equal(t, types.ProjectNodeID, root["id"])

	res, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id, "format": "markdown"}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resultText(t, res), "# calc {#project}"))

	res, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id, "format": "html"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "<!DOCTYPE html>")

	res, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id, "unit_id": "calc.py::add"}))
	require.NoError(t, err)
	node := resultJSON(t, res)
	assert.Equal(t, "calc.py::add", node["id"])
	assert.Equal(t, "calc.py", node["parent"])
	assert.Contains(t, node["text"], "Add two numbers.")

	_, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id, "unit_id": "nope"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id, "format": "pdf"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": "missing"}))
	assert.Equal(t, ErrorCodeJobNotFound, mcpCode(t, err))
}

func TestGetDocumentation_NotReady(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleGenerateDocs(ctx, call(map[string]interface{}{"path": t.TempDir(), "wait": true}))
	require.NoError(t, err)
	id := resultJSON(t, res)["job_id"].(string)

	_, err = s.handleGetDocumentation(ctx, call(map[string]interface{}{"job_id": id}))
	assert.Equal(t, ErrorCodeNotReady, mcpCode(t, err))
}

func TestSearchUnits(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := generate(t, s, newRepo(t))

	for _, mode := range []string{"hybrid", "vector", "keyword"} {
		res, err := s.handleSearchUnits(ctx, call(map[string]interface{}{
			"job_id":      id,
			"query":       "add numbers",
			"search_mode": mode,
			"kinds":       []interface{}{"function"},
		}))
		require.NoError(t, err, mode)
		out := resultJSON(t, res)
		results := out["results"].([]interface{})
		require.NotEmpty(t, results, mode)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "calc.py::add", first["unit_id"], mode)
	}
}

func TestSearchUnits_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := generate(t, s, newRepo(t))

	_, err := s.handleSearchUnits(ctx, call(map[string]interface{}{"job_id": id, "query": "  "}))
	assert.Equal(t, ErrorCodeEmptyQuery, mcpCode(t, err))

	_, err = s.handleSearchUnits(ctx, call(map[string]interface{}{"job_id": id, "query": "add", "limit": float64(500)}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleSearchUnits(ctx, call(map[string]interface{}{"job_id": id, "query": "add", "search_mode": "fuzzy"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleSearchUnits(ctx, call(map[string]interface{}{"job_id": id, "query": "add", "kinds": []interface{}{"struct"}}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleSearchUnits(ctx, call(map[string]interface{}{"job_id": "missing", "query": "add"}))
	assert.Equal(t, ErrorCodeJobNotFound, mcpCode(t, err))
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.go")
	require.NoError(t, os.WriteFile(file, []byte("package f\n"), 0o644))

	assert.NoError(t, validatePath(dir))
	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("rel"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "missing")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
}
