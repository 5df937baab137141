// Package mcp implements the Model Context Protocol (MCP) server for ragdoc.
//
// The MCP server exposes documentation jobs to AI coding assistants:
//   - generate_docs: Start a documentation job for a repository
//   - get_job_status: Check a job's status, progress and message
//   - list_jobs: List jobs, newest first
//   - cancel_job: Stop a running job
//   - get_documentation: Fetch the documentation tree of a completed job
//   - search_units: Search the documented units of a completed job
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr so they never mix with protocol messages on stdout.
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	ragdoc serve
//
// # Tool: generate_docs
//
// Jobs run in the background; the call returns as soon as the job is
// created unless "wait" is set:
//
//	Request:
//	{
//	  "name": "generate_docs",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "include_tests": false,
//	    "wait": false
//	  }
//	}
//
//	Response:
//	{
//	  "job_id": "5f0c...",
//	  "repository_id": "project",
//	  "status": "pending",
//	  "progress": 0,
//	  "message": "Queued",
//	  "files": 42
//	}
//
// # Tool: get_job_status
//
// Status is one of pending, processing, completed or failed. Progress
// never decreases. A failed job's message explains why:
//
//	{
//	  "job_id": "5f0c...",
//	  "status": "failed",
//	  "progress": 0.1,
//	  "message": "embedding service unavailable"
//	}
//
// # Tool: get_documentation
//
// Returns the whole tree as json, markdown or html, or the JSON subtree of
// one unit when unit_id is given. Jobs that have not completed return
// error -32003.
//
// # Tool: search_units
//
// Ranks units by keyword (SQLite FTS5 over names, signatures and generated
// documentation), by vector similarity, or by both fused with Reciprocal
// Rank Fusion:
//
//	{
//	  "name": "search_units",
//	  "arguments": {
//	    "job_id": "5f0c...",
//	    "query": "parse configuration file",
//	    "limit": 10,
//	    "kinds": ["function"],
//	    "search_mode": "hybrid"
//	  }
//	}
//
// # Error Codes
//
//	-32602  Invalid params
//	-32603  Internal error
//	-32001  Job not found
//	-32002  A job is already running for the repository
//	-32003  Documentation not available: job has not completed
//	-32004  Empty query
//	-32005  Job has already finished
package mcp
