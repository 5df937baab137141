package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/internal/materializer"
)

const (
	// ServerName is the MCP server name
	ServerName = "ragdoc"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	manager *jobs.Manager
	files   materializer.Options
	logger  *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithFileOptions sets the default file selection of generate_docs
func WithFileOptions(o materializer.Options) Option {
	return func(s *Server) {
		s.files = o
	}
}

// NewServer creates a new MCP server instance. The manager stays owned by
// the caller.
func NewServer(manager *jobs.Manager, version string, opts ...Option) *Server {
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
		),
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)

	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", zap.String("name", ServerName))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(generateDocsTool(), s.handleGenerateDocs)
	s.mcp.AddTool(getJobStatusTool(), s.handleGetJobStatus)
	s.mcp.AddTool(listJobsTool(), s.handleListJobs)
	s.mcp.AddTool(cancelJobTool(), s.handleCancelJob)
	s.mcp.AddTool(getDocumentationTool(), s.handleGetDocumentation)
	s.mcp.AddTool(searchUnitsTool(), s.handleSearchUnits)
}
