package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/mcp"
)

var purgeEvery, purgeAfter time.Duration

// serveCmd runs the MCP server on stdio
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the Model Context Protocol server on stdin/stdout.

Logs are written to stderr; stdout is reserved for protocol messages.
Finished jobs older than --purge-after are deleted every --purge-every.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&purgeEvery, "purge-every", time.Hour, "how often to purge finished jobs (0 disables)")
	serveCmd.Flags().DurationVar(&purgeAfter, "purge-after", 7*24*time.Hour, "age after which finished jobs are purged")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if purgeEvery > 0 {
		go func() {
			ticker := time.NewTicker(purgeEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := a.manager.Purge(ctx, purgeAfter); err != nil {
						a.logger.Warn("purge failed", zap.Error(err))
					}
				}
			}
		}()
	}

	server := mcp.NewServer(a.manager, version,
		mcp.WithLogger(a.logger),
		mcp.WithFileOptions(a.fileOptions()))

	err = server.Serve(ctx)
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		a.logger.Info("server stopped")
		return nil
	}
	return err
}
