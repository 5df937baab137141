package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/export"
	"github.com/dshills/ragdoc/internal/materializer"
	"github.com/dshills/ragdoc/pkg/types"
)

var (
	outputPath    string
	outputFormat  string
	repositoryID  string
	includeTests  bool
	includeVendor bool
	pollInterval  time.Duration
)

// generateCmd documents a local repository
var generateCmd = &cobra.Command{
	Use:   "generate <path>",
	Short: "Generate documentation for a repository",
	Long: `Generate documentation for the Go and Python files under a directory.

Progress is reported on stderr. The documentation is written to stdout
unless --out is given.

Examples:
  # Markdown bundle on stdout
  ragdoc generate ./myrepo --format markdown

  # HTML page, persisting the job in SQLite
  ragdoc generate ./myrepo --format html --out docs.html --db ragdoc.db`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&outputPath, "out", "o", "", "write documentation to this file instead of stdout")
	generateCmd.Flags().StringVarP(&outputFormat, "format", "f", "markdown", "output format (json, markdown, html)")
	generateCmd.Flags().StringVar(&repositoryID, "repository-id", "", "repository identifier (defaults to the directory name)")
	generateCmd.Flags().BoolVar(&includeTests, "include-tests", false, "document test files")
	generateCmd.Flags().BoolVar(&includeVendor, "include-vendor", false, "document vendor/ directories")
	generateCmd.Flags().DurationVar(&pollInterval, "poll", 250*time.Millisecond, "progress polling interval")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.fileOptions()
	if cmd.Flags().Changed("include-tests") {
		opts.IncludeTests = includeTests
	}
	if cmd.Flags().Changed("include-vendor") {
		opts.IncludeVendor = includeVendor
	}
	res, err := materializer.FromDir(root, opts)
	if err != nil {
		return err
	}
	for _, p := range res.Skipped {
		a.logger.Warn("skipped file", zap.String("path", p))
	}

	repo := repositoryID
	if repo == "" {
		repo = filepath.Base(root)
	}
	jobID, err := a.manager.Submit(ctx, repo, res.Files)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Job %s: %d files from %s\n", jobID, len(res.Files), root)

	job, err := follow(ctx, a, jobID, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if job.Status != types.StatusCompleted {
		return fmt.Errorf("documentation job failed: %s", job.Message)
	}

	tree, err := a.manager.Tree(ctx, jobID)
	if err != nil {
		return err
	}
	if n := tree.PlaceholderCount(); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d units have placeholder documentation\n", n, tree.Forest.Len())
	}

	return writeOutput(cmd.OutOrStdout(), tree, format)
}

// follow prints progress until the job finishes. Interrupting cancels the
// job and waits for it to record its final state.
func follow(ctx context.Context, a *app, jobID string, w io.Writer) (types.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last types.Job
	for {
		job, err := a.manager.Status(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return types.Job{}, err
		}
		if job.Message != last.Message || job.Progress != last.Progress {
			fmt.Fprintf(w, "[%3.0f%%] %s\n", job.Progress*100, job.Message)
			last = job
		}
		if job.Status.IsTerminal() {
			// Wait until the tree is stored and the repository released.
			return a.manager.Wait(context.WithoutCancel(ctx), jobID)
		}

		select {
		case <-ctx.Done():
			_ = a.manager.Cancel(context.WithoutCancel(ctx), jobID)
			return a.manager.Wait(context.WithoutCancel(ctx), jobID)
		case <-ticker.C:
		}
	}
}

func writeOutput(stdout io.Writer, tree *types.DocTree, format export.Format) error {
	if outputPath == "" {
		return export.Write(stdout, tree, format)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := export.Write(w, tree, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
