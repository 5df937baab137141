// Package materializer turns a repository checkout into the ordered
// (path, text) pairs the parser consumes.
package materializer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/ragdoc/internal/parser"
	"github.com/dshills/ragdoc/pkg/types"
)

// DefaultMaxFileBytes skips generated or vendored blobs that would dominate
// a run
const DefaultMaxFileBytes = 1 << 20

// ErrNotDirectory is returned when the root is not a directory
var ErrNotDirectory = errors.New("repository root is not a directory")

// Options controls which files are collected
type Options struct {
	IncludeTests  bool  // Go _test.go files and Python test_*.py / *_test.py
	IncludeVendor bool  // vendor/ directories
	MaxFileBytes  int64 // 0 means DefaultMaxFileBytes
}

// Result holds the collected files and the paths that were left out
type Result struct {
	Files   []types.SourceFile
	Skipped []string
}

// FromDir walks root and returns every supported source file, sorted by
// slash-separated path relative to root. Hidden directories are skipped.
// Files that are too large or not valid UTF-8 are reported in Skipped.
func FromDir(root string, opts Options) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	res := &Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			// Skip vendor unless explicitly included
			if !opts.IncludeVendor && name == "vendor" {
				return filepath.SkipDir
			}
			// Skip hidden and cache directories
			if strings.HasPrefix(name, ".") || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !parser.Supported(path) {
			return nil
		}
		if !opts.IncludeTests && IsTestFile(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > maxBytes {
			res.Skipped = append(res.Skipped, rel)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			res.Skipped = append(res.Skipped, rel)
			return nil
		}

		res.Files = append(res.Files, types.SourceFile{Path: rel, Text: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res.Files, func(i, j int) bool {
		return res.Files[i].Path < res.Files[j].Path
	})
	sort.Strings(res.Skipped)
	return res, nil
}

// IsTestFile reports whether path is a Go or Python test file
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "_test.go"):
		return true
	case strings.HasSuffix(base, ".py"):
		return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "conftest.py"
	default:
		return false
	}
}
