// Package main implements the ragdoc CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Global flags
var (
	configPath  string
	logLevel    string
	storagePath string
	metricsAddr string
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragdoc",
	Short: "Generate documentation for Go and Python repositories",
	Long: `ragdoc parses a repository into modules, classes and functions, embeds
every unit, and generates documentation bottom-up: each unit is described
from its own code, its closest neighbors and the documentation of its
members, ending with a project summary.

Configuration is read from an optional YAML file and RAGDOC_* environment
variables (a .env file in the working directory is loaded first).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "db", "", "SQLite database path (overrides storage.path; empty keeps jobs in memory)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}
