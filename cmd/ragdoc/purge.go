package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var olderThan time.Duration

// purgeCmd deletes finished jobs from the database
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs older than a given age",
	Long: `Delete completed and failed jobs, with their units, embeddings and
documentation, from the database given by --db or storage.path.

Examples:
  ragdoc purge --db ragdoc.db --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if a.cfg.Storage.Path == "" {
			return fmt.Errorf("purge needs a database: set --db or storage.path")
		}
		purged, err := a.manager.Purge(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d job(s)\n", len(purged))
		for _, id := range purged {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of purged jobs")
}
