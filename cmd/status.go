package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("librarian %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge store status",
	Long: `Show the knowledge store contents and schema version for the
current workspace.

Examples:
  librarian status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runStatus() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read store stats: %w", err)
	}

	fmt.Printf("Database:      %s (%s)\n", store.DatabasePath(), stats.DatabaseSize)
	fmt.Printf("Schema:        v%d\n", stats.SchemaVersion)
	fmt.Printf("Functions:     %d\n", stats.Functions)
	fmt.Printf("Context packs: %d\n", stats.ContextPacks)
	fmt.Printf("Embeddings:    %d\n", stats.Embeddings)
	fmt.Printf("Cache entries: %d\n", stats.QueryCacheEntries)
	return nil
}
