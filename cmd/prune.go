package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/librarian/internal/knowledge"
)

var (
	pruneMaxEntries int
	pruneMaxAge     time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune the query cache",
	Long: `Remove expired and excess query cache entries.

Entries older than --max-age are removed first; if the remaining count
still exceeds --max-entries, the oldest entries are removed until the cap
is met. A zero value disables that half of the policy.

Examples:
  librarian prune
  librarian prune --max-entries 500 --max-age 72h`,
	RunE: func(cmd *cobra.Command, args []string) error { return runPrune() },
}

func init() {
	pruneCmd.Flags().IntVar(&pruneMaxEntries, "max-entries", 0, "maximum entries to keep (0 uses config)")
	pruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 0, "maximum entry age (0 uses config)")
}

func runPrune() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	maxEntries := pruneMaxEntries
	if maxEntries == 0 {
		maxEntries = cfg.Cache.MaxEntries
	}
	maxAge := pruneMaxAge
	if maxAge == 0 {
		maxAge = cfg.Cache.MaxAge
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer store.Close()

	removed, err := store.PruneQueryCache(context.Background(), knowledge.PruneOptions{
		MaxEntries: maxEntries,
		MaxAge:     maxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to prune query cache: %w", err)
	}

	if removed == 0 {
		fmt.Println("✅ Query cache already within limits")
	} else {
		fmt.Printf("✅ Removed %d cache entries\n", removed)
	}
	return nil
}
