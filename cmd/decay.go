package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var decayAmount float64

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Decay stored confidence scores",
	Long: `Apply one round of time-based decay to stored confidence scores.

Function confidence is reduced by the given amount down to the configured
floor; context pack confidence is floored at 10%. Entries already at their
floor are left untouched.

Examples:
  librarian decay
  librarian decay --amount 0.05`,
	RunE: func(cmd *cobra.Command, args []string) error { return runDecayAmount(decayAmount) },
}

func init() {
	decayCmd.Flags().Float64Var(&decayAmount, "amount", 0.1, "confidence to subtract per entry")
}

func runDecayAmount(amount float64) error {
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

	fmt.Println("Applying confidence decay...")
	updated, err := store.ApplyTimeDecay(context.Background(), amount)
	if err != nil {
		return fmt.Errorf("failed to apply decay: %w", err)
	}

	if updated == 0 {
		fmt.Println("✅ Nothing to decay (all entries at their floor)")
	} else {
		fmt.Printf("✅ Updated confidence for %d entries\n", updated)
	}
	return nil
}
