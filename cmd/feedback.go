package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CanopyHQ/librarian/internal/calibration"
	"github.com/CanopyHQ/librarian/internal/feedback"
)

var (
	outcomeSuccess    bool
	outcomeConfidence float64
	outcomePacks      []string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record task feedback",
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record a task outcome",
	Long: `Record the outcome of a completed task against the context packs
that informed it. Updates pack outcome counters and applies a bounded
confidence adjustment.

Examples:
  librarian feedback outcome --success --confidence 0.8 --pack abc123
  librarian feedback outcome --confidence 0.6 --pack abc123 --pack def456`,
	RunE: func(cmd *cobra.Command, args []string) error { return runOutcome() },
}

func init() {
	outcomeCmd.Flags().BoolVar(&outcomeSuccess, "success", false, "the task succeeded")
	outcomeCmd.Flags().Float64Var(&outcomeConfidence, "confidence", 0.5, "confidence stated before the task")
	outcomeCmd.Flags().StringArrayVar(&outcomePacks, "pack", nil, "context pack id (repeatable)")
	feedbackCmd.AddCommand(outcomeCmd)
}

func runOutcome() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if len(outcomePacks) == 0 {
		return fmt.Errorf("at least one --pack is required")
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer store.Close()

	engine := calibration.NewEngine(cfg.Calibration.ReportTTL, log)
	loop := feedback.NewLoop(store, engine, feedback.Options{
		AutoInfer:                  cfg.Feedback.AutoInfer,
		MaxUpdatesPerEntityPerHour: cfg.Feedback.MaxUpdatesPerEntityPerHour,
		EventBuffer:                cfg.Feedback.EventBuffer,
		Logger:                     log,
	})

	err = loop.RecordOutcome(context.Background(), feedback.Outcome{
		TaskID:           uuid.NewString(),
		Success:          outcomeSuccess,
		StatedConfidence: outcomeConfidence,
		PackIDs:          outcomePacks,
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	result := "failure"
	if outcomeSuccess {
		result = "success"
	}
	fmt.Printf("✅ Recorded %s against %d pack(s)\n", result, len(outcomePacks))
	return nil
}
