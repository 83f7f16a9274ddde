package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/librarian/internal/calibration"
)

var calibrateBuckets int

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Compute a calibration report",
	Long: `Compute Expected and Maximum Calibration Error from recorded
context pack outcomes.

Examples:
  librarian calibrate
  librarian calibrate --buckets 5`,
	RunE: func(cmd *cobra.Command, args []string) error { return runCalibrate() },
}

func init() {
	calibrateCmd.Flags().IntVar(&calibrateBuckets, "buckets", 0, "confidence bucket count (0 uses config)")
}

func runCalibrate() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	buckets := calibrateBuckets
	if buckets == 0 {
		buckets = cfg.Calibration.BucketCount
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer store.Close()

	engine := calibration.NewEngine(cfg.Calibration.ReportTTL, log)
	report, err := engine.FromStore(context.Background(), store, calibration.FromStoreOptions{BucketCount: buckets})
	if err != nil {
		return fmt.Errorf("failed to compute calibration: %w", err)
	}

	if report.SampleCount == 0 {
		fmt.Println("No observed pack outcomes yet; nothing to calibrate.")
		return nil
	}

	fmt.Printf("Samples:          %d\n", report.SampleCount)
	fmt.Printf("Overall accuracy: %.1f%%\n", report.OverallAccuracy*100)
	fmt.Printf("ECE:              %.4f\n", report.ECE)
	fmt.Printf("MCE:              %.4f\n", report.MCE)
	fmt.Println()
	fmt.Println("Bucket     Count  AvgConf  Accuracy  Error")
	for _, b := range report.Buckets {
		if b.Count == 0 {
			continue
		}
		fmt.Printf("%.1f-%.1f  %7d  %7.3f  %8.3f  %5.3f\n",
			b.Lower, b.Upper, b.Count, b.AvgConfidence, b.Accuracy, b.Error)
	}
	return nil
}
