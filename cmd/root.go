package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CanopyHQ/librarian/internal/config"
	"github.com/CanopyHQ/librarian/internal/knowledge"
	"github.com/CanopyHQ/librarian/internal/workspace"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Librarian - code knowledge with calibrated confidence",
	Long:  "Workspace-local store for code knowledge, context packs and outcome-calibrated confidence.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the librarian command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	// version, status (defined in status.go)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// decay (defined in decay.go)
	rootCmd.AddCommand(decayCmd)

	// prune (defined in prune.go)
	rootCmd.AddCommand(pruneCmd)

	// calibrate (defined in calibrate.go)
	rootCmd.AddCommand(calibrateCmd)

	// feedback (defined in feedback.go)
	rootCmd.AddCommand(feedbackCmd)
}

// loadConfig loads configuration for a command invocation.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logging.BuildLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openStore builds and initializes the knowledge store for the current
// workspace. The caller must Close it.
func openStore(cfg *config.Config, log *zap.Logger) (*knowledge.Store, error) {
	root, err := workspace.Root("")
	if err != nil {
		return nil, err
	}
	dataDir := workspace.ReservedDir(root)
	if cfg.Storage.DataDir != "" {
		dataDir, err = workspace.ResolveStoragePath(dataDir, cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
	}

	store, err := knowledge.NewStore(knowledge.Options{
		DataDir:      dataDir,
		DatabaseFile: cfg.Storage.DatabaseFile,
		DecayFloor:   cfg.Storage.DecayFloor,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize knowledge store: %w", err)
	}
	return store, nil
}
