package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"workflow_tracker/internal/config"
	"workflow_tracker/internal/core"
	"workflow_tracker/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile      string
	trackersFile string

	cfg *config.Config
)

// Execute is the main entry point called from main.go.
func Execute(version string) {
	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Session-correlated callback and poll tracker for external AI workflows",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&trackersFile, "trackers", "", "trackers YAML file (default $TRACKERS_FILE or trackers.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPollCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newVersionCmd(version))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads .env, the environment and the logger.
func initConfig() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", envFile, err)
	}

	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}
	if trackersFile != "" {
		cfg.TrackersFile = trackersFile
	}

	return logger.InitLogger(cfg.LogConfig)
}

// loadTrackers reads the trackers file, falling back to the built-ins.
func loadTrackers() ([]core.TrackerConfig, error) {
	y, err := config.LoadTrackers(cfg.TrackersFile)
	if err != nil {
		return nil, err
	}
	if y == nil {
		logger.Debug().Str("file", cfg.TrackersFile).Msg("trackers file not found, using built-in trackers")
	}
	return core.TrackersFromYAML(y)
}

func findTracker(trackers []core.TrackerConfig, name string) (core.TrackerConfig, error) {
	for _, t := range trackers {
		if t.Name == name {
			return t, nil
		}
	}
	return core.TrackerConfig{}, fmt.Errorf("unknown tracker %q", name)
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
