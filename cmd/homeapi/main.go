package main

import (
	"fmt"
	"os"

	"homeapi/internal/config"
	"homeapi/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "homeapi",
	Short: "homeapi serves a personal notes document, metrics and a meme board",
	Long: `homeapi keeps a single plain-text notes document in sync across devices
by accepting small incremental edits, snapshots every change into git, and
also serves location metrics and an e-ink meme board.

Run it as a long-lived server with "serve" or behind a web server with "cgi".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if cmd.Name() == "serve" || cmd.Name() == "cgi" {
			logger, err = logging.NewLogger(cfg.LogLevel)
		} else {
			var dev *zap.Logger
			dev, err = zap.NewDevelopment()
			logger = &logging.Logger{Logger: dev}
		}
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cgiCmd)
	rootCmd.AddCommand(notesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
