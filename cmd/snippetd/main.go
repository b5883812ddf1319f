package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-arndt/snippetd/internal/config"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "snippetd",
	Short: "snippetd - run submitted code snippets in throwaway containers",
	Long: `snippetd watches a snippet store for programs flagged to run, builds a
container image for each one, streams its output back into the store and
tears everything down when the program exits or its lifetime runs out.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to snippetd.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and builds the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, logger, nil
}
