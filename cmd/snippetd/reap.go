package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-arndt/snippetd/internal/docker"
	"github.com/p-arndt/snippetd/internal/reaper"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove containers and images left behind by a previous daemon",
	Long: `Force-remove every container and image labelled as managed by snippetd.
Do not run this while a daemon is serving: its live containers would be
removed as well.`,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	dc, err := docker.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer dc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TeardownTimeout())
	defer cancel()
	if err := dc.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed, is Docker running? %w", err)
	}

	reaper.New(nil, dc, cfg.TeardownTimeout(), logger).Reconcile(ctx)
	return nil
}
