// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package commands implements the uota CLI: a standalone reduce-group
// coordinator and a worker loop driving the assignment core against a
// synthetic encoder.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/uota/config"
)

var (
	cfgFile     string
	rank        int
	worldSize   int
	coordinator string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "uota",
	Short: "Distributed online cluster-assignment trainer",
	Long: `uota runs the distributed online assignment engine: balanced-transport
(Sinkhorn-Knopp) soft cluster assignments with a rolling feature queue
and epoch-gated outlier reweighting of the consistency loss.

Workers synchronize through a websocket reduce group. Run one
coordinator for the group, then one "train" process per rank:

  uota coordinate --world 4 --addr :9464
  uota train -f run.yaml --rank 0 --world 4 --coordinator host:9464
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "YAML run configuration file")
	rootCmd.PersistentFlags().IntVar(&rank, "rank", -1, "worker rank (overrides config)")
	rootCmd.PersistentFlags().IntVar(&worldSize, "world", 0, "number of workers (overrides config)")
	rootCmd.PersistentFlags().StringVar(&coordinator, "coordinator", "", "coordinator host:port (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig merges the run file (or defaults) with the CLI overrides
// and validates the result. Any inconsistency aborts before the reduce
// group forms.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if rank >= 0 {
		cfg.Rank = rank
	}
	if worldSize > 0 {
		cfg.WorldSize = worldSize
	}
	if coordinator != "" {
		cfg.CoordinatorAddr = coordinator
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
