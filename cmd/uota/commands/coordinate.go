// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/uota/collective"
)

var coordinateAddr string

var coordinateCmd = &cobra.Command{
	Use:   "coordinate",
	Short: "Host the reduce group coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if worldSize < 1 {
			return fmt.Errorf("coordinate: --world is required")
		}
		coord := collective.NewCoordinator(worldSize, slog.Default())
		slog.Info("coordinator listening", "addr", coordinateAddr, "world", worldSize, "session", coord.Session())

		done := make(chan error, 1)
		go func() { done <- coord.ListenAndServe(coordinateAddr) }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-done:
			return err
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			return coord.Close()
		}
	},
}

func init() {
	coordinateCmd.Flags().StringVar(&coordinateAddr, "addr", ":9464", "listen address")
	rootCmd.AddCommand(coordinateCmd)
}
