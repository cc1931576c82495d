// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/fumi-engineer/uota/collective"
	"github.com/fumi-engineer/uota/config"
	"github.com/fumi-engineer/uota/tensor"
	"github.com/fumi-engineer/uota/train"
)

var (
	itersPerEpoch int
	seed          int64
	logEvery      int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one worker of the assignment training loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runTrain(cmd.Context(), cfg)
	},
}

func init() {
	trainCmd.Flags().IntVar(&itersPerEpoch, "iters-per-epoch", 50, "steps per epoch for the synthetic encoder")
	trainCmd.Flags().Int64Var(&seed, "seed", 31, "base random seed")
	trainCmd.Flags().IntVar(&logEvery, "log-every", 10, "log every N steps on rank 0")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(ctx context.Context, cfg config.Config) error {
	reducer, cleanup, err := buildReducer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Prototypes are shared model state: every rank seeds them
	// identically so the cluster geometry starts in agreement.
	protoRng := rand.New(rand.NewSource(seed))
	protoData := make([]float32, cfg.NmbPrototypes*cfg.FeatDim)
	for i := range protoData {
		protoData[i] = float32(protoRng.NormFloat64())
	}
	prototypes := tensor.FromSlice(protoData, tensor.NewShape(cfg.NmbPrototypes, cfg.FeatDim))
	prototypes.NormalizeRowsL2()

	trainer, err := train.NewTrainer(cfg, reducer, prototypes, itersPerEpoch)
	if err != nil {
		return err
	}
	if trainer.Queue() != nil {
		slog.Info("feature queue restored from snapshot")
	}

	enc := newSyntheticEncoder(cfg, seed)
	start := time.Now()

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		trainer.BeginEpoch(epoch)
		if cfg.Rank == 0 {
			slog.Info("starting epoch", "epoch", epoch,
				"queue", trainer.Queue() != nil,
				"uota", epoch+1 > cfg.EpochUOTAStarts)
		}

		for it := 0; it < itersPerEpoch; it++ {
			iteration := epoch*itersPerEpoch + it
			in := enc.Next(trainer.Prototypes())

			l, err := trainer.Step(ctx, epoch, in)
			if err != nil {
				return err
			}

			if cfg.Rank == 0 && it%logEvery == 0 {
				slog.Info("step",
					"epoch", epoch, "it", it,
					"loss", fmt.Sprintf("%.4f", l),
					"avg", fmt.Sprintf("%.4f", trainer.Losses().Avg()),
					"lr", fmt.Sprintf("%.4f", trainer.LR(iteration)),
					"protos_frozen", trainer.FreezePrototypes(iteration))
			}
		}

		if err := trainer.SaveQueue(); err != nil {
			return err
		}
	}

	slog.Info("training done", "epochs", cfg.Epochs, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// buildReducer returns the reduce channel for this worker: the in-process
// loopback for a single-worker run, otherwise a websocket client dialed
// to the group coordinator (with a short retry window so workers may
// start before it).
func buildReducer(ctx context.Context, cfg config.Config) (collective.Reducer, func(), error) {
	if cfg.WorldSize == 1 {
		return collective.Loopback{}, func() {}, nil
	}

	url := "ws://" + cfg.CoordinatorAddr + "/reduce"
	var lastErr error
	for attempt := 0; attempt < 20; attempt++ {
		client, err := collective.Dial(ctx, url, cfg.Rank, cfg.WorldSize)
		if err == nil {
			slog.Info("joined reduce group", "rank", cfg.Rank, "world", cfg.WorldSize, "session", client.Session())
			return client, func() { _ = client.Close() }, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, nil, fmt.Errorf("join reduce group at %s: %w", cfg.CoordinatorAddr, lastErr)
}
