// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package config defines the run configuration for the assignment
// engine and its training loop. Inconsistencies are fatal at startup: a
// mismatch discovered mid-run (e.g. a wrong world size joining the
// reduce group) blocks the collective indefinitely instead of failing in
// a catchable way, so everything is checked before the first step.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config mirrors the run parameters consumed by the core. Queue length
// is truncated by Normalize to an exact multiple of batch size × world
// size before any buffer is allocated.
type Config struct {
	// Crop layout: NmbCrops[i] views at resolution i; CropsForAssign
	// names the crop indices whose assignments supervise the others.
	NmbCrops       []int `yaml:"nmb_crops"`
	CropsForAssign []int `yaml:"crops_for_assign"`

	// Assignment engine.
	Temperature        float32 `yaml:"temperature"`
	Epsilon            float32 `yaml:"epsilon"`
	SinkhornIterations int     `yaml:"sinkhorn_iterations"`
	Stabilize          bool    `yaml:"improve_numerical_stability"`
	FeatDim            int     `yaml:"feat_dim"`
	NmbPrototypes      int     `yaml:"nmb_prototypes"`

	// Feature queue.
	QueueLength      int `yaml:"queue_length"`
	EpochQueueStarts int `yaml:"epoch_queue_starts"`

	// Outlier arbitration.
	UOTATau         float32 `yaml:"uota_tau"`
	EpochUOTAStarts int     `yaml:"epoch_uota_starts"`

	// Optimization schedule.
	Epochs                 int     `yaml:"epochs"`
	BatchSize              int     `yaml:"batch_size"`
	BaseLR                 float32 `yaml:"base_lr"`
	FinalLR                float32 `yaml:"final_lr"`
	WarmupEpochs           int     `yaml:"warmup_epochs"`
	StartWarmup            float32 `yaml:"start_warmup"`
	FreezePrototypesNIters int     `yaml:"freeze_prototypes_niters"`

	// Distribution.
	WorldSize       int    `yaml:"world_size"`
	Rank            int    `yaml:"rank"`
	CoordinatorAddr string `yaml:"coordinator_addr"`

	// Persistence.
	DumpPath string `yaml:"dump_path"`
}

// Default returns the reference hyperparameters.
func Default() Config {
	return Config{
		NmbCrops:               []int{2},
		CropsForAssign:         []int{0, 1},
		Temperature:            0.1,
		Epsilon:                0.05,
		SinkhornIterations:     3,
		FeatDim:                128,
		NmbPrototypes:          3000,
		QueueLength:            0,
		EpochQueueStarts:       15,
		UOTATau:                350,
		EpochUOTAStarts:        100,
		Epochs:                 100,
		BatchSize:              64,
		BaseLR:                 4.8,
		FinalLR:                0,
		WarmupEpochs:           10,
		StartWarmup:            0,
		FreezePrototypesNIters: 313,
		WorldSize:              1,
		Rank:                   0,
		DumpPath:               ".",
	}
}

// Tiny returns a configuration small enough for fast unit tests.
func Tiny() Config {
	c := Default()
	c.NmbCrops = []int{2}
	c.CropsForAssign = []int{0, 1}
	c.FeatDim = 16
	c.NmbPrototypes = 8
	c.BatchSize = 4
	c.Epochs = 4
	c.WarmupEpochs = 1
	c.QueueLength = 8
	c.EpochQueueStarts = 1
	c.EpochUOTAStarts = 2
	c.FreezePrototypesNIters = 5
	return c
}

// Load reads a YAML run file over the defaults, then validates and
// normalizes it.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	c.Normalize()
	return c, nil
}

// TotalCrops returns the total number of views per sample.
func (c *Config) TotalCrops() int {
	total := 0
	for _, n := range c.NmbCrops {
		total += n
	}
	return total
}

// Validate checks every startup invariant. Any error here must abort the
// process before the reduce group forms.
func (c *Config) Validate() error {
	if len(c.NmbCrops) == 0 || c.TotalCrops() < 2 {
		return fmt.Errorf("config: need at least 2 crops, got %v", c.NmbCrops)
	}
	if len(c.CropsForAssign) == 0 {
		return fmt.Errorf("config: crops_for_assign must name at least one crop")
	}
	for _, id := range c.CropsForAssign {
		if id < 0 || id >= c.TotalCrops() {
			return fmt.Errorf("config: assign crop %d out of range [0, %d)", id, c.TotalCrops())
		}
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("config: temperature must be positive, got %v", c.Temperature)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("config: epsilon must be positive, got %v", c.Epsilon)
	}
	if c.SinkhornIterations < 1 {
		return fmt.Errorf("config: sinkhorn_iterations must be >= 1, got %d", c.SinkhornIterations)
	}
	if c.FeatDim < 1 || c.NmbPrototypes < 2 {
		return fmt.Errorf("config: invalid feature geometry: dim %d, prototypes %d", c.FeatDim, c.NmbPrototypes)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.QueueLength < 0 {
		return fmt.Errorf("config: queue_length must be >= 0, got %d", c.QueueLength)
	}
	if c.Epochs < 1 || c.WarmupEpochs < 0 || c.WarmupEpochs > c.Epochs {
		return fmt.Errorf("config: invalid epoch layout: epochs %d, warmup %d", c.Epochs, c.WarmupEpochs)
	}
	if c.WorldSize < 1 {
		return fmt.Errorf("config: world_size must be >= 1, got %d", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("config: rank %d out of range [0, %d)", c.Rank, c.WorldSize)
	}
	if c.WorldSize > 1 && c.CoordinatorAddr == "" {
		return fmt.Errorf("config: coordinator_addr required for world_size %d", c.WorldSize)
	}
	return nil
}

// Normalize truncates the queue length to the nearest lower multiple of
// batch size × world size, so insertion stays aligned to whole batches
// on every worker.
func (c *Config) Normalize() {
	c.QueueLength -= c.QueueLength % (c.BatchSize * c.WorldSize)
}
