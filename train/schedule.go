// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math"

	"github.com/fumi-engineer/uota/config"
)

// Schedule precomputes the per-iteration learning rate: linear warmup
// from StartWarmup to BaseLR over the warmup epochs, then cosine decay
// to FinalLR. When the UOTA epoch begins, the cosine tail is rebuilt
// around 2×BaseLR (the warmup segment is left as originally built).
type Schedule struct {
	cfg           config.Config
	itersPerEpoch int
	lr            []float32
}

// NewSchedule builds the schedule for a run of cfg.Epochs epochs with
// itersPerEpoch steps each.
func NewSchedule(cfg config.Config, itersPerEpoch int) *Schedule {
	s := &Schedule{cfg: cfg, itersPerEpoch: itersPerEpoch}
	s.rebuild(cfg.BaseLR)
	return s
}

// rebuild regenerates the full table with the given cosine peak.
func (s *Schedule) rebuild(cosineBase float32) {
	warmupIters := s.itersPerEpoch * s.cfg.WarmupEpochs
	cosineIters := s.itersPerEpoch * (s.cfg.Epochs - s.cfg.WarmupEpochs)
	lr := make([]float32, 0, warmupIters+cosineIters)

	for i := 0; i < warmupIters; i++ {
		frac := float32(0)
		if warmupIters > 1 {
			frac = float32(i) / float32(warmupIters-1)
		}
		lr = append(lr, s.cfg.StartWarmup+(s.cfg.BaseLR-s.cfg.StartWarmup)*frac)
	}
	for t := 0; t < cosineIters; t++ {
		cos := float32(math.Cos(math.Pi * float64(t) / float64(cosineIters)))
		lr = append(lr, s.cfg.FinalLR+0.5*(cosineBase-s.cfg.FinalLR)*(1+cos))
	}
	s.lr = lr
}

// BeginEpoch applies epoch-boundary schedule changes: entering the UOTA
// epoch doubles the cosine peak.
func (s *Schedule) BeginEpoch(epoch int) {
	if epoch == s.cfg.EpochUOTAStarts {
		s.rebuild(s.cfg.BaseLR * 2)
	}
}

// LR returns the learning rate for a global iteration index
// (epoch·itersPerEpoch + step), clamped to the final table entry.
func (s *Schedule) LR(iteration int) float32 {
	if iteration < 0 {
		iteration = 0
	}
	if iteration >= len(s.lr) {
		iteration = len(s.lr) - 1
	}
	return s.lr[iteration]
}
