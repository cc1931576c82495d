// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package commands

import (
	"math/rand"

	"github.com/fumi-engineer/uota/config"
	"github.com/fumi-engineer/uota/tensor"
	"github.com/fumi-engineer/uota/train"
)

// syntheticEncoder stands in for the out-of-scope backbone: it emits
// unit-normalized pseudo-random embeddings, their prototype similarities
// and near-uniform outlier weights, deterministically per rank and seed,
// so the full distributed loop runs end to end without a real model.
type syntheticEncoder struct {
	cfg config.Config
	rng *rand.Rand
}

func newSyntheticEncoder(cfg config.Config, seed int64) *syntheticEncoder {
	return &syntheticEncoder{cfg: cfg, rng: rand.New(rand.NewSource(seed + int64(cfg.Rank)))}
}

// Next produces one step's encoder outputs against the current
// prototypes.
func (e *syntheticEncoder) Next(prototypes *tensor.Tensor) train.StepInputs {
	n := e.cfg.BatchSize * e.cfg.TotalCrops()
	d := e.cfg.FeatDim

	data := make([]float32, n*d)
	for i := range data {
		data[i] = float32(e.rng.NormFloat64())
	}
	emb := tensor.FromSlice(data, tensor.NewShape(n, d))
	emb.NormalizeRowsL2()

	weights := make([]float32, n)
	for i := range weights {
		w := 1 + 0.1*e.rng.NormFloat64()
		if w < 0 {
			w = 0
		}
		weights[i] = float32(w)
	}

	return train.StepInputs{
		Embeddings:    emb,
		Output:        tensor.MatmulTransposedB(emb, prototypes),
		SampleWeights: weights,
	}
}
