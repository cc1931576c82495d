// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package loss implements the swapped-prediction training loss: the soft
// assignments computed for one crop group supervise the predicted cluster
// distributions of every other crop. Once the configured UOTA epoch has
// passed, each sample's cross-entropy term is additionally weighted by
// the encoder's per-sample outlier-arbitration weight.
package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fumi-engineer/uota/tensor"
)

// Config holds the loss hyperparameters.
type Config struct {
	Temperature    float32 // softmax temperature on the predicted logits
	UOTAStartEpoch int     // weighting activates the first epoch after this
}

// Compute returns the scalar training loss.
//
// assignments[i] is the batchSize×K target matrix for crop
// cropsForAssign[i]; logits is the (batchSize·totalCrops)×K similarity
// matrix for all crops; weights is the per-sample outlier weight vector
// of length batchSize·totalCrops, required only once the UOTA threshold
// is reached and ignored before it.
//
// The switch at UOTAStartEpoch is a hard epoch boundary: for
// epoch+1 == UOTAStartEpoch the terms are averaged unweighted, for
// epoch+1 == UOTAStartEpoch+1 they are weighted. There is no ramp.
func Compute(assignments []*tensor.Tensor, cropsForAssign []int, logits *tensor.Tensor, weights []float32, totalCrops, epoch int, cfg Config) float32 {
	if len(assignments) != len(cropsForAssign) {
		panic(fmt.Sprintf("loss: %d assignment groups for %d assign crops", len(assignments), len(cropsForAssign)))
	}
	if cfg.Temperature <= 0 {
		panic(fmt.Sprintf("loss: temperature must be positive, got %v", cfg.Temperature))
	}
	k := logits.Shape().At(1)
	bs := assignments[0].Shape().At(0)
	if logits.Shape().At(0) != bs*totalCrops {
		panic(fmt.Sprintf("loss: logits rows %d != batch %d x crops %d", logits.Shape().At(0), bs, totalCrops))
	}

	weighted := epoch+1 > cfg.UOTAStartEpoch
	if weighted && len(weights) != bs*totalCrops {
		panic(fmt.Sprintf("loss: %d sample weights for %d samples with UOTA active", len(weights), bs*totalCrops))
	}

	invTemp := 1 / cfg.Temperature
	terms := make([]float64, bs)
	total := 0.0

	for gi, cropID := range cropsForAssign {
		q := assignments[gi]
		if q.Shape().At(0) != bs || q.Shape().At(1) != k {
			panic(fmt.Sprintf("loss: assignment group %d shape %v, want [%d, %d]", gi, q.Shape(), bs, k))
		}
		qd := q.DataPtr()

		subloss := 0.0
		for v := 0; v < totalCrops; v++ {
			if v == cropID {
				continue
			}
			scaled := logits.SliceRows(bs*v, bs*(v+1))
			scaled.ScaleInPlace(invTemp)
			p := scaled.Softmax().DataPtr()

			for i := 0; i < bs; i++ {
				ce := 0.0
				for j := 0; j < k; j++ {
					ce += float64(qd[i*k+j]) * math.Log(float64(p[i*k+j]))
				}
				terms[i] = -ce
				if weighted {
					terms[i] *= float64(weights[bs*v+i])
				}
			}
			subloss += floats.Sum(terms) / float64(bs)
		}
		total += subloss / float64(totalCrops-1)
	}

	return float32(total / float64(len(cropsForAssign)))
}
