// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package assign turns raw prototype similarity scores into balanced soft
// cluster assignments via distributed Sinkhorn-Knopp normalization. Every
// worker holds a disjoint shard of the samples and runs the identical
// sequence of steps; the only cross-worker coupling is a fixed set of
// collective reductions per call, so per-iteration communication is O(1)
// reductions rather than O(N).
package assign

import (
	"context"
	"fmt"
	"math"

	"github.com/fumi-engineer/uota/collective"
	"github.com/fumi-engineer/uota/tensor"
)

// Config holds the normalization hyperparameters. Iterations is a fixed
// count shared identically by all workers — never adaptive, because a
// convergence-checked loop would desynchronize the collective reductions
// and deadlock the group.
type Config struct {
	Epsilon    float32 // temperature dividing the raw scores
	Iterations int     // Sinkhorn-Knopp inner iterations
	Stabilize  bool    // subtract the global max score before exponentiating
}

// Engine computes soft assignments from similarity scores. The reducer is
// injected so a single-process run (collective.Loopback) exercises the
// exact same code path as a multi-worker run.
type Engine struct {
	cfg  Config
	comm collective.Reducer
}

// NewEngine creates an Engine. Panics on a config the group could not
// execute in lockstep; configuration errors are fatal at startup.
func NewEngine(cfg Config, comm collective.Reducer) *Engine {
	if cfg.Epsilon <= 0 {
		panic(fmt.Sprintf("assign: epsilon must be positive, got %v", cfg.Epsilon))
	}
	if cfg.Iterations < 1 {
		panic(fmt.Sprintf("assign: iterations must be >= 1, got %d", cfg.Iterations))
	}
	if comm == nil {
		panic("assign: nil reducer")
	}
	return &Engine{cfg: cfg, comm: comm}
}

// Assign converts an N×K score matrix (N local samples against K
// prototypes) into an N×K matrix of target distributions. The working
// buffer Q is owned by this call for its duration; no intermediate state
// escapes. Every worker must call Assign the same number of times with
// the same Iterations, or the reduce group deadlocks.
//
// Zero row or column sums never raise an error: the divisions produce
// infinities which ShootInfs substitutes with the finite maximum,
// silently degrading assignment quality instead of failing the step.
func (e *Engine) Assign(ctx context.Context, scores *tensor.Tensor) (*tensor.Tensor, error) {
	if scores.Shape().NDim() != 2 {
		panic("assign: scores must be 2D")
	}
	n, k := scores.Shape().At(0), scores.Shape().At(1)
	world := e.comm.WorldSize()

	scaled := scores.Data()
	inv := 1 / e.cfg.Epsilon
	for i := range scaled {
		scaled[i] *= inv
	}

	// A shared additive shift cancels in the normalization, so subtracting
	// the global maximum is a mathematical no-op that prevents exp overflow.
	if e.cfg.Stabilize {
		m := []float32{scaled[0]}
		for _, v := range scaled[1:] {
			if v > m[0] {
				m[0] = v
			}
		}
		if err := e.comm.MaxReduce(ctx, m); err != nil {
			return nil, fmt.Errorf("assign: max-reduce: %w", err)
		}
		for i := range scaled {
			scaled[i] -= m[0]
		}
	}

	// Exponentiate and transpose into Q (K×N): rows are clusters, columns
	// are this worker's samples.
	q := tensor.New(tensor.NewShape(k, n), tensor.F32)
	qd := q.DataPtr()
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			qd[j*n+i] = float32(math.Exp(float64(scaled[i*k+j])))
		}
	}
	ShootInfs(q)

	// Global mass normalization: the one step where every worker's local
	// sum feeds every other worker's scaling.
	total := []float32{q.Sum()}
	if err := e.comm.SumReduce(ctx, total); err != nil {
		return nil, fmt.Errorf("assign: sum-reduce total mass: %w", err)
	}
	q.ScaleInPlace(1 / total[0])

	r := 1 / float32(k)       // uniform target mass per cluster row
	c := 1 / float32(world*n) // uniform target mass per global sample

	for it := 0; it < e.cfg.Iterations; it++ {
		u := q.RowSums()
		if err := e.comm.SumReduce(ctx, u); err != nil {
			return nil, fmt.Errorf("assign: sum-reduce row sums (iter %d): %w", it, err)
		}
		for i := range u {
			u[i] = r / u[i]
		}
		ShootInfsSlice(u)
		q.ScaleRowsInPlace(u)

		// Columns are this worker's own samples; no reduction needed.
		cs := q.ColSums()
		for j := range cs {
			cs[j] = c / cs[j]
		}
		q.ScaleColsInPlace(cs)
	}

	// Final per-sample renormalization, then back to N×K.
	cs := q.ColSums()
	for j := range cs {
		cs[j] = 1 / cs[j]
	}
	q.ScaleColsInPlace(cs)
	return q.Transpose(), nil
}
