// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package collective provides the synchronous cross-worker reductions the
// assignment engine depends on. Reductions are blocking and in-place:
// every worker must call each reduction exactly once, in the same order,
// or the group deadlocks. There is deliberately no timeout inside a
// reduction: a stalled worker stalls all workers.
package collective

import "context"

// ReduceOp names an elementwise reduction.
type ReduceOp string

const (
	OpSum ReduceOp = "sum"
	OpMax ReduceOp = "max"
)

// Reducer is the injected communication surface of the assignment engine.
// SumReduce and MaxReduce overwrite values with the elementwise reduction
// of all workers' contributions.
type Reducer interface {
	Rank() int
	WorldSize() int
	SumReduce(ctx context.Context, values []float32) error
	MaxReduce(ctx context.Context, values []float32) error
}

// Loopback is the identity Reducer for a single-worker run. It makes the
// engine testable in-process: reducing over one participant is a no-op.
type Loopback struct{}

// Rank returns 0, the only rank in a loopback world.
func (Loopback) Rank() int { return 0 }

// WorldSize returns 1.
func (Loopback) WorldSize() int { return 1 }

// SumReduce leaves values unchanged.
func (Loopback) SumReduce(ctx context.Context, values []float32) error { return ctx.Err() }

// MaxReduce leaves values unchanged.
func (Loopback) MaxReduce(ctx context.Context, values []float32) error { return ctx.Err() }
