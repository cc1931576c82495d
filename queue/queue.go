// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package queue implements the rolling cross-batch feature queue: one
// fixed-capacity FIFO ring of recently observed embeddings per
// assignment crop group. The buffer is process-local state, read then
// written exactly once per applicable training step by the single
// goroutine driving that worker's step, so no locking is needed.
package queue

import (
	"fmt"

	"github.com/fumi-engineer/uota/tensor"
)

// Queue holds one embedding ring per crop group. Rows is the per-worker
// capacity (configured queue length divided by world size, already
// truncated to a multiple of batchSize×worldSize by the configuration
// layer). Newest rows sit at the front of each buffer.
type Queue struct {
	groups int
	rows   int
	dim    int
	buf    [][]float32 // one rows×dim flat buffer per group
	warm   []bool      // one-way latch per group, never resets in a run
}

// New allocates a cold queue.
func New(groups, rows, dim int) *Queue {
	if groups < 1 || rows < 1 || dim < 1 {
		panic(fmt.Sprintf("queue: invalid dimensions groups=%d rows=%d dim=%d", groups, rows, dim))
	}
	buf := make([][]float32, groups)
	for g := range buf {
		buf[g] = make([]float32, rows*dim)
	}
	return &Queue{groups: groups, rows: rows, dim: dim, buf: buf, warm: make([]bool, groups)}
}

// Groups returns the number of crop groups.
func (q *Queue) Groups() int { return q.groups }

// Rows returns the per-worker capacity in embeddings.
func (q *Queue) Rows() int { return q.rows }

// Dim returns the embedding dimension.
func (q *Queue) Dim() int { return q.dim }

// Push inserts a batch of fresh embeddings at the front of the group's
// buffer, shifting the existing content down and dropping the oldest
// batch. The warm latch is set the first time a push leaves a nonzero
// value in the buffer's final row — i.e. once the ring has been filled
// with real data — and never resets afterwards, even if a later batch
// happens to be all-zero.
func (q *Queue) Push(group int, emb *tensor.Tensor) {
	q.checkGroup(group)
	if emb.Shape().NDim() != 2 || emb.Shape().At(1) != q.dim {
		panic(fmt.Sprintf("queue: embeddings shape %v incompatible with dim %d", emb.Shape(), q.dim))
	}
	bs := emb.Shape().At(0)
	if bs > q.rows {
		panic(fmt.Sprintf("queue: batch of %d rows exceeds capacity %d", bs, q.rows))
	}

	b := q.buf[group]
	copy(b[bs*q.dim:], b[:(q.rows-bs)*q.dim])
	copy(b[:bs*q.dim], emb.DataPtr())

	if !q.warm[group] {
		last := b[(q.rows-1)*q.dim:]
		for _, v := range last {
			if v != 0 {
				q.warm[group] = true
				break
			}
		}
	}
}

// IsWarm reports whether the group's latch has been set.
func (q *Queue) IsWarm(group int) bool {
	q.checkGroup(group)
	return q.warm[group]
}

// ReadIfWarm returns a copy of the group's buffer (rows×dim, newest
// first) when the group is warm, or (nil, false) while the historical
// entries are not yet legitimate to use.
func (q *Queue) ReadIfWarm(group int) (*tensor.Tensor, bool) {
	q.checkGroup(group)
	if !q.warm[group] {
		return nil, false
	}
	return tensor.FromSlice(q.buf[group], tensor.NewShape(q.rows, q.dim)), true
}

func (q *Queue) checkGroup(group int) {
	if group < 0 || group >= q.groups {
		panic(fmt.Sprintf("queue: group %d out of range [0, %d)", group, q.groups))
	}
}
