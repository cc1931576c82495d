// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package train owns the per-iteration control flow around the
// assignment engine: prototype renormalization, queue integration,
// assignment targets, the outlier-weighted loss and the learning-rate
// schedule. The encoder itself is an external collaborator; Step
// consumes its tensors and produces the scalar loss.
package train

import (
	"context"
	"fmt"

	"github.com/fumi-engineer/uota/assign"
	"github.com/fumi-engineer/uota/collective"
	"github.com/fumi-engineer/uota/config"
	"github.com/fumi-engineer/uota/loss"
	"github.com/fumi-engineer/uota/queue"
	"github.com/fumi-engineer/uota/tensor"
)

// StepInputs carries one iteration's encoder outputs for a batch of B
// samples and C total crops. Embeddings are treated as detached: the
// core never writes to them.
type StepInputs struct {
	Embeddings    *tensor.Tensor // (B·C)×D projection-head embeddings
	Output        *tensor.Tensor // (B·C)×K prototype similarity logits
	SampleWeights []float32      // length B·C, required once UOTA is active
}

// Trainer drives one worker's share of the training step. All state here
// is step-scoped except the feature queue, which persists across steps
// and (via its snapshot) across restarts.
type Trainer struct {
	cfg    config.Config
	comm   collective.Reducer
	engine *assign.Engine
	queue  *queue.Queue   // nil until the activation epoch (or restore)
	protos *tensor.Tensor // K×D prototype matrix, re-normalized per step
	sched  *Schedule
	losses AverageMeter
}

// NewTrainer wires the engine, schedule and (if a snapshot exists) the
// restored feature queue. The reducer's world size must agree with the
// configuration: a mismatched reduce group blocks forever mid-run, so it
// is rejected here.
func NewTrainer(cfg config.Config, comm collective.Reducer, prototypes *tensor.Tensor, itersPerEpoch int) (*Trainer, error) {
	if comm.WorldSize() != cfg.WorldSize {
		return nil, fmt.Errorf("train: reducer world size %d != configured %d", comm.WorldSize(), cfg.WorldSize)
	}
	if comm.Rank() != cfg.Rank {
		return nil, fmt.Errorf("train: reducer rank %d != configured %d", comm.Rank(), cfg.Rank)
	}
	shape := prototypes.Shape()
	if shape.NDim() != 2 || shape.At(0) != cfg.NmbPrototypes || shape.At(1) != cfg.FeatDim {
		return nil, fmt.Errorf("train: prototypes shape %v, want [%d, %d]", shape, cfg.NmbPrototypes, cfg.FeatDim)
	}

	t := &Trainer{
		cfg:    cfg,
		comm:   comm,
		engine: assign.NewEngine(assign.Config{Epsilon: cfg.Epsilon, Iterations: cfg.SinkhornIterations, Stabilize: cfg.Stabilize}, comm),
		protos: prototypes,
		sched:  NewSchedule(cfg, itersPerEpoch),
	}

	if cfg.QueueLength > 0 {
		q, err := queue.Restore(queue.SnapshotPath(cfg.DumpPath, cfg.Rank))
		if err != nil {
			return nil, err
		}
		t.queue = q // nil when no snapshot: cold start, re-warms naturally
	}
	return t, nil
}

// BeginEpoch applies epoch-boundary behavior: the schedule's UOTA
// rescale, and lazy allocation of the feature queue once its start epoch
// is reached (unless a restored snapshot already provided one).
func (t *Trainer) BeginEpoch(epoch int) {
	t.sched.BeginEpoch(epoch)
	t.losses.Reset()
	if t.cfg.QueueLength > 0 && epoch >= t.cfg.EpochQueueStarts && t.queue == nil {
		t.queue = queue.New(len(t.cfg.CropsForAssign), t.cfg.QueueLength/t.cfg.WorldSize, t.cfg.FeatDim)
	}
}

// LR returns the learning rate for a global iteration index.
func (t *Trainer) LR(iteration int) float32 { return t.sched.LR(iteration) }

// FreezePrototypes reports whether prototype gradients must be zeroed
// (not scaled) at this iteration, keeping the cluster geometry fixed
// while the encoder stabilizes.
func (t *Trainer) FreezePrototypes(iteration int) bool {
	return iteration < t.cfg.FreezePrototypesNIters
}

// Prototypes exposes the prototype matrix for the optimizer.
func (t *Trainer) Prototypes() *tensor.Tensor { return t.protos }

// Losses exposes the epoch's running loss meter.
func (t *Trainer) Losses() *AverageMeter { return &t.losses }

// Queue exposes the feature queue (nil while inactive).
func (t *Trainer) Queue() *queue.Queue { return t.queue }

// Step runs one iteration of the assignment core: re-normalize the
// prototypes, compute the assignment targets per crop group (prepending
// queued embeddings when the queue is warm, keeping only the current
// batch's rows), push the fresh embeddings, and evaluate the loss.
func (t *Trainer) Step(ctx context.Context, epoch int, in StepInputs) (float32, error) {
	bs := t.cfg.BatchSize
	total := t.cfg.TotalCrops()
	if in.Output.Shape().At(0) != bs*total {
		return 0, fmt.Errorf("train: output rows %d != batch %d x crops %d", in.Output.Shape().At(0), bs, total)
	}

	t.protos.NormalizeRowsL2()

	assignments := make([]*tensor.Tensor, len(t.cfg.CropsForAssign))
	for i, cropID := range t.cfg.CropsForAssign {
		scores := in.Output.SliceRows(bs*cropID, bs*(cropID+1))

		if t.queue != nil {
			if hist, ok := t.queue.ReadIfWarm(i); ok {
				scores = tensor.ConcatRows(tensor.MatmulTransposedB(hist, t.protos), scores)
			}
			t.queue.Push(i, in.Embeddings.SliceRows(cropID*bs, (cropID+1)*bs))
		}

		q, err := t.engine.Assign(ctx, scores)
		if err != nil {
			return 0, fmt.Errorf("train: crop %d: %w", cropID, err)
		}
		rows := q.Shape().At(0)
		assignments[i] = q.SliceRows(rows-bs, rows)
	}

	l := loss.Compute(assignments, t.cfg.CropsForAssign, in.Output, in.SampleWeights, total, epoch, loss.Config{
		Temperature:    t.cfg.Temperature,
		UOTAStartEpoch: t.cfg.EpochUOTAStarts,
	})
	t.losses.Update(float64(l), bs)
	return l, nil
}

// SaveQueue snapshots the feature queue to the per-rank file under the
// dump path. A nil (inactive) queue is a no-op.
func (t *Trainer) SaveQueue() error {
	if t.queue == nil {
		return nil
	}
	return t.queue.Save(queue.SnapshotPath(t.cfg.DumpPath, t.cfg.Rank))
}
