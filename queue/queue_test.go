// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package queue

import (
	"path/filepath"
	"testing"

	"github.com/fumi-engineer/uota/tensor"
)

func batch(vals ...float32) *tensor.Tensor {
	return tensor.FromSlice(vals, tensor.NewShape(len(vals)/2, 2))
}

func TestPushKeepsNewestFirst(t *testing.T) {
	q := New(1, 4, 2)

	q.Push(0, batch(1, 1, 2, 2))
	q.Push(0, batch(3, 3, 4, 4))

	hist, ok := q.ReadIfWarm(0)
	if !ok {
		t.Fatal("queue should be warm after filling all rows")
	}
	want := []float32{3, 3, 4, 4, 1, 1, 2, 2}
	for i, v := range hist.DataPtr() {
		if v != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], v)
		}
	}
}

func TestPushDropsOldestBatch(t *testing.T) {
	q := New(1, 4, 2)
	q.Push(0, batch(1, 1, 2, 2))
	q.Push(0, batch(3, 3, 4, 4))
	q.Push(0, batch(5, 5, 6, 6))

	hist, _ := q.ReadIfWarm(0)
	want := []float32{5, 5, 6, 6, 3, 3, 4, 4}
	for i, v := range hist.DataPtr() {
		if v != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], v)
		}
	}
}

func TestColdUntilFinalRowNonzero(t *testing.T) {
	q := New(1, 4, 2)

	if q.IsWarm(0) {
		t.Fatal("fresh queue must be cold")
	}
	q.Push(0, batch(1, 1, 2, 2))
	if q.IsWarm(0) {
		t.Fatal("half-filled queue must still be cold")
	}
	if hist, ok := q.ReadIfWarm(0); ok || hist != nil {
		t.Fatal("cold read must return (nil, false)")
	}

	q.Push(0, batch(3, 3, 4, 4))
	if !q.IsWarm(0) {
		t.Fatal("queue must be warm once real data reaches the final row")
	}
}

func TestWarmLatchSurvivesZeroPushes(t *testing.T) {
	q := New(1, 4, 2)
	q.Push(0, batch(1, 1, 2, 2))
	q.Push(0, batch(3, 3, 4, 4))

	// All-zero batches after warm-up must not reset the latch.
	q.Push(0, batch(0, 0, 0, 0))
	q.Push(0, batch(0, 0, 0, 0))
	if !q.IsWarm(0) {
		t.Fatal("warm latch reset by zero batch")
	}
	if _, ok := q.ReadIfWarm(0); !ok {
		t.Fatal("warm queue refused a read")
	}
}

func TestAllZeroPushesNeverWarm(t *testing.T) {
	q := New(1, 2, 2)
	q.Push(0, batch(0, 0))
	q.Push(0, batch(0, 0))
	q.Push(0, batch(0, 0))
	if q.IsWarm(0) {
		t.Fatal("queue warmed on zero data")
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	q := New(2, 2, 2)
	q.Push(0, batch(1, 1))
	q.Push(0, batch(2, 2))

	if !q.IsWarm(0) {
		t.Fatal("group 0 should be warm")
	}
	if q.IsWarm(1) {
		t.Fatal("group 1 must stay cold")
	}
}

func TestReadReturnsCopy(t *testing.T) {
	q := New(1, 2, 2)
	q.Push(0, batch(1, 1))
	q.Push(0, batch(2, 2))

	hist, _ := q.ReadIfWarm(0)
	hist.Set(99, 0, 0)

	again, _ := q.ReadIfWarm(0)
	if again.At(0, 0) == 99 {
		t.Fatal("ReadIfWarm aliases the internal buffer")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := SnapshotPath(dir, 0)

	q := New(2, 2, 2)
	q.Push(0, batch(1, 1))
	q.Push(0, batch(2, 2))
	if err := q.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, err := Restore(path)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored == nil {
		t.Fatal("expected a restored queue")
	}
	if restored.Groups() != 2 || restored.Rows() != 2 || restored.Dim() != 2 {
		t.Fatalf("restored dimensions %d/%d/%d", restored.Groups(), restored.Rows(), restored.Dim())
	}
	if !restored.IsWarm(0) || restored.IsWarm(1) {
		t.Fatalf("warm latches lost in round trip: %v %v", restored.IsWarm(0), restored.IsWarm(1))
	}

	hist, ok := restored.ReadIfWarm(0)
	if !ok {
		t.Fatal("restored warm group refused a read")
	}
	want := []float32{2, 2, 1, 1}
	for i, v := range hist.DataPtr() {
		if v != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], v)
		}
	}
}

func TestRestoreMissingFileIsColdStart(t *testing.T) {
	q, err := Restore(filepath.Join(t.TempDir(), "queue7.msgpack"))
	if err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if q != nil {
		t.Fatal("missing snapshot should return nil queue")
	}
}

func TestSnapshotPathIsPerRank(t *testing.T) {
	a := SnapshotPath("/tmp/run", 0)
	b := SnapshotPath("/tmp/run", 1)
	if a == b {
		t.Fatalf("ranks share a snapshot path: %s", a)
	}
}
