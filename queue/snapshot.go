// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the msgpack-encoded on-disk form of a Queue. One file per
// worker, keyed by rank; the buffer and its warm latches survive a
// process restart together so a restored queue resumes exactly as warm
// as it was.
type snapshot struct {
	Groups int         `msgpack:"groups"`
	Rows   int         `msgpack:"rows"`
	Dim    int         `msgpack:"dim"`
	Warm   []bool      `msgpack:"warm"`
	Data   [][]float32 `msgpack:"data"`
}

// SnapshotPath returns the per-rank snapshot file under dir.
func SnapshotPath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("queue%d.msgpack", rank))
}

// Save writes the queue to path atomically (temp file + rename).
func (q *Queue) Save(path string) error {
	data, err := msgpack.Marshal(snapshot{
		Groups: q.groups,
		Rows:   q.rows,
		Dim:    q.dim,
		Warm:   q.warm,
		Data:   q.buf,
	})
	if err != nil {
		return fmt.Errorf("queue: encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("queue: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("queue: rename snapshot: %w", err)
	}
	return nil
}

// Restore loads a queue snapshot. A missing file is not an error: it
// returns (nil, nil) and the caller starts cold, re-warming naturally as
// training proceeds.
func Restore(path string) (*Queue, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read snapshot: %w", err)
	}
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("queue: decode snapshot: %w", err)
	}
	if s.Groups != len(s.Data) || s.Groups != len(s.Warm) {
		return nil, fmt.Errorf("queue: snapshot inconsistent: %d groups, %d buffers, %d latches", s.Groups, len(s.Data), len(s.Warm))
	}
	q := New(s.Groups, s.Rows, s.Dim)
	for g, b := range s.Data {
		if len(b) != s.Rows*s.Dim {
			return nil, fmt.Errorf("queue: snapshot group %d has %d values, want %d", g, len(b), s.Rows*s.Dim)
		}
		copy(q.buf[g], b)
	}
	copy(q.warm, s.Warm)
	return q, nil
}
