// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package collective

// Wire frames exchanged between the coordinator and its workers.
// Every websocket message is one msgpack-encoded frame.

type frameType uint8

const (
	frameJoin frameType = iota + 1
	frameJoinAck
	frameReduce
	frameResult
	frameError
)

type frame struct {
	Type    frameType `msgpack:"t"`
	Session string    `msgpack:"s,omitempty"`
	Rank    int       `msgpack:"r"`
	World   int       `msgpack:"w,omitempty"`
	Seq     uint64    `msgpack:"q"`
	Op      ReduceOp  `msgpack:"o,omitempty"`
	Values  []float32 `msgpack:"v,omitempty"`
	Err     string    `msgpack:"e,omitempty"`
}
