// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package collective

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the worker-side Reducer over a websocket connection to the
// group Coordinator. One Client per worker process; reductions must be
// issued by the single goroutine driving the training step, in the same
// order on every rank.
type Client struct {
	conn    *websocket.Conn
	rank    int
	world   int
	session string
	seq     uint64

	frames    chan frame
	readErr   chan error
	closeOnce sync.Once
}

// Dial connects to the coordinator at url (ws://host:port/...), performs
// the join handshake and starts the background reader.
func Dial(ctx context.Context, url string, rank, world int) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("collective: dial %s: %w", url, err)
	}

	if err := writeFrame(conn, frame{Type: frameJoin, Rank: rank, World: world}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("collective: join: %w", err)
	}
	ack, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("collective: join ack: %w", err)
	}
	if ack.Type == frameError {
		_ = conn.Close()
		return nil, fmt.Errorf("collective: join rejected: %s", ack.Err)
	}
	if ack.Type != frameJoinAck {
		_ = conn.Close()
		return nil, fmt.Errorf("collective: unexpected handshake frame type %d", ack.Type)
	}

	c := &Client{
		conn:    conn,
		rank:    rank,
		world:   world,
		session: ack.Session,
		frames:  make(chan frame, 1),
		readErr: make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

// Rank returns this worker's rank.
func (c *Client) Rank() int { return c.rank }

// WorldSize returns the group size.
func (c *Client) WorldSize() int { return c.world }

// Session returns the group session ID assigned by the coordinator.
func (c *Client) Session() string { return c.session }

// SumReduce overwrites values with the elementwise sum across the group.
func (c *Client) SumReduce(ctx context.Context, values []float32) error {
	return c.reduce(ctx, OpSum, values)
}

// MaxReduce overwrites values with the elementwise max across the group.
func (c *Client) MaxReduce(ctx context.Context, values []float32) error {
	return c.reduce(ctx, OpMax, values)
}

func (c *Client) reduce(ctx context.Context, op ReduceOp, values []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq := c.seq
	c.seq++

	if err := writeFrame(c.conn, frame{Type: frameReduce, Rank: c.rank, Seq: seq, Op: op, Values: values}); err != nil {
		return fmt.Errorf("collective: send %s seq %d: %w", op, seq, err)
	}

	select {
	case f := <-c.frames:
		if f.Type == frameError {
			return fmt.Errorf("collective: group failed: %s", f.Err)
		}
		if f.Type != frameResult || f.Seq != seq {
			return fmt.Errorf("collective: out of lockstep: got frame type %d seq %d, want result seq %d", f.Type, f.Seq, seq)
		}
		if len(f.Values) != len(values) {
			return fmt.Errorf("collective: result length %d != %d", len(f.Values), len(values))
		}
		copy(values, f.Values)
		return nil
	case err := <-c.readErr:
		return fmt.Errorf("collective: connection lost: %w", err)
	case <-ctx.Done():
		// The group cannot recover from an abandoned reduction; tear the
		// connection down so the coordinator fails the group loudly.
		_ = c.conn.Close()
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			c.readErr <- err
			return
		}
		c.frames <- f
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}
