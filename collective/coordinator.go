// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package collective

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Coordinator hosts the reduce group. Every worker (rank 0 included)
// dials in as a Client; each reduction is a barrier: the coordinator
// collects exactly worldSize contributions for a sequence number,
// reduces them elementwise and broadcasts the result to all workers.
//
// Protocol violations (wrong world size, duplicate rank, out-of-order
// sequence, shape mismatch) are fatal for the whole group: a silent
// mismatch would desynchronize the workers permanently, so the
// coordinator errors every connection and shuts the group down instead.
type Coordinator struct {
	world    int
	session  string
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[int]*websocket.Conn
	nextSeq map[int]uint64
	pending map[uint64]*barrier
	failed  bool

	srv *http.Server
}

// barrier accumulates one in-flight reduction.
type barrier struct {
	op     ReduceOp
	values []float32
	joined map[int]bool
}

// NewCoordinator creates a coordinator for a fixed group of worldSize
// workers. The logger may be nil.
func NewCoordinator(worldSize int, log *slog.Logger) *Coordinator {
	if worldSize < 1 {
		panic("collective: world size must be >= 1")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		world:   worldSize,
		session: uuid.New().String(),
		log:     log,
		conns:   make(map[int]*websocket.Conn),
		nextSeq: make(map[int]uint64),
		pending: make(map[uint64]*barrier),
	}
}

// Session returns the group's session ID.
func (c *Coordinator) Session() string { return c.session }

// Handler returns the websocket endpoint workers dial.
func (c *Coordinator) Handler() http.Handler {
	return http.HandlerFunc(c.serveWS)
}

// ListenAndServe serves the reduce endpoint on addr. Blocks until Close.
func (c *Coordinator) ListenAndServe(addr string) error {
	c.srv = &http.Server{Addr: addr, Handler: c.Handler()}
	err := c.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the HTTP server and every worker connection.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = make(map[int]*websocket.Conn)
	c.mu.Unlock()
	if c.srv != nil {
		return c.srv.Close()
	}
	return nil
}

func (c *Coordinator) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("upgrade failed", "err", err)
		return
	}

	rank, err := c.join(conn)
	if err != nil {
		c.log.Warn("join rejected", "err", err)
		_ = writeFrame(conn, frame{Type: frameError, Err: err.Error()})
		_ = conn.Close()
		return
	}
	c.log.Info("worker joined", "rank", rank, "world", c.world, "session", c.session)

	for {
		f, err := readFrame(conn)
		if err != nil {
			c.fail(fmt.Sprintf("rank %d read: %v", rank, err))
			return
		}
		if f.Type != frameReduce {
			c.fail(fmt.Sprintf("rank %d sent unexpected frame type %d", rank, f.Type))
			return
		}
		if err := c.ingest(rank, f); err != nil {
			c.fail(err.Error())
			return
		}
	}
}

// join validates the handshake and registers the connection.
func (c *Coordinator) join(conn *websocket.Conn) (int, error) {
	f, err := readFrame(conn)
	if err != nil {
		return 0, err
	}
	if f.Type != frameJoin {
		return 0, fmt.Errorf("expected join frame, got type %d", f.Type)
	}
	if f.World != c.world {
		return 0, fmt.Errorf("world size mismatch: group is %d, worker declared %d", c.world, f.World)
	}
	if f.Rank < 0 || f.Rank >= c.world {
		return 0, fmt.Errorf("rank %d out of range [0, %d)", f.Rank, c.world)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return 0, fmt.Errorf("group already failed")
	}
	if _, dup := c.conns[f.Rank]; dup {
		return 0, fmt.Errorf("rank %d already joined", f.Rank)
	}
	c.conns[f.Rank] = conn
	if err := writeFrame(conn, frame{Type: frameJoinAck, Session: c.session, World: c.world}); err != nil {
		delete(c.conns, f.Rank)
		return 0, err
	}
	return f.Rank, nil
}

// ingest folds one contribution into its barrier and broadcasts the
// reduced values once all ranks have contributed.
func (c *Coordinator) ingest(rank int, f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return fmt.Errorf("group already failed")
	}
	if f.Seq != c.nextSeq[rank] {
		return fmt.Errorf("rank %d out of lockstep: sent seq %d, expected %d", rank, f.Seq, c.nextSeq[rank])
	}
	c.nextSeq[rank]++

	b, ok := c.pending[f.Seq]
	if !ok {
		vals := make([]float32, len(f.Values))
		copy(vals, f.Values)
		b = &barrier{op: f.Op, values: vals, joined: map[int]bool{rank: true}}
		c.pending[f.Seq] = b
	} else {
		if b.op != f.Op {
			return fmt.Errorf("seq %d op mismatch: %s vs %s", f.Seq, b.op, f.Op)
		}
		if len(b.values) != len(f.Values) {
			return fmt.Errorf("seq %d length mismatch: %d vs %d", f.Seq, len(b.values), len(f.Values))
		}
		if b.joined[rank] {
			return fmt.Errorf("rank %d contributed twice to seq %d", rank, f.Seq)
		}
		b.joined[rank] = true
		switch f.Op {
		case OpSum:
			for i, v := range f.Values {
				b.values[i] += v
			}
		case OpMax:
			for i, v := range f.Values {
				if v > b.values[i] {
					b.values[i] = v
				}
			}
		default:
			return fmt.Errorf("seq %d unknown op %q", f.Seq, f.Op)
		}
	}

	if len(b.joined) < c.world {
		return nil
	}
	delete(c.pending, f.Seq)
	out := frame{Type: frameResult, Seq: f.Seq, Values: b.values}
	for r, conn := range c.conns {
		if err := writeFrame(conn, out); err != nil {
			return fmt.Errorf("broadcast to rank %d: %w", r, err)
		}
	}
	return nil
}

// fail errors every connection and poisons the group.
func (c *Coordinator) fail(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	c.failed = true
	c.log.Error("reduce group failed", "reason", reason)
	for _, conn := range c.conns {
		_ = writeFrame(conn, frame{Type: frameError, Err: reason})
		_ = conn.Close()
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func readFrame(conn *websocket.Conn) (frame, error) {
	var f frame
	_, data, err := conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
