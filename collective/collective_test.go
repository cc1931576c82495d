// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package collective

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestLoopbackIsIdentity(t *testing.T) {
	lb := Loopback{}
	if lb.Rank() != 0 || lb.WorldSize() != 1 {
		t.Fatalf("loopback rank/world: %d/%d", lb.Rank(), lb.WorldSize())
	}

	values := []float32{1, -2, 3}
	if err := lb.SumReduce(context.Background(), values); err != nil {
		t.Fatalf("sum reduce: %v", err)
	}
	if err := lb.MaxReduce(context.Background(), values); err != nil {
		t.Fatalf("max reduce: %v", err)
	}
	if values[0] != 1 || values[1] != -2 || values[2] != 3 {
		t.Fatalf("loopback mutated values: %v", values)
	}
}

func TestLoopbackHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Loopback{}).SumReduce(ctx, []float32{1}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// startGroup serves a coordinator over httptest and dials world clients.
func startGroup(t *testing.T, world int) []*Client {
	t.Helper()
	coord := NewCoordinator(world, nil)
	srv := httptest.NewServer(coord.Handler())
	t.Cleanup(func() {
		_ = coord.Close()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clients := make([]*Client, world)
	for rank := 0; rank < world; rank++ {
		c, err := Dial(context.Background(), url, rank, world)
		if err != nil {
			t.Fatalf("dial rank %d: %v", rank, err)
		}
		t.Cleanup(func() { _ = c.Close() })
		clients[rank] = c
	}
	return clients
}

func TestTwoWorkerSumAndMaxReduce(t *testing.T) {
	clients := startGroup(t, 2)

	inputs := [][]float32{
		{1, 5, -2},
		{3, -1, 7},
	}
	results := make([][]float32, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for rank, c := range clients {
		wg.Add(1)
		go func(rank int, c *Client) {
			defer wg.Done()
			vals := make([]float32, len(inputs[rank]))
			copy(vals, inputs[rank])
			if err := c.SumReduce(context.Background(), vals); err != nil {
				errs[rank] = err
				return
			}
			if err := c.MaxReduce(context.Background(), vals); err != nil {
				errs[rank] = err
				return
			}
			results[rank] = vals
		}(rank, c)
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}

	// Sum gives {4, 4, 5} on both ranks; the following max of two equal
	// vectors leaves them unchanged.
	want := []float32{4, 4, 5}
	for rank, got := range results {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d index %d: expected %f, got %f", rank, i, want[i], got[i])
			}
		}
	}
}

func TestMaxReducePicksElementwiseMax(t *testing.T) {
	clients := startGroup(t, 2)

	inputs := [][]float32{
		{1, 9, -5},
		{4, 2, -3},
	}
	results := make([][]float32, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for rank, c := range clients {
		wg.Add(1)
		go func(rank int, c *Client) {
			defer wg.Done()
			vals := make([]float32, len(inputs[rank]))
			copy(vals, inputs[rank])
			errs[rank] = c.MaxReduce(context.Background(), vals)
			results[rank] = vals
		}(rank, c)
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}

	want := []float32{4, 9, -3}
	for rank, got := range results {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d index %d: expected %f, got %f", rank, i, want[i], got[i])
			}
		}
	}
}

func TestJoinRejectsWorldMismatch(t *testing.T) {
	coord := NewCoordinator(2, nil)
	srv := httptest.NewServer(coord.Handler())
	defer srv.Close()
	defer func() { _ = coord.Close() }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := Dial(context.Background(), url, 0, 3); err == nil {
		t.Fatal("expected join rejection for world size mismatch")
	}
}

func TestJoinRejectsDuplicateRank(t *testing.T) {
	coord := NewCoordinator(2, nil)
	srv := httptest.NewServer(coord.Handler())
	defer srv.Close()
	defer func() { _ = coord.Close() }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	first, err := Dial(context.Background(), url, 0, 2)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	defer func() { _ = first.Close() }()

	if _, err := Dial(context.Background(), url, 0, 2); err == nil {
		t.Fatal("expected join rejection for duplicate rank")
	}
}

func TestJoinRejectsRankOutOfRange(t *testing.T) {
	coord := NewCoordinator(2, nil)
	srv := httptest.NewServer(coord.Handler())
	defer srv.Close()
	defer func() { _ = coord.Close() }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := Dial(context.Background(), url, 5, 2); err == nil {
		t.Fatal("expected join rejection for out-of-range rank")
	}
}

func TestSessionSharedAcrossClients(t *testing.T) {
	clients := startGroup(t, 2)
	if clients[0].Session() == "" {
		t.Fatal("session is empty")
	}
	if clients[0].Session() != clients[1].Session() {
		t.Fatalf("sessions differ: %s vs %s", clients[0].Session(), clients[1].Session())
	}
}
