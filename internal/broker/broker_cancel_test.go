package broker

import (
	"context"
	"testing"
	"time"
)

func TestCancel_QueuedRequestNeverSpawns(t *testing.T) {
	r := &mockRunner{block: true}
	b := newTestBroker(t, r, func(c *Config) { c.Capacity = 1 })

	go func() { _, _ = b.Query(context.Background(), "p", Options{RequestID: "occupant"}) }()
	waitUntil(t, func() bool { return r.spawnCount() == 1 }, "occupant running")

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Query(context.Background(), "p", Options{RequestID: "queued"})
		errCh <- err
	}()
	waitUntil(t, func() bool { return b.Status(context.Background()).Queued == 1 }, "request queued")

	if !b.Cancel("queued") {
		t.Fatal("cancel of queued request returned false")
	}
	err := <-errCh
	if !IsCancelled(err) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if r.spawnCount() != 1 {
		t.Fatalf("queued request spawned a process (spawns=%d)", r.spawnCount())
	}
	b.Cancel("occupant")
}

func TestCancel_RunningRequestReleasesSlotQuickly(t *testing.T) {
	r := &mockRunner{block: true}
	b := newTestBroker(t, r, func(c *Config) { c.Capacity = 1 })

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Query(context.Background(), "p", Options{RequestID: "victim"})
		errCh <- err
	}()
	waitUntil(t, func() bool { return r.spawnCount() == 1 }, "victim running")

	start := time.Now()
	if !b.Cancel("victim") {
		t.Fatal("cancel of running request returned false")
	}
	err := <-errCh
	if !IsCancelled(err) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took %s, want well under the grace period", elapsed)
	}
	waitUntil(t, func() bool { return b.Status(context.Background()).ActiveSlots == 0 }, "slot released")
}

func TestCancel_UnknownAndTerminalAreFalse(t *testing.T) {
	r := &mockRunner{chunks: []string{okJSON}}
	b := newTestBroker(t, r)

	if b.Cancel("never-submitted") {
		t.Fatal("cancel of unknown id returned true")
	}
	res, err := b.Query(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if b.Cancel(res.RequestID) {
		t.Fatal("cancel of completed request returned true")
	}
}

func TestTimeout_IsDistinctFromCancel(t *testing.T) {
	r := &mockRunner{block: true}
	b := newTestBroker(t, r)

	start := time.Now()
	_, err := b.Query(context.Background(), "p", Options{Timeout: 50 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if IsCancelled(err) {
		t.Fatal("timeout reported as cancellation")
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("timeout enforcement took %s", elapsed)
	}
	waitUntil(t, func() bool { return b.Status(context.Background()).ActiveSlots == 0 }, "slot released")
}

func TestTimeout_WhileQueued(t *testing.T) {
	r := &mockRunner{block: true}
	b := newTestBroker(t, r, func(c *Config) { c.Capacity = 1 })

	go func() { _, _ = b.Query(context.Background(), "p", Options{RequestID: "occupant"}) }()
	waitUntil(t, func() bool { return r.spawnCount() == 1 }, "occupant running")

	_, err := b.Query(context.Background(), "p", Options{Timeout: 30 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout for queued request, got %v", err)
	}
	if r.spawnCount() != 1 {
		t.Fatal("timed-out queued request spawned a process")
	}
	b.Cancel("occupant")
}

func TestCallerContextCancelCountsAsCancelled(t *testing.T) {
	r := &mockRunner{block: true}
	b := newTestBroker(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Query(ctx, "p", Options{})
		errCh <- err
	}()
	waitUntil(t, func() bool { return r.spawnCount() == 1 }, "request running")
	cancel()
	if err := <-errCh; !IsCancelled(err) {
		t.Fatalf("expected cancelled on caller disconnect, got %v", err)
	}
}
