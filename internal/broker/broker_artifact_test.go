package broker

import (
	"context"
	"os"
	"testing"
	"time"
)

// artifactCount returns how many files remain in the broker's artifact dir.
func artifactCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read artifact dir: %v", err)
	}
	return len(entries)
}

func TestArtifactCleanup_SuccessPath(t *testing.T) {
	dir := t.TempDir()
	r := &mockRunner{chunks: []string{okJSON}}
	b := newTestBroker(t, r, func(c *Config) { c.ArtifactDir = dir })

	if _, err := b.QueryWithImage(context.Background(), "p", []byte("img"), Options{}); err != nil {
		t.Fatalf("QueryWithImage: %v", err)
	}
	if n := artifactCount(t, dir); n != 0 {
		t.Fatalf("%d artifacts left after success", n)
	}
}

func TestArtifactCleanup_FailurePath(t *testing.T) {
	dir := t.TempDir()
	r := &mockRunner{exitErr: ErrRuntimeFailure("exit status 1")}
	b := newTestBroker(t, r, func(c *Config) { c.ArtifactDir = dir })

	if _, err := b.QueryWithImage(context.Background(), "p", []byte("img"), Options{}); !IsRuntimeFailure(err) {
		t.Fatalf("expected runtime failure, got %v", err)
	}
	if n := artifactCount(t, dir); n != 0 {
		t.Fatalf("%d artifacts left after failure", n)
	}
}

func TestArtifactCleanup_TimeoutPath(t *testing.T) {
	dir := t.TempDir()
	r := &mockRunner{block: true}
	b := newTestBroker(t, r, func(c *Config) { c.ArtifactDir = dir })

	if _, err := b.QueryWithImage(context.Background(), "p", []byte("img"), Options{Timeout: 40 * time.Millisecond}); !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := artifactCount(t, dir); n != 0 {
		t.Fatalf("%d artifacts left after timeout", n)
	}
}

func TestArtifactCleanup_CancelPath(t *testing.T) {
	dir := t.TempDir()
	r := &mockRunner{block: true}
	b := newTestBroker(t, r, func(c *Config) { c.ArtifactDir = dir })

	errCh := make(chan error, 1)
	go func() {
		_, err := b.QueryWithImage(context.Background(), "p", []byte("img"), Options{RequestID: "victim"})
		errCh <- err
	}()
	waitUntil(t, func() bool { return r.spawnCount() == 1 }, "request running")
	if !b.Cancel("victim") {
		t.Fatal("cancel returned false")
	}
	if err := <-errCh; !IsCancelled(err) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if n := artifactCount(t, dir); n != 0 {
		t.Fatalf("%d artifacts left after cancellation", n)
	}
}

func TestArtifactWriteFailureFailsRequest(t *testing.T) {
	r := &mockRunner{chunks: []string{okJSON}}
	b := newTestBroker(t, r, func(c *Config) {
		c.ArtifactDir = "/nonexistent/brokerd-test"
	})

	_, err := b.QueryWithImage(context.Background(), "p", []byte("img"), Options{})
	if !IsArtifactIO(err) {
		t.Fatalf("expected artifact io failure, got %v", err)
	}
	if r.spawnCount() != 0 {
		t.Fatal("process spawned despite artifact failure")
	}
	waitUntil(t, func() bool { return b.Status(context.Background()).ActiveSlots == 0 }, "slot released")
}
