package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// okCheckRunner is a CommandRunner that reports an installed, authenticated
// CLI without invoking anything.
func okCheckRunner(ctx context.Context, bin string, args ...string) (string, string, error) {
	if len(args) > 0 && args[0] == "--version" {
		return "1.4.2 (test)\n", "", nil
	}
	return "Logged in as dev@example.com\n", "", nil
}

// mockHandle is a scripted subprocess.
type mockHandle struct {
	out  chan string
	done chan struct{}
	term chan struct{}

	termOnce sync.Once

	mu      sync.Mutex
	waitErr error
}

func (h *mockHandle) PID() int              { return 4242 }
func (h *mockHandle) Output() <-chan string { return h.out }
func (h *mockHandle) Terminate()            { h.termOnce.Do(func() { close(h.term) }) }

func (h *mockHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *mockHandle) setWaitErr(err error) {
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
}

// mockRunner scripts subprocess behavior and records every spawn.
type mockRunner struct {
	chunks   []string
	delay    time.Duration
	exitErr  error
	block    bool
	startErr error

	active    atomic.Int32
	maxActive atomic.Int32

	mu    sync.Mutex
	specs []Spec
}

func (r *mockRunner) Start(spec Spec) (Handle, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	cur := r.active.Add(1)
	for {
		max := r.maxActive.Load()
		if cur <= max || r.maxActive.CompareAndSwap(max, cur) {
			break
		}
	}
	h := &mockHandle{
		out:  make(chan string),
		done: make(chan struct{}),
		term: make(chan struct{}),
	}
	h.setWaitErr(r.exitErr)
	go func() {
		defer func() {
			r.active.Add(-1)
			close(h.out)
			close(h.done)
		}()
		for _, c := range r.chunks {
			if r.delay > 0 {
				time.Sleep(r.delay)
			}
			select {
			case h.out <- c:
			case <-h.term:
				h.setWaitErr(ErrRuntimeFailure("signal: terminated"))
				return
			}
		}
		if r.block {
			<-h.term
			h.setWaitErr(ErrRuntimeFailure("signal: terminated"))
		}
	}()
	return h, nil
}

// spawnCount returns how many processes were started.
func (r *mockRunner) spawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

// lastSpec returns the most recent spawn spec.
func (r *mockRunner) lastSpec(t *testing.T) Spec {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.specs) == 0 {
		t.Fatal("no process was spawned")
	}
	return r.specs[len(r.specs)-1]
}

const okJSON = `{"content":"hello world","model":"test","is_error":false}`

// newTestBroker builds a broker with an authenticated fake CLI and the
// given runner. Artifacts go to a per-test temp dir.
func newTestBroker(t *testing.T, r Runner, mutate ...func(*Config)) *Broker {
	t.Helper()
	cfg := Config{
		Bin:         "fake-cli",
		Runner:      r,
		CheckRunner: okCheckRunner,
		ArtifactDir: t.TempDir(),
		BaseEnv:     []string{"PATH=/usr/bin", "HOME=/home/dev"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b := New(cfg)
	t.Cleanup(b.Shutdown)
	return b
}

// waitUntil polls cond for up to 2s.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}
