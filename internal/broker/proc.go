package broker

import (
	"bytes"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Spec describes one subprocess invocation.
type Spec struct {
	Bin   string
	Args  []string
	Env   []string
	Stdin string
}

// Handle is a live subprocess. Output yields stdout chunks in production
// order and is closed on EOF; Wait blocks until exit and returns a typed
// error for non-zero exits; Terminate attempts graceful termination and
// escalates to a forced kill after the grace period.
type Handle interface {
	PID() int
	Output() <-chan string
	Wait() error
	Terminate()
}

// Runner spawns subprocesses. The broker only ever talks to this interface
// so tests can substitute a mock without invoking a real CLI.
type Runner interface {
	Start(spec Spec) (Handle, error)
}

// execRunner is the os/exec-backed Runner used in production.
type execRunner struct {
	grace time.Duration
}

// NewExecRunner returns a Runner that spawns real processes. grace bounds
// how long Terminate waits between SIGTERM and SIGKILL.
func NewExecRunner(grace time.Duration) Runner {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &execRunner{grace: grace}
}

const stderrTailLimit = 4096

type execHandle struct {
	cmd    *exec.Cmd
	out    chan string
	done   chan struct{}
	grace  time.Duration
	stderr *bytes.Buffer

	mu      sync.Mutex
	waitErr error
	killed  bool
}

func (r *execRunner) Start(spec Spec) (Handle, error) {
	cmd := exec.Command(spec.Bin, spec.Args...)
	cmd.Env = spec.Env
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ErrSpawnFailure(err.Error())
	}
	if err := cmd.Start(); err != nil {
		return nil, ErrSpawnFailure(err.Error())
	}
	h := &execHandle{
		cmd:    cmd,
		out:    make(chan string, 16),
		done:   make(chan struct{}),
		grace:  r.grace,
		stderr: &stderr,
	}
	go h.pump(stdout)
	return h, nil
}

// pump relays stdout to the output channel, then reaps the process.
// cmd.Wait must not run before the pipe is drained.
func (h *execHandle) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			h.out <- string(buf[:n])
		}
		if err != nil {
			break
		}
	}
	close(h.out)
	err := h.cmd.Wait()
	h.mu.Lock()
	if err != nil {
		tail := h.stderr.String()
		if len(tail) > stderrTailLimit {
			tail = tail[len(tail)-stderrTailLimit:]
		}
		msg := err.Error()
		if strings.TrimSpace(tail) != "" {
			msg += ": " + strings.TrimSpace(tail)
		}
		h.waitErr = ErrRuntimeFailure(msg)
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Output() <-chan string { return h.out }

func (h *execHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Terminate sends SIGTERM and escalates to SIGKILL after the grace period.
// Safe to call more than once and after exit.
func (h *execHandle) Terminate() {
	h.mu.Lock()
	already := h.killed
	h.killed = true
	h.mu.Unlock()
	if already || h.cmd.Process == nil {
		return
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.done:
	case <-time.After(h.grace):
		_ = h.cmd.Process.Kill()
	}
}
