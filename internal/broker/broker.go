package broker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultCapacity   = 3
	DefaultQueueDepth = 32
	DefaultTimeout    = 120 * time.Second
	DefaultGrace      = 2 * time.Second
	DefaultStatusTTL  = 5 * time.Second
)

// Config encapsulates all tunables for Broker construction.
type Config struct {
	// Bin is the external CLI executable.
	Bin string
	// Capacity is the maximum number of concurrent subprocesses.
	Capacity int
	// QueueDepth bounds the admission queue; overflow is rejected.
	QueueDepth int
	// DefaultTimeout applies when a request sets none.
	DefaultTimeout time.Duration
	// Grace bounds graceful termination before a forced kill.
	Grace time.Duration
	// ArtifactDir holds temp files for binary payloads. Empty uses os.TempDir.
	ArtifactDir string
	// StatusTTL is the availability-cache staleness window.
	StatusTTL time.Duration
	// ScrubEnv lists credential-shadowing variables removed from spawn
	// environments. Nil uses DefaultScrubVars.
	ScrubEnv []string
	// BaseEnv overrides the ambient environment for spawns (tests).
	BaseEnv []string

	// Runner spawns subprocesses; nil uses the real os/exec runner.
	Runner Runner
	// CheckRunner executes availability probes; nil uses the real CLI.
	CheckRunner CommandRunner
	// Publisher receives lifecycle events; nil drops them.
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Broker executes completion requests through a bounded pool of external CLI
// subprocesses. It is an explicitly constructed service: one instance per
// test or per daemon, torn down with Shutdown.
type Broker struct {
	bin            string
	defaultTimeout time.Duration
	scrub          []string
	baseEnv        []string

	log       zerolog.Logger
	pub       EventPublisher
	runner    Runner
	checker   *Checker
	pool      *slotPool
	streams   *streamBroker
	artifacts *ArtifactStore

	mu        sync.Mutex
	requests  map[string]*request
	closed    bool
	startTime time.Time
	wg        sync.WaitGroup
}

// New constructs a Broker from Config, applying package defaults for unset
// fields.
func New(cfg Config) *Broker {
	if cfg.Bin == "" {
		cfg.Bin = "claude"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = DefaultStatusTTL
	}
	if cfg.ScrubEnv == nil {
		cfg.ScrubEnv = DefaultScrubVars
	}
	if cfg.Runner == nil {
		cfg.Runner = NewExecRunner(cfg.Grace)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	return &Broker{
		bin:            cfg.Bin,
		defaultTimeout: cfg.DefaultTimeout,
		scrub:          cfg.ScrubEnv,
		baseEnv:        cfg.BaseEnv,
		log:            cfg.Logger,
		pub:            cfg.Publisher,
		runner:         cfg.Runner,
		checker:        NewChecker(cfg.Bin, cfg.StatusTTL, cfg.CheckRunner),
		pool:           newSlotPool(cfg.Capacity, cfg.QueueDepth),
		streams:        newStreamBroker(),
		artifacts:      NewArtifactStore(cfg.ArtifactDir, cfg.Logger),
		requests:       make(map[string]*request),
		startTime:      time.Now(),
	}
}

// CheckInstalled probes the CLI's version entry point (uncached).
func (b *Broker) CheckInstalled(ctx context.Context) InstallStatus {
	return b.checker.CheckInstalled(ctx)
}

// CheckAuthenticated probes the CLI's credential status (uncached).
func (b *Broker) CheckAuthenticated(ctx context.Context) AuthStatus {
	return b.checker.CheckAuthenticated(ctx)
}

// Status combines the cached availability checks with live pool occupancy.
func (b *Broker) Status(ctx context.Context) Status {
	av := b.checker.Refresh(ctx, false)
	active, capacity, queued := b.pool.snapshot()
	return Status{
		Installed:     av.Installed,
		Version:       av.Version,
		Authenticated: av.Authenticated,
		Account:       av.Account,
		LastError:     av.Err,
		ActiveSlots:   active,
		Capacity:      capacity,
		Queued:        queued,
	}
}

// StartTime returns when this broker instance was constructed.
func (b *Broker) StartTime() time.Time { return b.startTime }

// Query executes a plain completion request and returns the full text.
func (b *Broker) Query(ctx context.Context, prompt string, opts Options) (Result, error) {
	return b.run(ctx, prompt, nil, opts, false)
}

// QueryWithImage executes a completion request with a binary payload handed
// to the CLI via a temp file.
func (b *Broker) QueryWithImage(ctx context.Context, prompt string, image []byte, opts Options) (Result, error) {
	return b.run(ctx, prompt, image, opts, false)
}

// Stream executes a streaming request, invoking onChunk once per output
// chunk in production order. The aggregated text is also returned.
func (b *Broker) Stream(ctx context.Context, prompt string, opts Options, onChunk func(string)) (Result, error) {
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	// Unregister on the short-circuit paths that never reach a terminal
	// state; a second terminate after a normal finish is a no-op. Only the
	// call that registered the subscription may tear it down: a duplicate
	// submission must leave the live request's stream untouched.
	if b.streams.subscribe(opts.RequestID, onChunk, nil) {
		defer b.streams.terminate(opts.RequestID, TerminalEvent{RequestID: opts.RequestID})
	}
	return b.run(ctx, prompt, nil, opts, true)
}

// Cancel requests termination of a live request. Idempotent: returns false
// when the id is unknown or already terminal.
func (b *Broker) Cancel(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := b.requests[id]
	if req == nil || req.state.Terminal() {
		return false
	}
	req.cancelled = true
	req.cancel()
	return true
}

// Shutdown cancels all live requests, waits for their processes to
// terminate and their artifacts to be removed, and rejects any further
// submissions.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.closed = true
	for _, req := range b.requests {
		req.cancelled = true
		req.cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// run drives one request through the full lifecycle:
// Queued -> Running -> (Streaming) -> terminal. Callers block until the
// terminal state; chunks reach subscribers through the stream broker as
// they are produced.
func (b *Broker) run(ctx context.Context, prompt string, image []byte, opts Options, streamMode bool) (Result, error) {
	id := opts.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	res := Result{RequestID: id}

	// Availability short-circuit: no slot is ever consumed for a CLI that
	// is missing or unauthenticated.
	av := b.checker.Refresh(ctx, false)
	if !av.Installed {
		return res, ErrNotInstalled(av.Err)
	}
	if !av.Authenticated {
		return res, ErrNotAuthenticated(av.Err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &request{id: id, state: StateQueued, cancel: cancel, submitted: time.Now()}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return res, ErrShutdown()
	}
	if _, dup := b.requests[id]; dup {
		b.mu.Unlock()
		return res, ErrRuntimeFailure("duplicate request id: " + id)
	}
	b.requests[id] = req
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.requests, id)
		b.mu.Unlock()
	}()

	b.pub.Publish(Event{Name: "submitted", RequestID: id})

	if err := b.pool.acquire(rctx, id); err != nil {
		if IsTooBusy(err) {
			return res, b.finish(req, StateFailed, "", err)
		}
		// Left the queue without ever spawning a process.
		return res, b.finishInterrupted(req, rctx)
	}
	b.observeOccupancy()
	defer func() {
		b.pool.release(id)
		b.observeOccupancy()
	}()

	b.setState(req, StateRunning)
	b.pub.Publish(Event{Name: "admitted", RequestID: id})

	var imagePath string
	if image != nil {
		path, err := b.artifacts.Put(image)
		if err != nil {
			return res, b.finish(req, StateFailed, "", err)
		}
		imagePath = path
		b.mu.Lock()
		req.artifact = path
		b.mu.Unlock()
		defer b.artifacts.Remove(path)
	}

	handle, err := b.runner.Start(b.buildSpec(prompt, imagePath, opts, streamMode))
	if err != nil {
		if Kind(err) == "" {
			err = ErrSpawnFailure(err.Error())
		}
		return res, b.finish(req, StateFailed, "", err)
	}
	b.pub.Publish(Event{Name: "spawned", RequestID: id, Fields: map[string]any{"pid": handle.PID()}})

	var out strings.Builder
	first := true
	outCh := handle.Output()
loop:
	for {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				break loop
			}
			if first {
				first = false
				b.setState(req, StateStreaming)
			}
			out.WriteString(chunk)
			b.streams.publish(id, chunk)
		case <-rctx.Done():
			handle.Terminate()
			for range outCh {
			}
			break loop
		}
	}
	waitErr := handle.Wait()

	if rctx.Err() != nil {
		return res, b.finishInterrupted(req, rctx)
	}
	if waitErr != nil {
		return res, b.finish(req, StateFailed, "", waitErr)
	}

	content := out.String()
	if !streamMode {
		parsed, perr := parseResult(content)
		if perr != nil {
			return res, b.finish(req, StateFailed, "", perr)
		}
		content = parsed
	}
	res.Content = content
	return res, b.finish(req, StateCompleted, content, nil)
}

// buildSpec assembles the CLI invocation for one request. The prompt goes in
// on stdin; the environment is always the sanitized copy of the ambient one.
func (b *Broker) buildSpec(prompt, imagePath string, opts Options, streamMode bool) Spec {
	args := []string{"-p"}
	if streamMode {
		args = append(args, "--output-format", "text")
	} else {
		args = append(args, "--output-format", "json")
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(opts.MaxTokens))
	}
	if imagePath != "" {
		args = append(args, "--image", imagePath)
	}
	base := b.baseEnv
	if base == nil {
		base = os.Environ()
	}
	return Spec{Bin: b.bin, Args: args, Env: SanitizeEnv(base, b.scrub), Stdin: prompt}
}

// setState records a non-terminal transition.
func (b *Broker) setState(req *request, s RequestState) {
	b.mu.Lock()
	req.state = s
	if s == StateRunning {
		req.started = time.Now()
	}
	b.mu.Unlock()
}

// finish records the terminal state, tears down the stream subscription and
// emits the terminal event. Returns err unchanged for the caller to
// propagate as the structured result.
func (b *Broker) finish(req *request, s RequestState, content string, err error) error {
	b.mu.Lock()
	req.state = s
	req.completed = time.Now()
	b.mu.Unlock()
	b.streams.terminate(req.id, TerminalEvent{RequestID: req.id, Content: content, Err: err})
	b.pub.Publish(Event{Name: string(s), RequestID: req.id})
	observeTerminal(s, req.submitted)
	ev := b.log.Debug().Str("request_id", req.id).Str("state", string(s))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("request finished")
	return err
}

// finishInterrupted maps a context-ended request to Cancelled or TimedOut.
// Explicit cancellation wins; a parent-context cancellation (caller went
// away) also counts as cancelled rather than timed out.
func (b *Broker) finishInterrupted(req *request, ctx context.Context) error {
	b.mu.Lock()
	explicit := req.cancelled
	b.mu.Unlock()
	if explicit || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return b.finish(req, StateCancelled, "", ErrCancelled(req.id))
	}
	return b.finish(req, StateTimedOut, "", ErrTimeout(req.id))
}

func (b *Broker) observeOccupancy() {
	active, _, queued := b.pool.snapshot()
	observeOccupancy(active, queued)
}

// cliResult is the JSON object the CLI prints in json output mode.
type cliResult struct {
	Content *string `json:"content"`
	Model   string  `json:"model"`
	IsError bool    `json:"is_error"`
	Error   string  `json:"error"`
}

// parseResult decodes the CLI's json output mode. A missing or unparseable
// body is MalformedOutput; a well-formed error object is RuntimeFailure.
func parseResult(out string) (string, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return "", ErrMalformedOutput("empty output")
	}
	var r cliResult
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return "", ErrMalformedOutput(err.Error())
	}
	if r.IsError {
		return "", ErrRuntimeFailure(r.Error)
	}
	if r.Content == nil {
		return "", ErrMalformedOutput("missing content field")
	}
	return *r.Content, nil
}
