package broker

import "time"

// RequestState is the lifecycle state of a single request.
type RequestState string

const (
	StateQueued    RequestState = "queued"
	StateRunning   RequestState = "running"
	StateStreaming RequestState = "streaming"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
	StateTimedOut  RequestState = "timed_out"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s RequestState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Options tunes a single request.
type Options struct {
	// Caller-assigned request id; a UUID is generated when empty.
	RequestID string
	// Model selector passed through to the CLI. Empty uses the CLI default.
	Model string
	// Maximum output tokens. 0 uses the CLI default.
	MaxTokens int
	// Per-request deadline. 0 uses the broker default.
	Timeout time.Duration
}

// Result is the terminal outcome of a successful request.
type Result struct {
	RequestID string
	Content   string
}

// Status is a composite snapshot: cached availability plus live occupancy.
type Status struct {
	Installed     bool
	Version       string
	Authenticated bool
	Account       string
	LastError     string

	ActiveSlots int
	Capacity    int
	Queued      int
}

// request is the unit of work tracked by the broker. Guarded by Broker.mu
// except where noted.
type request struct {
	id       string
	state    RequestState
	cancel   func()
	// set before cancel() so the executor can tell explicit cancellation
	// apart from deadline expiry
	cancelled bool

	submitted time.Time
	started   time.Time
	completed time.Time

	artifact string
}
