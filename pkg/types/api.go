package types

// QueryRequest represents a completion request payload.
type QueryRequest struct {
	// Required prompt text.
	// example: Summarize this conversation in one sentence.
	Prompt string `json:"prompt" example:"Summarize this conversation in one sentence."`
	// Optional model selector passed through to the backing engine.
	// example: sonnet
	Model string `json:"model,omitempty" example:"sonnet"`
	// Maximum number of output tokens. 0 uses the engine default.
	// example: 1024
	MaxTokens int `json:"max_tokens,omitempty" example:"1024"`
	// Per-request timeout in seconds. 0 uses the server default.
	// example: 120
	TimeoutSeconds int `json:"timeout_seconds,omitempty" example:"120"`
	// Optional caller-assigned request id, used for cancellation.
	RequestID string `json:"request_id,omitempty"`
}

// QueryImageRequest is QueryRequest plus a base64-encoded binary payload.
type QueryImageRequest struct {
	QueryRequest
	// Base64-encoded image bytes handed to the engine via a temp file.
	ImageBase64 string `json:"image_base64"`
}

// QueryResponse is returned by the query endpoints.
type QueryResponse struct {
	Success bool `json:"success"`
	// Request id assigned at submission.
	RequestID string `json:"request_id,omitempty"`
	// Completion text when Success is true.
	Content string `json:"content,omitempty"`
	// Machine-readable error kind (e.g. timeout, not_installed).
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Whether the external CLI is installed and invocable.
	Installed bool `json:"installed"`
	// CLI version string when installed.
	// example: 1.4.2
	Version string `json:"version,omitempty" example:"1.4.2"`
	// Whether the CLI holds a usable credential.
	Authenticated bool `json:"authenticated"`
	// Account identifier reported by the CLI.
	Account string `json:"account,omitempty"`
	// Number of currently leased process slots.
	// example: 1
	ActiveSlots int `json:"active_slots" example:"1"`
	// Maximum concurrent processes.
	// example: 3
	Capacity int `json:"capacity" example:"3"`
	// Requests waiting for a free slot.
	// example: 0
	Queued int `json:"queued" example:"0"`
	// Last availability-check error, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// CancelResponse is returned by POST /v1/cancel/{id}.
type CancelResponse struct {
	// Whether a live request was actually cancelled.
	Cancelled bool `json:"cancelled"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
