// Package broker executes AI-completion requests by spawning a bounded
// number of concurrent external CLI subprocesses. It is structured into
// small files by concern:
//
//   - broker.go: core Broker type, Config, the per-request lifecycle.
//   - types.go: request states, options, results, status snapshots.
//   - errors.go: typed error taxonomy and Is* helpers.
//   - env.go: spawn-environment sanitization (credential shadowing).
//   - artifact.go: temp-file management for binary payloads.
//   - avail.go: installed/authenticated checks with a short-lived cache.
//   - pool.go: fixed-capacity slot pool with FIFO admission queue.
//   - proc.go: Runner/Handle abstraction over os/exec subprocesses.
//   - stream.go: single-subscriber chunk routing per request.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus occupancy and outcome metrics.
//
// External packages should treat this package as the execution layer and
// use public methods only (New, Query, QueryWithImage, Stream, Cancel,
// Status, Shutdown). Internal types are subject to change.
package broker
