package broker

// Machine-readable error kinds carried on every broker failure so callers
// (fallback orchestration, HTTP mapping) can branch without string matching.
const (
	KindNotInstalled     = "not_installed"
	KindNotAuthenticated = "not_authenticated"
	KindSpawnFailure     = "spawn_failure"
	KindRuntimeFailure   = "runtime_failure"
	KindMalformedOutput  = "malformed_output"
	KindTimeout          = "timeout"
	KindCancelled        = "cancelled"
	KindArtifactIO       = "artifact_io"
	KindTooBusy          = "too_busy"
	KindShutdown         = "shutdown"
)

type kinded interface{ kind() string }

// Kind returns the error kind label, or empty for unknown errors.
func Kind(err error) string {
	if k, ok := err.(kinded); ok {
		return k.kind()
	}
	return ""
}

// notInstalledError signals the external CLI could not be invoked at all.
type notInstalledError struct{ msg string }

func (e notInstalledError) Error() string { return "cli not installed: " + e.msg }
func (e notInstalledError) kind() string  { return KindNotInstalled }

// ErrNotInstalled constructs a notInstalledError.
func ErrNotInstalled(msg string) error { return notInstalledError{msg: msg} }

// IsNotInstalled reports whether err indicates a missing external CLI.
func IsNotInstalled(err error) bool {
	_, ok := err.(notInstalledError)
	return ok
}

// notAuthenticatedError signals the CLI is present but holds no credential.
type notAuthenticatedError struct{ msg string }

func (e notAuthenticatedError) Error() string { return "cli not authenticated: " + e.msg }
func (e notAuthenticatedError) kind() string  { return KindNotAuthenticated }

// ErrNotAuthenticated constructs a notAuthenticatedError.
func ErrNotAuthenticated(msg string) error { return notAuthenticatedError{msg: msg} }

// IsNotAuthenticated reports whether err indicates a missing CLI credential.
func IsNotAuthenticated(err error) bool {
	_, ok := err.(notAuthenticatedError)
	return ok
}

// spawnFailureError signals the subprocess could not be created.
type spawnFailureError struct{ msg string }

func (e spawnFailureError) Error() string { return "spawn failed: " + e.msg }
func (e spawnFailureError) kind() string  { return KindSpawnFailure }

// ErrSpawnFailure constructs a spawnFailureError.
func ErrSpawnFailure(msg string) error { return spawnFailureError{msg: msg} }

// IsSpawnFailure reports whether err indicates process creation failed.
func IsSpawnFailure(err error) bool {
	_, ok := err.(spawnFailureError)
	return ok
}

// runtimeFailureError signals a non-zero exit; carries a stderr tail.
type runtimeFailureError struct{ msg string }

func (e runtimeFailureError) Error() string { return "cli failed: " + e.msg }
func (e runtimeFailureError) kind() string  { return KindRuntimeFailure }

// ErrRuntimeFailure constructs a runtimeFailureError.
func ErrRuntimeFailure(msg string) error { return runtimeFailureError{msg: msg} }

// IsRuntimeFailure reports whether err indicates a subprocess runtime failure.
func IsRuntimeFailure(err error) bool {
	_, ok := err.(runtimeFailureError)
	return ok
}

// malformedOutputError signals stdout could not be parsed into a result.
type malformedOutputError struct{ msg string }

func (e malformedOutputError) Error() string { return "malformed cli output: " + e.msg }
func (e malformedOutputError) kind() string  { return KindMalformedOutput }

// ErrMalformedOutput constructs a malformedOutputError.
func ErrMalformedOutput(msg string) error { return malformedOutputError{msg: msg} }

// IsMalformedOutput reports whether err indicates unparseable CLI output.
func IsMalformedOutput(err error) bool {
	_, ok := err.(malformedOutputError)
	return ok
}

// timeoutError signals the per-request deadline fired before completion.
type timeoutError struct{ id string }

func (e timeoutError) Error() string { return "request timed out: " + e.id }
func (e timeoutError) kind() string  { return KindTimeout }

// ErrTimeout constructs a timeoutError for the given request id.
func ErrTimeout(id string) error { return timeoutError{id: id} }

// IsTimeout reports whether err indicates a deadline expiry.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// cancelledError signals an explicit caller cancellation.
type cancelledError struct{ id string }

func (e cancelledError) Error() string { return "request cancelled: " + e.id }
func (e cancelledError) kind() string  { return KindCancelled }

// ErrCancelled constructs a cancelledError for the given request id.
func ErrCancelled(id string) error { return cancelledError{id: id} }

// IsCancelled reports whether err indicates an explicit cancellation.
func IsCancelled(err error) bool {
	_, ok := err.(cancelledError)
	return ok
}

// artifactIOError signals a temp-file write failure for a binary payload.
type artifactIOError struct{ msg string }

func (e artifactIOError) Error() string { return "artifact io: " + e.msg }
func (e artifactIOError) kind() string  { return KindArtifactIO }

// ErrArtifactIO constructs an artifactIOError.
func ErrArtifactIO(msg string) error { return artifactIOError{msg: msg} }

// IsArtifactIO reports whether err indicates a temp-file failure.
func IsArtifactIO(err error) bool {
	_, ok := err.(artifactIOError)
	return ok
}

// tooBusyError signals admission-queue overflow for 429 mapping.
type tooBusyError struct{ id string }

func (e tooBusyError) Error() string { return "too busy: " + e.id }
func (e tooBusyError) kind() string  { return KindTooBusy }

// ErrTooBusy constructs a tooBusyError for the given request id.
func ErrTooBusy(id string) error { return tooBusyError{id: id} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// shutdownError signals submission to a broker that is shutting down.
type shutdownError struct{}

func (shutdownError) Error() string { return "broker is shut down" }
func (shutdownError) kind() string  { return KindShutdown }

// ErrShutdown is returned for submissions after Shutdown.
func ErrShutdown() error { return shutdownError{} }

// IsShutdown reports whether err indicates the broker was shut down.
func IsShutdown(err error) bool {
	_, ok := err.(shutdownError)
	return ok
}
