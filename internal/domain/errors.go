package domain

import "errors"

// ErrUnauthorized is returned by providers when the API responds with HTTP 401.
// Callers can check for it using errors.Is to trigger a credential refresh.
var ErrUnauthorized = errors.New("unauthorized")

// Transient conditions. Poll predicates that fail with one of these keep polling.
var (
	// ErrNotFound means the watched resource does not exist yet.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the remote service did not answer (connection refused,
	// gateway errors while it restarts).
	ErrUnavailable = errors.New("service unavailable")
)

// Fatal conditions surfaced to the phase controller.
var (
	// ErrExternalToolUnavailable means a required binary or API is not installed or
	// not reachable. It is raised before any state is mutated.
	ErrExternalToolUnavailable = errors.New("external tool unavailable")

	// ErrResourceNotReadyTimeout means a bounded wait expired.
	ErrResourceNotReadyTimeout = errors.New("resource not ready before timeout")

	// ErrExternalCommandFailure means a delegated command exited non-zero.
	ErrExternalCommandFailure = errors.New("external command failed")

	// ErrBuildFailure means the CI server reported a failed build.
	ErrBuildFailure = errors.New("build failed")

	// ErrConfiguration means a required input or external output is missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrAborted means an operator or policy answered Abort at a gate.
	ErrAborted = errors.New("aborted by operator")
)
