package poll

import (
	"errors"

	"github.com/waabox/bgrelease/internal/domain"
)

type resultKind int

const (
	kindPending resultKind = iota
	kindReady
	kindFailed
)

// Result is the answer of one predicate invocation: Pending, Ready(payload) or
// Failed(cause).
type Result[T any] struct {
	kind     resultKind
	value    T
	err      error
	observed string
}

// Pending means the condition is not met yet. observed describes the current state
// and is reported if the wait times out.
func Pending[T any](observed string) Result[T] {
	return Result[T]{kind: kindPending, observed: observed}
}

// Ready resolves the wait with v.
func Ready[T any](v T) Result[T] {
	return Result[T]{kind: kindReady, value: v}
}

// Failed reports a cause. Transient causes (see IsTransient) keep the wait going;
// anything else ends it.
func Failed[T any](err error) Result[T] {
	return Result[T]{kind: kindFailed, err: err}
}

// IsTransient reports whether err describes a condition that is expected early in a
// resource's life and must not abort a wait.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnavailable)
}
