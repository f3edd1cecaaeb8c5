// Package poll implements the single "check until ready or timeout" primitive used by
// every wait point of a release run.
package poll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/metrics"
)

// Unbounded disables the deadline of a task.
const Unbounded time.Duration = 0

// Task describes one wait point. Tasks are created per wait and never reused.
type Task[T any] struct {
	// Kind is a stable name of the wait point, used as the metrics label.
	// Description may carry run-specific ids and is only logged.
	Kind        string
	Description string
	Interval    time.Duration
	Timeout     time.Duration
	Check       func(ctx context.Context) Result[T]
}

// Validate enforces Interval > 0 and Timeout >= Interval for bounded tasks.
func (t Task[T]) Validate() error {
	if t.Check == nil {
		return fmt.Errorf("poll task %q: nil check", t.Description)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("poll task %q: interval must be positive, got %s", t.Description, t.Interval)
	}
	if t.Timeout != Unbounded && t.Timeout < t.Interval {
		return fmt.Errorf("poll task %q: timeout %s shorter than interval %s", t.Description, t.Timeout, t.Interval)
	}
	return nil
}

func (t Task[T]) kind() string {
	if t.Kind == "" {
		return "unnamed"
	}
	return t.Kind
}

// TimeoutError is returned when a bounded task never became ready.
type TimeoutError struct {
	Task         string
	Timeout      time.Duration
	Elapsed      time.Duration
	Attempts     int
	LastObserved string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d checks)", e.Elapsed.Round(time.Millisecond), e.Task, e.Attempts)
	if e.LastObserved != "" {
		msg += "; last observed: " + e.LastObserved
	}
	return msg
}

// Is makes errors.Is(err, domain.ErrResourceNotReadyTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == domain.ErrResourceNotReadyTimeout
}

// Clock abstracts time so waits can be tested without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Watcher runs poll tasks. The zero value is not usable; use NewWatcher.
type Watcher struct {
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger used for per-attempt progress lines.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithMetrics sets the recorder for attempt and outcome counters.
func WithMetrics(m *metrics.Recorder) Option {
	return func(w *Watcher) { w.metrics = m }
}

// NewWatcher creates a Watcher using the real clock and a no-op logger by default.
func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{clock: realClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Clock returns the clock the watcher measures time with.
func (w *Watcher) Clock() Clock {
	return w.clock
}

// Await invokes task.Check immediately and then every task.Interval until it is Ready,
// fails permanently, the deadline passes, or ctx is cancelled.
//
// The deadline is measured from a single clock sample taken before the first check,
// and the last sleep is clipped to the remaining budget, so a task that never becomes
// ready returns a *TimeoutError no earlier than Timeout and no later than
// Timeout + Interval.
func Await[T any](ctx context.Context, w *Watcher, task Task[T]) (T, error) {
	var zero T
	if w == nil {
		w = NewWatcher()
	}
	if err := task.Validate(); err != nil {
		return zero, err
	}

	start := w.clock.Now()
	kind := task.kind()
	log := w.logger.With(zap.String("task", task.Description), zap.String("kind", kind))
	var lastObserved string
	attempts := 0

	for {
		attempts++
		res := task.Check(ctx)
		switch res.kind {
		case kindReady:
			w.metrics.PollOutcome(kind, "ready")
			log.Debug("wait resolved", zap.Int("attempts", attempts), zap.Duration("elapsed", w.clock.Now().Sub(start)))
			return res.value, nil
		case kindFailed:
			if !IsTransient(res.err) {
				w.metrics.PollOutcome(kind, "error")
				return zero, fmt.Errorf("%s: %w", task.Description, res.err)
			}
			lastObserved = res.err.Error()
		default:
			if res.observed != "" {
				lastObserved = res.observed
			}
		}

		elapsed := w.clock.Now().Sub(start)
		wait := task.Interval
		if task.Timeout != Unbounded {
			remaining := task.Timeout - elapsed
			if remaining <= 0 {
				w.metrics.PollOutcome(kind, "timeout")
				return zero, &TimeoutError{
					Task:         task.Description,
					Timeout:      task.Timeout,
					Elapsed:      elapsed,
					Attempts:     attempts,
					LastObserved: lastObserved,
				}
			}
			if remaining < wait {
				wait = remaining
			}
			log.Info("still waiting",
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", elapsed.Round(time.Second)),
				zap.Duration("remaining", remaining.Round(time.Second)),
				zap.String("observed", lastObserved))
		} else {
			log.Info("still waiting",
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", elapsed.Round(time.Second)),
				zap.String("observed", lastObserved))
		}
		w.metrics.PollAttempt(kind)

		if err := ctx.Err(); err != nil {
			w.metrics.PollOutcome(kind, "cancelled")
			return zero, err
		}
		select {
		case <-ctx.Done():
			w.metrics.PollOutcome(kind, "cancelled")
			return zero, ctx.Err()
		case <-w.clock.After(wait):
		}
	}
}
