package poll_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/metrics"
	"github.com/waabox/bgrelease/internal/poll"
	"github.com/waabox/bgrelease/internal/poll/polltest"
)

func newWatcher(clock *polltest.FakeClock) *poll.Watcher {
	return poll.NewWatcher(poll.WithClock(clock), poll.WithMetrics(metrics.New()))
}

func TestAwait_AlreadyReadyResolvesWithoutSleeping(t *testing.T) {
	clock := polltest.NewFakeClock()
	got, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[string]{
		Description: "ready at once",
		Interval:    10 * time.Second,
		Timeout:     time.Minute,
		Check:       func(context.Context) poll.Result[string] { return poll.Ready("ok") },
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Empty(t, clock.Sleeps())
}

func TestAwait_ReadyWithinTimeoutReturnsPayload(t *testing.T) {
	clock := polltest.NewFakeClock()
	start := clock.Now()
	calls := 0
	got, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[int]{
		Description: "third time lucky",
		Interval:    10 * time.Second,
		Timeout:     time.Minute,
		Check: func(context.Context) poll.Result[int] {
			calls++
			if calls < 3 {
				return poll.Pending[int](fmt.Sprintf("call %d", calls))
			}
			return poll.Ready(calls)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, clock.Sleeps())
	assert.LessOrEqual(t, clock.Now().Sub(start), time.Minute+10*time.Second)
}

func TestAwait_NeverReadyTimesOutBetweenTAndTPlusInterval(t *testing.T) {
	cases := []struct {
		name     string
		interval time.Duration
		timeout  time.Duration
		work     time.Duration
	}{
		{"aligned", 10 * time.Second, 60 * time.Second, 0},
		{"unaligned", 7 * time.Second, 30 * time.Second, 0},
		{"slow predicate", 10 * time.Second, 30 * time.Second, 4 * time.Second},
		{"interval equals timeout", 5 * time.Second, 5 * time.Second, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := polltest.NewFakeClock()
			start := clock.Now()
			_, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[struct{}]{
				Description: "never",
				Interval:    tc.interval,
				Timeout:     tc.timeout,
				Check: func(context.Context) poll.Result[struct{}] {
					clock.Advance(tc.work)
					return poll.Pending[struct{}]("pod in phase Pending")
				},
			})

			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrResourceNotReadyTimeout))
			var timeoutErr *poll.TimeoutError
			require.True(t, errors.As(err, &timeoutErr))
			assert.Equal(t, "pod in phase Pending", timeoutErr.LastObserved)

			elapsed := clock.Now().Sub(start)
			assert.GreaterOrEqual(t, elapsed, tc.timeout)
			assert.LessOrEqual(t, elapsed, tc.timeout+tc.interval)
		})
	}
}

func TestAwait_TransientErrorsArePending(t *testing.T) {
	clock := polltest.NewFakeClock()
	calls := 0
	got, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[string]{
		Description: "service exists",
		Interval:    time.Second,
		Timeout:     time.Minute,
		Check: func(context.Context) poll.Result[string] {
			calls++
			switch calls {
			case 1:
				return poll.Failed[string](fmt.Errorf("service jenkins: %w", domain.ErrNotFound))
			case 2:
				return poll.Failed[string](fmt.Errorf("GET /api/json: %w", domain.ErrUnavailable))
			default:
				return poll.Ready("NodePort")
			}
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "NodePort", got)
	assert.Equal(t, 3, calls)
}

func TestAwait_TimeoutReportsLastTransientError(t *testing.T) {
	clock := polltest.NewFakeClock()
	_, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[string]{
		Description: "service exists",
		Interval:    time.Second,
		Timeout:     3 * time.Second,
		Check: func(context.Context) poll.Result[string] {
			return poll.Failed[string](fmt.Errorf("service jenkins: %w", domain.ErrNotFound))
		},
	})

	var timeoutErr *poll.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Contains(t, timeoutErr.LastObserved, "not found")
	assert.False(t, errors.Is(err, domain.ErrNotFound), "a timeout must not look transient to an outer wait")
}

func TestAwait_PermanentErrorEndsWaitImmediately(t *testing.T) {
	clock := polltest.NewFakeClock()
	cause := errors.New("queue item cancelled")
	_, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[string]{
		Description: "build start",
		Interval:    time.Second,
		Timeout:     time.Minute,
		Check:       func(context.Context) poll.Result[string] { return poll.Failed[string](cause) },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, domain.ErrResourceNotReadyTimeout))
	assert.Empty(t, clock.Sleeps())
}

func TestAwait_UnboundedKeepsPolling(t *testing.T) {
	clock := polltest.NewFakeClock()
	calls := 0
	got, err := poll.Await(context.Background(), newWatcher(clock), poll.Task[int]{
		Description: "long build",
		Interval:    10 * time.Second,
		Timeout:     poll.Unbounded,
		Check: func(context.Context) poll.Result[int] {
			calls++
			if calls < 500 {
				return poll.Pending[int]("running")
			}
			return poll.Ready(calls)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 500, got)
	assert.Len(t, clock.Sleeps(), 499)
}

func TestAwait_ContextCancellationStopsWait(t *testing.T) {
	clock := polltest.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := poll.Await(ctx, newWatcher(clock), poll.Task[int]{
		Description: "cancelled",
		Interval:    time.Second,
		Timeout:     poll.Unbounded,
		Check: func(context.Context) poll.Result[int] {
			calls++
			if calls == 2 {
				cancel()
			}
			return poll.Pending[int]("")
		},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestTask_Validate(t *testing.T) {
	check := func(context.Context) poll.Result[int] { return poll.Ready(1) }
	cases := []struct {
		name    string
		task    poll.Task[int]
		wantErr bool
	}{
		{"valid", poll.Task[int]{Interval: time.Second, Timeout: time.Minute, Check: check}, false},
		{"unbounded", poll.Task[int]{Interval: time.Second, Timeout: poll.Unbounded, Check: check}, false},
		{"zero interval", poll.Task[int]{Interval: 0, Timeout: time.Minute, Check: check}, true},
		{"timeout below interval", poll.Task[int]{Interval: time.Minute, Timeout: time.Second, Check: check}, true},
		{"nil check", poll.Task[int]{Interval: time.Second, Timeout: time.Minute}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			assert.Equal(t, tc.wantErr, err != nil, "err=%v", err)
		})
	}
}

func TestAwait_InvalidTaskDoesNotCallCheck(t *testing.T) {
	called := false
	_, err := poll.Await(context.Background(), nil, poll.Task[int]{
		Description: "bad",
		Interval:    0,
		Timeout:     time.Second,
		Check: func(context.Context) poll.Result[int] {
			called = true
			return poll.Ready(1)
		},
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestAwait_MetricsUseTaskKind(t *testing.T) {
	clock := polltest.NewFakeClock()
	rec := metrics.New()
	w := poll.NewWatcher(poll.WithClock(clock), poll.WithMetrics(rec))

	for _, build := range []string{"41", "42"} {
		calls := 0
		_, err := poll.Await(context.Background(), w, poll.Task[string]{
			Kind:        "build-status",
			Description: "build blue-green-pipeline #" + build,
			Interval:    time.Second,
			Timeout:     poll.Unbounded,
			Check: func(context.Context) poll.Result[string] {
				calls++
				if calls < 2 {
					return poll.Pending[string]("running")
				}
				return poll.Ready("succeeded")
			},
		})
		require.NoError(t, err)
	}

	expected := `
# HELP bgrelease_poll_outcomes_total Resolved waits by outcome (ready, timeout, error, cancelled).
# TYPE bgrelease_poll_outcomes_total counter
bgrelease_poll_outcomes_total{outcome="ready",task="build-status"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Gatherer(), strings.NewReader(expected), "bgrelease_poll_outcomes_total"))
}
