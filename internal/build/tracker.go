// Package build follows one CI build from its queue ticket to a terminal status,
// surfacing manual-input pauses to the caller instead of waiting on them silently.
package build

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/poll"
)

// ErrPauseUnresolved is returned when WaitForTerminal is called while the build still
// has a pause that was surfaced but not resolved.
var ErrPauseUnresolved = errors.New("build is paused for input and the pause has not been resolved")

// Timings bounds the waits of a build.
type Timings struct {
	StartInterval time.Duration
	StartTimeout  time.Duration
	PollInterval  time.Duration
}

// DefaultTimings matches the expected latencies of a small Jenkins installation.
var DefaultTimings = Timings{
	StartInterval: 5 * time.Second,
	StartTimeout:  5 * time.Minute,
	PollInterval:  10 * time.Second,
}

// Tracker drives the lifecycle of builds of a single job.
type Tracker struct {
	ci      domain.CIServer
	watcher *poll.Watcher
	timings Timings
	// inferLostTickets enables the "latest build of the job" fallback when the CI
	// server forgets a queue ticket.
	inferLostTickets bool
	logger           *zap.Logger
}

// NewTracker creates a Tracker. A nil logger disables logging.
func NewTracker(ci domain.CIServer, watcher *poll.Watcher, timings Timings, inferLostTickets bool, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		ci:               ci,
		watcher:          watcher,
		timings:          timings,
		inferLostTickets: inferLostTickets,
		logger:           logger,
	}
}

// Queued is a triggered build that has not been bound to an identifier yet.
type Queued struct {
	Job    domain.JobHandle
	Ticket domain.QueueTicket
	// baseline is the job's latest build number before the trigger; 0 if none.
	baseline int
}

// Build is a started build. It can only be obtained from WaitForStart.
type Build struct {
	record       domain.BuildRecord
	job          domain.JobHandle
	pendingInput string
	// resolved holds inputs submitted since the build was last seen paused. It is
	// cleared once the build is observed in any other state, so a later pause that
	// reuses an input id is surfaced again.
	resolved map[string]domain.Decision
}

// Record returns the latest known snapshot of the build.
func (b *Build) Record() domain.BuildRecord {
	return b.record
}

// Pause is an outstanding input request of a build.
type Pause struct {
	build   *Build
	InputID string
}

// Build returns the paused build.
func (p *Pause) Build() *Build {
	return p.build
}

// Outcome is what WaitForTerminal observed. Exactly one of Pause or a terminal
// Record.Status is meaningful: when Pause is non-nil the build is not finished.
type Outcome struct {
	Record domain.BuildRecord
	Pause  *Pause
}

// Trigger records the job's current latest build and requests a new build.
func (t *Tracker) Trigger(ctx context.Context, job domain.JobHandle) (Queued, error) {
	// Jenkins numbers builds from 1, so a job without builds has baseline 0.
	baseline := 0
	id, ok, err := t.ci.LatestBuild(ctx, job)
	if err != nil {
		return Queued{}, fmt.Errorf("reading latest build of %s: %w", job.Name, err)
	}
	if ok {
		if n, convErr := strconv.Atoi(string(id)); convErr == nil {
			baseline = n
		}
	}

	ticket, err := t.ci.Trigger(ctx, job)
	if err != nil {
		return Queued{}, fmt.Errorf("triggering %s: %w", job.Name, err)
	}
	t.logger.Info("build queued", zap.String("job", job.Name), zap.String("ticket", string(ticket)), zap.Int("baseline", baseline))
	return Queued{Job: job, Ticket: ticket, baseline: baseline}, nil
}

// WaitForStart resolves the queue ticket to a concrete build identifier.
//
// When the CI server no longer knows the ticket and inference is enabled, the most
// recent build of the job is used, but only if it was created after the trigger. This
// can still bind to a build someone else triggered at the same time; such bindings are
// marked Inferred, and Ambiguous when more than one new build exists.
func (t *Tracker) WaitForStart(ctx context.Context, q Queued) (*Build, error) {
	rec, err := poll.Await(ctx, t.watcher, poll.Task[domain.BuildRecord]{
		Kind:        "build-start",
		Description: fmt.Sprintf("build start of %s (queue item %s)", q.Job.Name, q.Ticket),
		Interval:    t.timings.StartInterval,
		Timeout:     t.timings.StartTimeout,
		Check: func(ctx context.Context) poll.Result[domain.BuildRecord] {
			return t.checkStart(ctx, q)
		},
	})
	if err != nil {
		return nil, err
	}

	if rec.Inferred {
		fields := []zap.Field{zap.String("job", q.Job.Name), zap.String("build", string(rec.ID)), zap.String("ticket", string(q.Ticket))}
		if rec.Ambiguous {
			t.logger.Warn("queue ticket lost and several builds started since the trigger; bound to the latest one, verify it is ours", fields...)
		} else {
			t.logger.Warn("queue ticket lost; bound to the only build started since the trigger", fields...)
		}
	}
	t.logger.Info("build started", zap.String("job", q.Job.Name), zap.String("build", string(rec.ID)))
	return &Build{record: rec, job: q.Job, resolved: map[string]domain.Decision{}}, nil
}

func (t *Tracker) checkStart(ctx context.Context, q Queued) poll.Result[domain.BuildRecord] {
	id, started, err := t.ci.ResolveTicket(ctx, q.Ticket)
	switch {
	case err == nil && started:
		return poll.Ready(domain.BuildRecord{ID: id, Ticket: q.Ticket, Job: q.Job.Name, Status: domain.BuildRunning})
	case err == nil:
		return poll.Pending[domain.BuildRecord]("queue item " + string(q.Ticket) + " waiting for an executor")
	case !errors.Is(err, domain.ErrNotFound):
		return poll.Failed[domain.BuildRecord](err)
	}

	if !t.inferLostTickets {
		return poll.Failed[domain.BuildRecord](fmt.Errorf("queue item %s is unknown to the CI server and build inference is disabled", q.Ticket))
	}
	latest, ok, err := t.ci.LatestBuild(ctx, q.Job)
	if err != nil {
		return poll.Failed[domain.BuildRecord](err)
	}
	if !ok {
		return poll.Pending[domain.BuildRecord]("queue item " + string(q.Ticket) + " gone and job has no builds yet")
	}
	n, convErr := strconv.Atoi(string(latest))
	if convErr != nil || n <= q.baseline {
		return poll.Pending[domain.BuildRecord](fmt.Sprintf("queue item %s gone and latest build %s predates the trigger", q.Ticket, latest))
	}
	return poll.Ready(domain.BuildRecord{
		ID:        latest,
		Ticket:    q.Ticket,
		Job:       q.Job.Name,
		Status:    domain.BuildRunning,
		Inferred:  true,
		Ambiguous: n > q.baseline+1,
	})
}

// WaitForTerminal polls the build until it succeeds, fails or pauses for input.
// Running builds are polled without a deadline.
func (t *Tracker) WaitForTerminal(ctx context.Context, b *Build) (Outcome, error) {
	if b.pendingInput != "" {
		return Outcome{}, fmt.Errorf("build %s input %s: %w", b.record.ID, b.pendingInput, ErrPauseUnresolved)
	}

	rec, err := poll.Await(ctx, t.watcher, poll.Task[domain.BuildRecord]{
		Kind:        "build-status",
		Description: fmt.Sprintf("build %s #%s", b.job.Name, b.record.ID),
		Interval:    t.timings.PollInterval,
		Timeout:     poll.Unbounded,
		Check: func(ctx context.Context) poll.Result[domain.BuildRecord] {
			rec, err := t.ci.GetBuildStatus(ctx, b.job, b.record.ID)
			if err != nil {
				return poll.Failed[domain.BuildRecord](err)
			}
			if rec.Status != domain.BuildPausedForInput {
				clear(b.resolved)
			}
			switch {
			case rec.Status.Terminal():
				return poll.Ready(rec)
			case rec.Status == domain.BuildPausedForInput:
				if _, done := b.resolved[rec.InputID]; done {
					return poll.Pending[domain.BuildRecord]("input " + rec.InputID + " submitted, waiting for the build to resume")
				}
				return poll.Ready(rec)
			default:
				return poll.Pending[domain.BuildRecord]("build " + string(rec.ID) + " " + string(rec.Status))
			}
		},
	})
	if err != nil {
		return Outcome{}, err
	}

	rec.Ticket = b.record.Ticket
	rec.Inferred = b.record.Inferred
	rec.Ambiguous = b.record.Ambiguous
	if rec.StartedAt.IsZero() {
		rec.StartedAt = b.record.StartedAt
	}
	b.record = rec

	if rec.Status == domain.BuildPausedForInput {
		b.pendingInput = rec.InputID
		t.logger.Info("build paused for input", zap.String("build", string(rec.ID)), zap.String("input", rec.InputID))
		return Outcome{Record: rec, Pause: &Pause{build: b, InputID: rec.InputID}}, nil
	}
	t.logger.Info("build finished", zap.String("build", string(rec.ID)), zap.String("status", string(rec.Status)), zap.String("result", rec.Result))
	return Outcome{Record: rec}, nil
}

// ResolvePause submits decision for the pause. The tracker does not decide; callers
// obtain the decision from an approval gate.
func (t *Tracker) ResolvePause(ctx context.Context, p *Pause, decision domain.Decision) error {
	b := p.build
	if b.pendingInput != p.InputID {
		return fmt.Errorf("build %s has no outstanding input %s", b.record.ID, p.InputID)
	}
	if err := t.ci.ResolveInputGate(ctx, b.job, b.record.ID, p.InputID, decision); err != nil {
		return fmt.Errorf("resolving input %s of build %s: %w", p.InputID, b.record.ID, err)
	}
	b.resolved[p.InputID] = decision
	b.pendingInput = ""
	t.logger.Info("input resolved", zap.String("build", string(b.record.ID)), zap.String("input", p.InputID), zap.String("decision", string(decision)))
	return nil
}
