// Package orchestrator runs a blue/green release as an ordered sequence of phases and
// always ends with the cleanup decision.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/auth"
	"github.com/waabox/bgrelease/internal/build"
	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/metrics"
	"github.com/waabox/bgrelease/internal/poll"
	"github.com/waabox/bgrelease/internal/release"
	"github.com/waabox/bgrelease/internal/template"
)

// PhaseError is the error a run ends with: the phase that failed and its cause.
type PhaseError struct {
	Phase domain.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a run.
type Result struct {
	Phases  []domain.PhaseRecord
	Release release.ReleaseState
	// Handle is unset unless provisioning reached readiness (or setup was skipped and
	// the existing installation was resolved).
	Handle domain.InfrastructureHandle
	Err    error
}

// Observer receives operator-facing progress. tui.Console implements it.
type Observer interface {
	PhaseStarted(p domain.Phase)
	PhaseFinished(r domain.PhaseRecord)
	Notef(format string, args ...any)
	Warnf(format string, args ...any)
}

// CIConnector builds the CI client once its endpoint and credentials are known.
// refresh re-reads the password after the server rejects it.
type CIConnector func(endpoint string, creds auth.Credentials, refresh func(context.Context) (string, error)) domain.CIServer

// Publisher commits and pushes files of the application checkout.
type Publisher interface {
	CommitAndPush(ctx context.Context, paths []string, message string) (string, error)
}

// Dependencies are the collaborators of a Controller. Secrets, Publisher, Metrics,
// Logger and HTTPClient may be nil.
type Dependencies struct {
	Infra     domain.Infrastructure
	Secrets   domain.SecretReader
	ConnectCI CIConnector
	Templates template.Set
	Publisher Publisher

	// BuildGate answers build input requests, PushGate the push acknowledgment and
	// CleanupGate the final teardown question.
	BuildGate   domain.ApprovalGate
	PushGate    domain.ApprovalGate
	CleanupGate domain.ApprovalGate

	Observer   Observer
	Watcher    *poll.Watcher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Controller drives one run. It is not reusable.
type Controller struct {
	cfg  config.RunConfiguration
	deps Dependencies
	log  *zap.Logger
	obs  Observer

	handle  domain.InfrastructureHandle
	job     domain.JobHandle
	tracker *build.Tracker
	state   release.Machine
	blue    release.BlueDeployed
}

// New creates a Controller.
func New(cfg config.RunConfiguration, deps Dependencies) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Watcher == nil {
		deps.Watcher = poll.NewWatcher(poll.WithLogger(deps.Logger.Named("poll")), poll.WithMetrics(deps.Metrics))
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	c := &Controller{cfg: cfg, deps: deps, log: deps.Logger, obs: obs}
	c.state = release.New(c.now)
	return c
}

func (c *Controller) now() time.Time {
	return c.deps.Watcher.Clock().Now()
}

type step struct {
	phase domain.Phase
	run   func(ctx context.Context) error
	// skip, when non-empty, records the phase as skipped with this reason.
	skip string
}

// Run executes the run. Phases stop at the first failure; the cleanup decision is made
// in every case.
func (c *Controller) Run(ctx context.Context) Result {
	var res Result

	if c.cfg.CleanupOnly {
		err := c.runPhase(ctx, &res, step{phase: domain.PhasePreflight, run: c.preflight})
		if err == nil {
			err = c.runPhase(ctx, &res, step{phase: domain.PhaseCleanup, run: c.destroy})
		}
		res.Err = err
		return res
	}

	steps := []step{
		{phase: domain.PhasePreflight, run: c.preflight},
		{phase: domain.PhaseProvision, run: c.provision},
		{phase: domain.PhaseConfigureCI, run: c.configureCI},
		{phase: domain.PhaseStageBlue, run: c.stageBlue},
		{phase: domain.PhaseStageGreen, run: c.stageGreen},
	}
	if c.cfg.SkipSetup {
		steps[1].skip = "setup skipped, using the existing installation"
	}

	var runErr error
	for _, s := range steps {
		if runErr = c.runPhase(ctx, &res, s); runErr != nil {
			break
		}
	}
	c.markUnreached(&res, steps)

	// Report always runs so that a failed green build still states what is active.
	_ = c.runPhase(ctx, &res, step{phase: domain.PhaseReport, run: func(ctx context.Context) error {
		c.report(ctx, runErr)
		return nil
	}})

	cleanupErr := c.runPhase(context.WithoutCancel(ctx), &res, step{phase: domain.PhaseCleanup, run: c.offerCleanup})

	res.Release = c.state.State()
	res.Handle = c.handle
	res.Err = runErr
	if res.Err == nil && cleanupErr != nil {
		res.Err = cleanupErr
	}
	return res
}

// markUnreached records the phases that never ran because an earlier one failed.
func (c *Controller) markUnreached(res *Result, steps []step) {
	ran := make(map[domain.Phase]bool, len(res.Phases))
	for _, p := range res.Phases {
		ran[p.Phase] = true
	}
	for _, s := range steps {
		if !ran[s.phase] {
			res.Phases = append(res.Phases, domain.PhaseRecord{Phase: s.phase, Status: domain.PhasePending, Detail: "not reached"})
		}
	}
}

func (c *Controller) runPhase(ctx context.Context, res *Result, s step) error {
	if s.skip != "" {
		rec := domain.PhaseRecord{Phase: s.phase, Status: domain.PhaseSkipped, Detail: s.skip}
		res.Phases = append(res.Phases, rec)
		c.obs.PhaseFinished(rec)
		c.deps.Metrics.ObservePhase(string(s.phase), string(domain.PhaseSkipped), 0)
		return nil
	}

	c.obs.PhaseStarted(s.phase)
	start := c.now()
	err := s.run(ctx)
	rec := domain.PhaseRecord{Phase: s.phase, Status: domain.PhaseSucceeded, Duration: c.now().Sub(start)}
	var skipped *skippedError
	switch {
	case errors.As(err, &skipped):
		rec.Status = domain.PhaseSkipped
		rec.Detail = skipped.reason
		err = nil
	case err != nil:
		rec.Status = domain.PhaseFailed
		rec.Detail = err.Error()
		c.log.Error("phase failed", zap.String("phase", string(s.phase)), zap.Error(err))
		err = &PhaseError{Phase: s.phase, Err: err}
	}
	res.Phases = append(res.Phases, rec)
	c.deps.Metrics.ObservePhase(string(s.phase), string(rec.Status), rec.Duration)
	c.obs.PhaseFinished(rec)
	return err
}

// skippedError ends a phase as skipped instead of failed.
type skippedError struct {
	reason string
}

func (e *skippedError) Error() string {
	return e.reason
}

type nopObserver struct{}

func (nopObserver) PhaseStarted(domain.Phase)        {}
func (nopObserver) PhaseFinished(domain.PhaseRecord) {}
func (nopObserver) Notef(string, ...any)             {}
func (nopObserver) Warnf(string, ...any)             {}
