package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/auth"
	"github.com/waabox/bgrelease/internal/build"
	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/poll"
	"github.com/waabox/bgrelease/internal/release"
	"github.com/waabox/bgrelease/internal/template"
)

func (c *Controller) preflight(ctx context.Context) error {
	if err := c.deps.Infra.Preflight(ctx); err != nil {
		return err
	}
	if c.cfg.CleanupOnly {
		return nil
	}
	if _, err := os.Stat(c.cfg.Release.AppFile); err != nil {
		return fmt.Errorf("application file: %v: %w", err, domain.ErrConfiguration)
	}
	if c.cfg.Release.AutoPush && c.deps.Publisher == nil {
		return fmt.Errorf("release.auto_push needs a git checkout to push from: %w", domain.ErrConfiguration)
	}
	return nil
}

// provision starts the installation and waits until the CI server answers on an
// external address. The handle is only kept once that succeeded.
func (c *Controller) provision(ctx context.Context) error {
	t := c.cfg.Timeouts
	handle, err := c.deps.Infra.Provision(ctx, c.cfg.Region)
	if err != nil {
		return err
	}

	service := c.cfg.Jenkins.ReleaseName
	mode := c.cfg.Exposure()
	_, err = poll.Await(ctx, c.deps.Watcher, poll.Task[struct{}]{
		Kind:        "service-exposure",
		Description: "exposure of service " + service,
		Interval:    t.ServiceInterval,
		Timeout:     t.ServiceTimeout,
		Check: func(ctx context.Context) poll.Result[struct{}] {
			if err := c.deps.Infra.PatchServiceExposure(ctx, service, mode); err != nil {
				return poll.Failed[struct{}](err)
			}
			return poll.Ready(struct{}{})
		},
	})
	if err != nil {
		return err
	}

	ready, err := poll.Await(ctx, c.deps.Watcher, poll.Task[domain.Readiness]{
		Kind:        "ci-ready",
		Description: "CI controller readiness",
		Interval:    t.ReadyInterval,
		Timeout:     t.ReadyTimeout,
		Check: func(ctx context.Context) poll.Result[domain.Readiness] {
			r, err := c.deps.Infra.CheckReady(ctx)
			switch {
			case err != nil:
				return poll.Failed[domain.Readiness](err)
			case !r.Ready:
				return poll.Pending[domain.Readiness](r.Detail)
			default:
				return poll.Ready(r)
			}
		},
	})
	if err != nil {
		return err
	}
	c.obs.Notef("%s", ready.Detail)

	endpoint, err := c.awaitEndpoint(ctx, service)
	if err != nil {
		return err
	}
	c.handle = handle.With(domain.HandleCIEndpoint, endpoint)
	return nil
}

// awaitEndpoint waits until the service has an externally reachable address.
func (c *Controller) awaitEndpoint(ctx context.Context, service string) (string, error) {
	return poll.Await(ctx, c.deps.Watcher, poll.Task[string]{
		Kind:        "service-endpoint",
		Description: "external address of service " + service,
		Interval:    c.cfg.Timeouts.ServiceInterval,
		Timeout:     c.cfg.Timeouts.ServiceTimeout,
		Check: func(ctx context.Context) poll.Result[string] {
			addr, ok, err := c.deps.Infra.ReadServiceEndpoint(ctx, service)
			switch {
			case err != nil:
				return poll.Failed[string](err)
			case !ok:
				return poll.Pending[string]("service " + service + " has no external address yet")
			default:
				return poll.Ready(addr)
			}
		},
	})
}

// ciEndpoint prefers the address provisioning produced, then the configured URL, then
// whatever the CI service exposes right now.
func (c *Controller) ciEndpoint(ctx context.Context) (string, error) {
	if addr, ok := c.handle.Get(domain.HandleCIEndpoint); ok {
		return addr, nil
	}
	if c.cfg.Jenkins.URL != "" {
		return c.cfg.Jenkins.URL, nil
	}
	service := c.cfg.Jenkins.ReleaseName
	addr, ok, err := c.deps.Infra.ReadServiceEndpoint(ctx, service)
	if err != nil {
		return "", fmt.Errorf("reading CI endpoint: %v: %w", err, domain.ErrConfiguration)
	}
	if !ok {
		return "", fmt.Errorf("service %s has no external address and jenkins.url is not set: %w", service, domain.ErrConfiguration)
	}
	return addr, nil
}

func (c *Controller) configureCI(ctx context.Context) error {
	t := c.cfg.Timeouts
	endpoint, err := c.ciEndpoint(ctx)
	if err != nil {
		return err
	}
	c.handle = c.handle.With(domain.HandleCIEndpoint, endpoint)

	creds := auth.NewCredentialManager(c.deps.Secrets, c.cfg.Jenkins.User, c.cfg.Jenkins.Password, c.cfg.Jenkins.ReleaseName, c.cfg.Jenkins.AdminSecretKey)
	login, err := poll.Await(ctx, c.deps.Watcher, poll.Task[auth.Credentials]{
		Kind:        "ci-credentials",
		Description: "CI admin credentials",
		Interval:    t.ConnectInterval,
		Timeout:     t.ConnectTimeout,
		Check: func(ctx context.Context) poll.Result[auth.Credentials] {
			cr, err := creds.Resolve(ctx)
			if err != nil {
				return poll.Failed[auth.Credentials](err)
			}
			return poll.Ready(cr)
		},
	})
	if err != nil {
		return err
	}

	ci := c.deps.ConnectCI(endpoint, login, creds.Refresh)
	version, err := poll.Await(ctx, c.deps.Watcher, poll.Task[string]{
		Kind:        "ci-connect",
		Description: "CI server at " + endpoint,
		Interval:    t.ConnectInterval,
		Timeout:     t.ConnectTimeout,
		Check: func(ctx context.Context) poll.Result[string] {
			v, err := ci.Ping(ctx)
			if err != nil {
				return poll.Failed[string](err)
			}
			return poll.Ready(v)
		},
	})
	if err != nil {
		return err
	}
	c.obs.Notef("connected to Jenkins %s at %s", version, endpoint)

	if c.cfg.SkipSetup {
		c.job = domain.JobHandle{Name: c.cfg.JobName}
		c.obs.Notef("using the existing job %s", c.cfg.JobName)
	} else {
		definition, err := c.deps.Templates.JobDefinition(c.cfg.Repo)
		if err != nil {
			return err
		}
		c.job, err = ci.EnsureJob(ctx, c.cfg.JobName, definition)
		if err != nil {
			return fmt.Errorf("configuring job %s: %w", c.cfg.JobName, err)
		}
		c.obs.Notef("job %s builds %s (%s)", c.job.Name, c.cfg.Repo.URL, c.cfg.Repo.Branch)
	}

	c.tracker = build.NewTracker(ci, c.deps.Watcher, build.Timings{
		StartInterval: t.StartInterval,
		StartTimeout:  t.StartTimeout,
		PollInterval:  t.BuildInterval,
	}, c.cfg.Jenkins.InferLostTickets, c.log.Named("build"))
	return nil
}

// runBuild triggers one build and follows it to a terminal status, answering input
// requests through the build gate.
func (c *Controller) runBuild(ctx context.Context, color domain.Color) (domain.BuildRecord, error) {
	q, err := c.tracker.Trigger(ctx, c.job)
	if err != nil {
		return domain.BuildRecord{}, err
	}
	c.obs.Notef("%s build queued as item %s", color, q.Ticket)

	b, err := c.tracker.WaitForStart(ctx, q)
	if err != nil {
		return domain.BuildRecord{}, err
	}
	started := b.Record()
	if started.Ambiguous {
		c.obs.Warnf("queue item %s was lost; following build #%s, but other builds started at the same time", q.Ticket, started.ID)
	}
	c.obs.Notef("%s build #%s started", color, started.ID)

	for {
		out, err := c.tracker.WaitForTerminal(ctx, b)
		if err != nil {
			return b.Record(), err
		}
		if out.Pause == nil {
			rec := out.Record
			c.deps.Metrics.BuildFinished(string(color), string(rec.Status))
			if rec.Status == domain.BuildFailed {
				return rec, fmt.Errorf("%s build #%s finished with %s: %w", color, rec.ID, rec.Result, domain.ErrBuildFailure)
			}
			c.obs.Notef("%s build #%s succeeded", color, rec.ID)
			return rec, nil
		}

		decision, err := c.deps.BuildGate.RequestDecision(ctx, domain.Prompt{
			Title:   fmt.Sprintf("Build #%s is waiting for input", out.Record.ID),
			Message: fmt.Sprintf("Job %s asks for input %q. Proceed?", c.job.Name, out.Pause.InputID),
			Default: domain.Proceed,
		})
		if err != nil {
			return out.Record, err
		}
		if err := c.tracker.ResolvePause(ctx, out.Pause, decision); err != nil {
			return out.Record, err
		}
		c.obs.Notef("build #%s input %s answered: %s", out.Record.ID, out.Pause.InputID, decision)
		if decision == domain.Abort {
			return out.Record, fmt.Errorf("%s build #%s input %s: %w", color, out.Record.ID, out.Pause.InputID, domain.ErrAborted)
		}
	}
}

func (c *Controller) stageBlue(ctx context.Context) error {
	start, ok := c.state.(release.Uninitialized)
	if !ok {
		return fmt.Errorf("blue stage requested in state %s", c.state.State().Stage)
	}
	rec, err := c.runBuild(ctx, domain.Blue)
	if err != nil {
		return err
	}
	blue, err := start.DeployBlue(rec, c.cfg.Release.BlueLabel)
	if err != nil {
		return err
	}
	c.state, c.blue = blue, blue

	addr, err := c.awaitEndpoint(ctx, c.cfg.Release.ActiveService)
	if err != nil {
		return err
	}
	c.handle = c.handle.With(domain.HandleActiveServiceAddress, addr)
	c.obs.Notef("blue %q is serving at %s", c.cfg.Release.BlueLabel, addr)
	return nil
}

func (c *Controller) stageGreen(ctx context.Context) error {
	label := c.cfg.Release.GreenLabel
	pending, err := c.blue.AuthorGreen(label)
	if err != nil {
		return err
	}

	appFile := c.cfg.Release.AppFile
	changed, err := template.RewriteVersionFile(appFile, c.cfg.Release.VersionVariable, label)
	if err != nil {
		return err
	}
	c.state = pending
	shown := c.relative(appFile)
	if changed {
		c.obs.Notef("%s now declares %q", shown, label)
	} else {
		c.obs.Notef("%s already declares %q", shown, label)
	}

	if err := c.publishGreen(ctx, shown, label); err != nil {
		return err
	}

	rec, err := c.runBuild(ctx, domain.Green)
	if err != nil {
		return err
	}
	deployed, err := pending.CompleteGreen(rec)
	if err != nil {
		return err
	}
	c.state = deployed
	return nil
}

// publishGreen pushes the rewritten file, or waits for the operator to do it.
func (c *Controller) publishGreen(ctx context.Context, shown, label string) error {
	if c.cfg.Release.AutoPush {
		hash, err := c.deps.Publisher.CommitAndPush(ctx, []string{c.cfg.Release.AppFile}, "Release "+label)
		if err != nil {
			return err
		}
		c.obs.Notef("pushed %s to %s", shortHash(hash), c.cfg.Repo.Branch)
		return nil
	}
	decision, err := c.deps.PushGate.RequestDecision(ctx, domain.Prompt{
		Title:   "Push the green version",
		Message: fmt.Sprintf("Commit and push %s to %s (branch %s), then press enter.", shown, c.cfg.Repo.URL, c.cfg.Repo.Branch),
		Default: domain.Proceed,
	})
	if err != nil {
		return err
	}
	if decision == domain.Abort {
		return fmt.Errorf("green version was not pushed: %w", domain.ErrAborted)
	}
	return nil
}

func (c *Controller) relative(path string) string {
	if rel, err := filepath.Rel(c.cfg.Workdir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func (c *Controller) report(ctx context.Context, runErr error) {
	st := c.state.State()
	addr, hasAddr := c.handle.ActiveServiceAddress()
	switch st.Stage {
	case release.StageGreenDeployed:
		c.obs.Notef("green %q replaced blue %q", st.GreenVersionLabel, st.BlueVersionLabel)
	case release.StageGreenPending, release.StageBlueDeployed:
		c.obs.Warnf("blue %q remains the active deployment", st.BlueVersionLabel)
	default:
		c.obs.Notef("nothing was deployed")
	}
	if hasAddr {
		c.obs.Notef("active service: %s", addr)
	}
	if runErr == nil && st.Stage == release.StageGreenDeployed && hasAddr && c.cfg.Release.VerifyActive {
		c.verifyActive(ctx, addr, st.GreenVersionLabel)
	}
}

// verifyActive checks once that the active service serves label. It only warns.
func (c *Controller) verifyActive(ctx context.Context, addr, label string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		c.obs.Warnf("cannot check %s: %v", addr, err)
		return
	}
	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		c.obs.Warnf("active service did not answer: %v", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		c.obs.Warnf("reading the active service answer: %v", err)
		return
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), label) {
		c.obs.Warnf("active service answered %d without %q; the traffic switch may still be in progress", resp.StatusCode, label)
		c.log.Warn("active service does not serve the green version", zap.String("address", addr), zap.Int("status", resp.StatusCode))
		return
	}
	c.obs.Notef("active service serves %q", label)
}

func (c *Controller) offerCleanup(ctx context.Context) error {
	var message string
	if c.cfg.Infra == config.InfraEKS {
		message = fmt.Sprintf("Uninstall release %s and delete namespace %s? The EKS cluster itself is kept.", c.cfg.Jenkins.ReleaseName, c.cfg.Namespace)
	} else {
		message = fmt.Sprintf("Delete the minikube profile %s and everything in it?", c.cfg.Minikube.Profile)
	}
	decision, err := c.deps.CleanupGate.RequestDecision(ctx, domain.Prompt{
		Title:   "Run cleanup?",
		Message: message,
		Default: domain.Abort,
	})
	if err != nil {
		return err
	}
	if decision != domain.Proceed {
		c.obs.Notef("resources kept; run again with --cleanup-only to remove them")
		return &skippedError{reason: "kept by operator"}
	}
	return c.destroy(ctx)
}

func (c *Controller) destroy(ctx context.Context) error {
	if err := c.deps.Infra.Destroy(ctx); err != nil {
		return err
	}
	c.obs.Notef("cleanup complete")
	return nil
}
