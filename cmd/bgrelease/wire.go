package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/approval"
	"github.com/waabox/bgrelease/internal/auth"
	"github.com/waabox/bgrelease/internal/command"
	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/git"
	"github.com/waabox/bgrelease/internal/infra"
	"github.com/waabox/bgrelease/internal/infra/eks"
	"github.com/waabox/bgrelease/internal/infra/helm"
	"github.com/waabox/bgrelease/internal/infra/kube"
	"github.com/waabox/bgrelease/internal/infra/minikube"
	"github.com/waabox/bgrelease/internal/metrics"
	"github.com/waabox/bgrelease/internal/orchestrator"
	"github.com/waabox/bgrelease/internal/poll"
	"github.com/waabox/bgrelease/internal/provider"
	"github.com/waabox/bgrelease/internal/provider/jenkins"
	"github.com/waabox/bgrelease/internal/template"
	"github.com/waabox/bgrelease/internal/tui"
)

// Environment variables holding push credentials. They are never read from the
// config file.
const (
	envGitToken  = "BGRELEASE_GIT_TOKEN"
	envGitSSHKey = "BGRELEASE_GIT_SSH_KEY"
)

// wiring carries the process-level collaborators into wire.
type wiring struct {
	in      io.Reader
	out     io.Writer
	console *tui.Console
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// terminal reports whether answers can be read interactively from in.
func (w wiring) terminal() bool {
	f, ok := w.in.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type gates struct {
	build, push, cleanup domain.ApprovalGate
}

// wire builds the controller dependencies for rc.
func wire(ctx context.Context, rc config.RunConfiguration, w wiring) (orchestrator.Dependencies, error) {
	templates, err := template.Load(rc.Jenkins.TemplateDir)
	if err != nil {
		return orchestrator.Dependencies{}, err
	}
	g, err := buildGates(rc, w)
	if err != nil {
		return orchestrator.Dependencies{}, err
	}

	infrastructure, err := infraRegistry(rc, templates, w.logger).Open(ctx, rc.Infra)
	if err != nil {
		return orchestrator.Dependencies{}, err
	}
	secrets, _ := infrastructure.(domain.SecretReader)

	deps := orchestrator.Dependencies{
		Infra:       infrastructure,
		Secrets:     secrets,
		ConnectCI:   connectJenkins,
		Templates:   templates,
		BuildGate:   g.build,
		PushGate:    g.push,
		CleanupGate: g.cleanup,
		Observer:    w.console,
		Watcher:     poll.NewWatcher(poll.WithLogger(w.logger.Named("poll")), poll.WithMetrics(w.metrics)),
		Metrics:     w.metrics,
		Logger:      w.logger,
	}
	if rc.Release.AutoPush {
		deps.Publisher = git.NewPublisher(rc.Workdir, rc.Release.PushRemote, rc.Repo.Branch, rc.Release.Author, git.Credentials{
			Token:      os.Getenv(envGitToken),
			SSHKeyPath: os.Getenv(envGitSSHKey),
		})
	}
	return deps, nil
}

// buildGates picks who answers each question of the run. Without a terminal every
// question must be answered by policy or by --auto-approve.
func buildGates(rc config.RunConfiguration, w wiring) (gates, error) {
	logger := w.logger.Named("approval")
	if rc.AutoApprove {
		proceed := approval.NewFixed(domain.Proceed, logger)
		return gates{build: proceed, push: proceed, cleanup: proceed}, nil
	}
	if rc.CleanupOnly {
		defaults := approval.NewDefaults(logger)
		return gates{build: defaults, push: defaults, cleanup: defaults}, nil
	}
	if !w.terminal() {
		return gates{}, fmt.Errorf("standard input is not a terminal; rerun with --auto-approve: %w", domain.ErrConfiguration)
	}

	prompt := tui.NewPromptGate(w.in, w.out)
	build, err := approval.ForInputPolicy(rc.Jenkins.InputPolicy, prompt, logger)
	if err != nil {
		return gates{}, err
	}
	return gates{build: build, push: prompt, cleanup: prompt}, nil
}

// infraRegistry registers one factory per infrastructure variant. Factories run only
// for the selected variant.
func infraRegistry(rc config.RunConfiguration, templates template.Set, logger *zap.Logger) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(config.InfraMinikube, func(context.Context) (domain.Infrastructure, error) {
		run := command.NewExec(logger.Named("exec"), 0)
		cluster := minikube.New(run, minikube.Profile{
			Name:   rc.Minikube.Profile,
			Memory: rc.Minikube.Memory,
			CPUs:   rc.Minikube.CPUs,
		})
		// minikube names its kubeconfig context after the profile.
		kubeContext := rc.KubeContext
		if kubeContext == "" {
			kubeContext = rc.Minikube.Profile
		}
		return provisioner(rc, templates, infra.NewMinikube(cluster, logger.Named("minikube")), kubeContext, logger)
	})
	reg.Register(config.InfraEKS, func(ctx context.Context) (domain.Infrastructure, error) {
		cluster, err := eks.Open(ctx, rc.Region, rc.ClusterName, rc.AccountID)
		if err != nil {
			return nil, err
		}
		return provisioner(rc, templates, infra.NewEKS(cluster, rc.AccountID), rc.KubeContext, logger)
	})
	return reg
}

func provisioner(rc config.RunConfiguration, templates template.Set, cluster infra.Cluster, kubeContext string, logger *zap.Logger) (domain.Infrastructure, error) {
	values, err := templates.ChartValues(rc.Jenkins.User, rc.Exposure())
	if err != nil {
		return nil, err
	}
	installer := helm.NewInstaller(rc.Namespace, rc.Kubeconfig, kubeContext, logger.Named("helm"))
	connect := func() (*kube.Client, error) {
		return kube.NewFromKubeconfig(rc.Kubeconfig, kubeContext, rc.Namespace)
	}
	return infra.NewProvisioner(cluster, installer, connect, infra.Options{
		ReleaseName:        rc.Jenkins.ReleaseName,
		Chart:              helm.Chart{RepoURL: rc.Jenkins.ChartRepo, Name: rc.Jenkins.Chart, Version: rc.Jenkins.ChartVersion},
		ChartValues:        values,
		ControllerSelector: rc.Jenkins.ControllerLabel,
	}, logger.Named("infra")), nil
}

// connectJenkins opens a Jenkins client that re-reads the admin password when the
// server rejects it.
func connectJenkins(endpoint string, creds auth.Credentials, refresh func(context.Context) (string, error)) domain.CIServer {
	a := jenkins.NewAdapter(endpoint, creds.User, creds.Password)
	return provider.NewRefreshingCI(a, "jenkins", refresh, a.SetPassword)
}
