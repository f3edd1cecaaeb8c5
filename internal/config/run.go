package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/git"
)

// Defaults applied when neither the file, the environment nor a flag sets a value.
const (
	DefaultNamespace       = "blue-green-demo"
	DefaultJobName         = "blue-green-pipeline"
	DefaultBranch          = "main"
	DefaultRegion          = "us-east-1"
	DefaultMinikubeProfile = "minikube"
	DefaultReleaseName     = "jenkins"
	DefaultChartRepo       = "https://charts.jenkins.io"
	DefaultChart           = "jenkins"
	DefaultAdminUser       = "admin"
	DefaultAdminSecretKey  = "jenkins-admin-password"
	DefaultControllerLabel = "app.kubernetes.io/component=jenkins-controller"
	DefaultBlueLabel       = "1.0 (BLUE)"
	DefaultGreenLabel      = "2.0 (GREEN)"
	DefaultAppFile         = "app/app.js"
	DefaultVersionVariable = "APP_VERSION"
	DefaultActiveService   = "active-service"
	DefaultEKSClusterName  = "blue-green-cluster"
)

// DefaultTimeouts suit a small single-node cluster: 7 minutes for the CI controller,
// ten 10s connection attempts, 5 minutes for a build to leave the queue.
var DefaultTimeouts = Timeouts{
	ServiceInterval: 5 * time.Second,
	ServiceTimeout:  time.Minute,
	ReadyInterval:   10 * time.Second,
	ReadyTimeout:    7 * time.Minute,
	ConnectInterval: 10 * time.Second,
	ConnectTimeout:  100 * time.Second,
	StartInterval:   5 * time.Second,
	StartTimeout:    5 * time.Minute,
	BuildInterval:   10 * time.Second,
}

// Timeouts are the resolved waits of a run.
type Timeouts struct {
	ServiceInterval time.Duration
	ServiceTimeout  time.Duration
	ReadyInterval   time.Duration
	ReadyTimeout    time.Duration
	ConnectInterval time.Duration
	ConnectTimeout  time.Duration
	StartInterval   time.Duration
	StartTimeout    time.Duration
	BuildInterval   time.Duration
}

// Flags are the command-line values. Empty strings mean "not given"; they never
// override the file or the environment.
type Flags struct {
	GitRepoURL   string
	GitBranch    string
	SkipSetup    bool
	CleanupOnly  bool
	Infra        string
	AWSAccountID string
	AWSRegion    string
	Namespace    string
	JobName      string
	Workdir      string
	AutoApprove  bool
}

// Minikube tunes the local cluster.
type Minikube struct {
	Profile string
	Memory  string
	CPUs    int
}

// Jenkins is the resolved CI server configuration.
type Jenkins struct {
	URL              string
	User             string
	Password         string
	ReleaseName      string
	ChartRepo        string
	Chart            string
	ChartVersion     string
	AdminSecretKey   string
	ControllerLabel  string
	TemplateDir      string
	InputPolicy      string
	InferLostTickets bool
}

// Release is the resolved application release configuration.
type Release struct {
	BlueLabel       string
	GreenLabel      string
	AppFile         string
	VersionVariable string
	ActiveService   string
	AutoPush        bool
	PushRemote      string
	Author          git.Signature
	VerifyActive    bool
}

// RunConfiguration is built once at startup and is read-only afterwards.
type RunConfiguration struct {
	Namespace   string
	JobName     string
	Repo        domain.Repository
	Region      string
	SkipSetup   bool
	CleanupOnly bool
	AutoApprove bool
	Infra       string
	AccountID   string
	ClusterName string
	Kubeconfig  string
	KubeContext string
	Workdir     string
	Minikube    Minikube
	Jenkins     Jenkins
	Release     Release
	Timeouts    Timeouts
}

// Resolve layers flags over the file configuration (which already carries the
// environment overrides), fills defaults and validates the result.
func Resolve(cfg Config, flags Flags) (RunConfiguration, error) {
	rc := RunConfiguration{
		Namespace:   first(flags.Namespace, cfg.Cluster.Namespace, DefaultNamespace),
		JobName:     first(flags.JobName, cfg.Jenkins.JobName, DefaultJobName),
		Region:      first(flags.AWSRegion, cfg.Cluster.AWSRegion, DefaultRegion),
		SkipSetup:   flags.SkipSetup,
		CleanupOnly: flags.CleanupOnly,
		AutoApprove: flags.AutoApprove,
		Infra:       first(flags.Infra, cfg.Cluster.Infra, InfraMinikube),
		AccountID:   first(flags.AWSAccountID, cfg.Cluster.AWSAccountID),
		ClusterName: first(cfg.Cluster.EKSClusterName, DefaultEKSClusterName),
		Kubeconfig:  cfg.Cluster.Kubeconfig,
		KubeContext: cfg.Cluster.KubeContext,
		Minikube: Minikube{
			Profile: first(cfg.Cluster.MinikubeProfile, DefaultMinikubeProfile),
			Memory:  first(cfg.Cluster.MinikubeMemory, "4096"),
			CPUs:    cfg.Cluster.MinikubeCPUs,
		},
		Jenkins: Jenkins{
			URL:              cfg.Jenkins.URL,
			User:             first(cfg.Jenkins.User, DefaultAdminUser),
			Password:         cfg.Jenkins.Password,
			ReleaseName:      first(cfg.Jenkins.ReleaseName, DefaultReleaseName),
			ChartRepo:        first(cfg.Jenkins.ChartRepo, DefaultChartRepo),
			Chart:            first(cfg.Jenkins.Chart, DefaultChart),
			ChartVersion:     cfg.Jenkins.ChartVersion,
			AdminSecretKey:   first(cfg.Jenkins.AdminSecretKey, DefaultAdminSecretKey),
			ControllerLabel:  first(cfg.Jenkins.ControllerLabel, DefaultControllerLabel),
			TemplateDir:      cfg.Jenkins.TemplateDir,
			InputPolicy:      first(cfg.Jenkins.InputPolicy, InputProceed),
			InferLostTickets: cfg.Jenkins.InferLostTickets == nil || *cfg.Jenkins.InferLostTickets,
		},
		Release: Release{
			BlueLabel:       first(cfg.Release.BlueLabel, DefaultBlueLabel),
			GreenLabel:      first(cfg.Release.GreenLabel, DefaultGreenLabel),
			AppFile:         first(cfg.Release.AppFile, DefaultAppFile),
			VersionVariable: first(cfg.Release.VersionVariable, DefaultVersionVariable),
			ActiveService:   first(cfg.Release.ActiveService, DefaultActiveService),
			AutoPush:        cfg.Release.AutoPush,
			PushRemote:      first(cfg.Release.PushRemote, "origin"),
			Author: git.Signature{
				Name:  first(cfg.Release.AuthorName, "bgrelease"),
				Email: first(cfg.Release.AuthorEmail, "bgrelease@localhost"),
			},
			VerifyActive: cfg.Release.VerifyActive == nil || *cfg.Release.VerifyActive,
		},
		Timeouts: resolveTimeouts(cfg.Timeouts),
	}
	if rc.Minikube.CPUs == 0 {
		rc.Minikube.CPUs = 2
	}

	workdir, err := filepath.Abs(first(flags.Workdir, "."))
	if err != nil {
		return RunConfiguration{}, fmt.Errorf("resolving working directory: %w", err)
	}
	rc.Workdir = workdir
	if !filepath.IsAbs(rc.Release.AppFile) {
		rc.Release.AppFile = filepath.Join(workdir, rc.Release.AppFile)
	}
	if rc.Jenkins.TemplateDir != "" && !filepath.IsAbs(rc.Jenkins.TemplateDir) {
		rc.Jenkins.TemplateDir = filepath.Join(workdir, rc.Jenkins.TemplateDir)
	}

	branch := first(flags.GitBranch, DefaultBranch)
	if flags.GitRepoURL != "" {
		repo, err := git.ParseRemoteURL(flags.GitRepoURL)
		if err != nil {
			return RunConfiguration{}, err
		}
		repo.Branch = branch
		rc.Repo = repo
	} else {
		rc.Repo = domain.Repository{Branch: branch}
	}

	if err := rc.Validate(); err != nil {
		return RunConfiguration{}, err
	}
	return rc, nil
}

// Exposure is how the CI service is reached from outside the cluster: through a node
// port locally, through a load balancer on EKS.
func (rc RunConfiguration) Exposure() domain.ExposureMode {
	if rc.Infra == InfraEKS {
		return domain.ExposureLoadBalancer
	}
	return domain.ExposureNodePort
}

func resolveTimeouts(f TimeoutsConfig) Timeouts {
	t := DefaultTimeouts
	set := func(dst *time.Duration, v Duration) {
		if v.Duration > 0 {
			*dst = v.Duration
		}
	}
	set(&t.ServiceInterval, f.ServiceInterval)
	set(&t.ServiceTimeout, f.ServiceTimeout)
	set(&t.ReadyInterval, f.ReadyInterval)
	set(&t.ReadyTimeout, f.ReadyTimeout)
	set(&t.ConnectInterval, f.ConnectInterval)
	set(&t.ConnectTimeout, f.ConnectTimeout)
	set(&t.StartInterval, f.StartInterval)
	set(&t.StartTimeout, f.StartTimeout)
	set(&t.BuildInterval, f.BuildInterval)
	return t
}

var accountID = regexp.MustCompile(`^[0-9]{12}$`)

// Validate reports every problem at once.
func (rc RunConfiguration) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !rc.CleanupOnly && rc.Repo.URL == "" {
		bad("--git-repo-url is required")
	}
	if rc.CleanupOnly && rc.SkipSetup {
		bad("--cleanup-only and --skip-setup are mutually exclusive")
	}
	switch rc.Infra {
	case InfraMinikube:
	case InfraEKS:
		if !accountID.MatchString(rc.AccountID) {
			bad("--aws-account-id must be a 12-digit AWS account id, got %q", rc.AccountID)
		}
	default:
		bad("unknown infrastructure %q (want %s or %s)", rc.Infra, InfraMinikube, InfraEKS)
	}
	switch rc.Jenkins.InputPolicy {
	case InputProceed, InputPrompt, InputAbort:
	default:
		bad("jenkins.input_policy must be %s, %s or %s, got %q", InputProceed, InputPrompt, InputAbort, rc.Jenkins.InputPolicy)
	}
	if rc.Release.BlueLabel == rc.Release.GreenLabel {
		bad("release.blue_label and release.green_label must differ")
	}

	t := rc.Timeouts
	for _, p := range []struct {
		name              string
		interval, timeout time.Duration
	}{
		{"service", t.ServiceInterval, t.ServiceTimeout},
		{"ready", t.ReadyInterval, t.ReadyTimeout},
		{"connect", t.ConnectInterval, t.ConnectTimeout},
		{"start", t.StartInterval, t.StartTimeout},
	} {
		if p.timeout < p.interval {
			bad("timeouts.%s_timeout (%s) is shorter than timeouts.%s_interval (%s)", p.name, p.timeout, p.name, p.interval)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
