// Package infra assembles the cluster backends, the Kubernetes API and the Helm SDK
// into the domain.Infrastructure port.
package infra

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/infra/helm"
	"github.com/waabox/bgrelease/internal/infra/kube"
)

// Cluster is a cluster backend: something that can start (or verify) a cluster and
// tear down what a run created.
type Cluster interface {
	// Preflight checks tools and credentials without changing anything.
	Preflight(ctx context.Context) error
	// Start makes the cluster usable and returns facts for the handle.
	Start(ctx context.Context, region string) (map[string]string, error)
	// NodeAddress is the address NodePort services are reached on; empty lets the
	// Kubernetes API pick a node.
	NodeAddress(ctx context.Context) (string, error)
	// Teardown removes what the backend owns. removedAll reports that the whole
	// cluster is gone, so the namespace and release need no separate cleanup.
	Teardown(ctx context.Context) (removedAll bool, err error)
}

// ChartInstaller is the subset of helm.Installer used here.
type ChartInstaller interface {
	Install(ctx context.Context, release string, c helm.Chart, values map[string]interface{}) error
	Uninstall(release string) error
}

// Options describe what Provision installs.
type Options struct {
	ReleaseName string
	Chart       helm.Chart
	ChartValues map[string]interface{}
	// ControllerSelector selects the CI controller pod.
	ControllerSelector string
}

// Provisioner implements domain.Infrastructure and domain.SecretReader.
type Provisioner struct {
	cluster   Cluster
	installer ChartInstaller
	connect   func() (*kube.Client, error)
	opts      Options
	logger    *zap.Logger

	mu          sync.Mutex
	kube        *kube.Client
	nodeAddress string
}

var (
	_ domain.Infrastructure = (*Provisioner)(nil)
	_ domain.SecretReader   = (*Provisioner)(nil)
)

// NewProvisioner creates a Provisioner. connect is called on first use of the
// Kubernetes API, after the cluster has been started.
func NewProvisioner(cluster Cluster, installer ChartInstaller, connect func() (*kube.Client, error), opts Options, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{cluster: cluster, installer: installer, connect: connect, opts: opts, logger: logger}
}

func (p *Provisioner) client() (*kube.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kube != nil {
		return p.kube, nil
	}
	c, err := p.connect()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrExternalToolUnavailable)
	}
	p.kube = c
	return c, nil
}

func (p *Provisioner) Preflight(ctx context.Context) error {
	return p.cluster.Preflight(ctx)
}

// Provision starts the cluster, creates the namespace and installs the CI chart.
func (p *Provisioner) Provision(ctx context.Context, region string) (domain.InfrastructureHandle, error) {
	facts, err := p.cluster.Start(ctx, region)
	if err != nil {
		return domain.InfrastructureHandle{}, err
	}
	kc, err := p.client()
	if err != nil {
		return domain.InfrastructureHandle{}, err
	}
	if err := kc.EnsureNamespace(ctx); err != nil {
		return domain.InfrastructureHandle{}, err
	}
	if err := p.installer.Install(ctx, p.opts.ReleaseName, p.opts.Chart, p.opts.ChartValues); err != nil {
		return domain.InfrastructureHandle{}, fmt.Errorf("%w: %w", domain.ErrExternalCommandFailure, err)
	}

	handle := domain.NewInfrastructureHandle(facts).With(domain.HandleRegion, region)
	addr, err := p.node(ctx)
	if err != nil {
		return domain.InfrastructureHandle{}, err
	}
	if addr != "" {
		handle = handle.With(domain.HandleNodeAddress, addr)
	}
	p.logger.Info("infrastructure provisioned", zap.String("namespace", kc.Namespace()), zap.Strings("handle", handle.Keys()))
	return handle, nil
}

// node resolves the NodePort address once.
func (p *Provisioner) node(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.nodeAddress
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	addr, err := p.cluster.NodeAddress(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.nodeAddress = addr
	p.mu.Unlock()
	return addr, nil
}

func (p *Provisioner) CheckReady(ctx context.Context) (domain.Readiness, error) {
	kc, err := p.client()
	if err != nil {
		return domain.Readiness{}, err
	}
	return kc.PodReadiness(ctx, p.opts.ControllerSelector)
}

func (p *Provisioner) ReadServiceEndpoint(ctx context.Context, name string) (string, bool, error) {
	kc, err := p.client()
	if err != nil {
		return "", false, err
	}
	addr, err := p.node(ctx)
	if err != nil {
		return "", false, err
	}
	return kc.ServiceEndpoint(ctx, name, addr)
}

func (p *Provisioner) PatchServiceExposure(ctx context.Context, name string, mode domain.ExposureMode) error {
	kc, err := p.client()
	if err != nil {
		return err
	}
	patched, err := kc.ExposeService(ctx, name, mode)
	if err != nil {
		return err
	}
	if patched {
		p.logger.Info("service exposure changed", zap.String("service", name), zap.String("type", string(mode)))
	}
	return nil
}

func (p *Provisioner) ReadSecret(ctx context.Context, name, key string) (string, error) {
	kc, err := p.client()
	if err != nil {
		return "", err
	}
	return kc.ReadSecret(ctx, name, key)
}

// Destroy tears down what the run created. The backend goes first; when it did not
// remove the whole cluster the release and namespace are deleted through the APIs.
func (p *Provisioner) Destroy(ctx context.Context) error {
	removedAll, err := p.cluster.Teardown(ctx)
	if err != nil || removedAll {
		return err
	}
	if err := p.installer.Uninstall(p.opts.ReleaseName); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExternalCommandFailure, err)
	}
	kc, err := p.client()
	if err != nil {
		return err
	}
	return kc.DeleteNamespace(ctx)
}
